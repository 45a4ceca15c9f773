package config

import "fmt"

// Bundle carries the parsed config documents one pipeline invocation works
// with. Components receive a Bundle value instead of reading files or
// process-global state, so per-iteration overrides are visible only to code
// holding the overridden bundle.
type Bundle struct {
	StgMutations   *MutationDoc
	DdsMutations   *MutationDoc
	StgValidations *ValidationDoc
	DdsValidations *ValidationDoc
}

// Scope is a stack of bundles. Experiments push an overridden bundle before
// an iteration and pop it afterwards; Current always reflects the innermost
// override. Scope is not safe for concurrent use.
type Scope struct {
	stack []Bundle
}

func NewScope(base Bundle) *Scope {
	return &Scope{stack: []Bundle{base}}
}

// Current returns the innermost bundle.
func (s *Scope) Current() Bundle {
	return s.stack[len(s.stack)-1]
}

// Push derives a new innermost bundle from the current one. Mutators operate
// on a shallow copy; document overrides must replace pointers (the docs
// themselves are immutable once parsed).
func (s *Scope) Push(mutate func(*Bundle)) {
	next := s.Current()
	if mutate != nil {
		mutate(&next)
	}
	s.stack = append(s.stack, next)
}

// Pop discards the innermost bundle. Popping the base bundle is a
// programming error.
func (s *Scope) Pop() error {
	if len(s.stack) <= 1 {
		return fmt.Errorf("config scope underflow")
	}
	s.stack = s.stack[:len(s.stack)-1]
	return nil
}

// Depth reports how many override levels are active above the base bundle.
func (s *Scope) Depth() int {
	return len(s.stack) - 1
}
