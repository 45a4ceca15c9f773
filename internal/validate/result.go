// Package validate runs in-process data quality checks against raw payloads
// and warehouse rows. Checks are registered in a typed registry keyed by
// (layer, name); the runner applies the configured severity policy and
// records every execution in the audit trail and the validation store.
package validate

import "fmt"

// Result statuses mirror the audit vocabulary: INFO is a clean pass.
const (
	StatusInfo    = "INFO"
	StatusWarning = "WARNING"
	StatusError   = "ERROR"
)

// Result collects what one check observed.
type Result struct {
	Errors   []string
	Warnings []string
	Infos    []string
}

func (r *Result) Errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) Warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) Infof(format string, args ...any) {
	r.Infos = append(r.Infos, fmt.Sprintf(format, args...))
}

// Status derives the overall result status: errors dominate warnings.
func (r *Result) Status() string {
	switch {
	case len(r.Errors) > 0:
		return StatusError
	case len(r.Warnings) > 0:
		return StatusWarning
	default:
		return StatusInfo
	}
}
