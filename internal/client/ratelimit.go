package client

import (
	"context"
	"time"
)

// RateLimiter enforces a sliding-window request budget, sized for the
// football-data.org free tier of 10 calls per minute.
type RateLimiter struct {
	maxCalls int
	window   time.Duration
	calls    []time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(maxCalls int, window time.Duration) *RateLimiter {
	if maxCalls <= 0 {
		maxCalls = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until a call slot is free and returns how long it waited.
// Not safe for concurrent use; the ingest loop is sequential.
func (l *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	now := l.now()
	l.evict(now)

	var waited time.Duration
	if len(l.calls) >= l.maxCalls {
		waited = l.window - now.Sub(l.calls[0])
		if waited > 0 {
			if err := l.sleep(ctx, waited); err != nil {
				return 0, err
			}
		} else {
			waited = 0
		}
		l.evict(l.now())
	}

	l.calls = append(l.calls, l.now())
	return waited, nil
}

func (l *RateLimiter) evict(now time.Time) {
	cut := 0
	for cut < len(l.calls) && now.Sub(l.calls[cut]) > l.window {
		cut++
	}
	l.calls = l.calls[cut:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
