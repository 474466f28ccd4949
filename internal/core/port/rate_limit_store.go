package port

import (
	"context"
	"time"
)

// RateLimitDecision reports the state of a sliding window after a reservation attempt.
type RateLimitDecision struct {
	Allowed bool
	Count   int
	// Oldest is the earliest attempt still inside the window; zero when the window is empty.
	Oldest time.Time
}

// RateLimitStore enforces sliding-window limits atomically.
type RateLimitStore interface {
	// Reserve trims expired attempts and records at when fewer than limit attempts remain in the window.
	Reserve(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (RateLimitDecision, error)
}
