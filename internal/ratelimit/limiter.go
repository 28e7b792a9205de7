package ratelimit

import "context"

// RateLimiter controls throughput per scope. Workers use a per-channel
// scope ("email", "webhook"); the admission middleware uses a
// per-customer scope ("customer:<id>").
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
