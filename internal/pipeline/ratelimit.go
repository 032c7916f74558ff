package pipeline

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitConfig caps delivery throughput. A zero rate disables limiting.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"perSecond"`
	Burst     int     `yaml:"burst,omitempty"`
}

// Limiter is a token bucket in front of the sink. A nil Limiter never waits.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter returns nil when cfg disables limiting.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.PerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(int(cfg.PerSecond), 1)
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(cfg.PerSecond), burst)}
}

// Wait blocks until an event may be delivered or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}
