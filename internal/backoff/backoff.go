// Package backoff computes retry delays for operations that fail repeatedly.
package backoff

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds backoff configuration.
type Config struct {
	InitialInterval     time.Duration `yaml:"initialInterval"`
	MaxInterval         time.Duration `yaml:"maxInterval"`
	Multiplier          float64       `yaml:"multiplier"`
	RandomizationFactor float64       `yaml:"jitter"` // ±fraction (e.g., 0.5 = ±50%)
}

// DefaultConfig returns the reconnect defaults: 500ms growing by 1.5x up to 30s, no jitter.
func DefaultConfig() Config {
	return Config{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0,
	}
}

// withDefaults replaces unusable values with the defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.RandomizationFactor < 0 || c.RandomizationFactor >= 1 {
		c.RandomizationFactor = def.RandomizationFactor
	}
	return c
}

// Policy is an exponential backoff that never gives up. Each retry
// sequence owns its own Policy; it is not safe for concurrent use.
//
// Policy implements backoff.BackOff so it can drive the cenkalti
// retry helpers directly.
type Policy struct {
	exp      *backoff.ExponentialBackOff
	max      time.Duration
	attempts int
}

var _ backoff.BackOff = (*Policy)(nil)

// New returns a Policy for the given configuration.
func New(cfg Config) *Policy {
	cfg = cfg.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialInterval
	exp.MaxInterval = cfg.MaxInterval
	exp.Multiplier = cfg.Multiplier
	exp.RandomizationFactor = cfg.RandomizationFactor
	exp.MaxElapsedTime = 0
	exp.Reset()

	return &Policy{exp: exp, max: cfg.MaxInterval}
}

// NextBackOff records a failed attempt and returns the delay to wait
// before the next one. The delay never exceeds the configured maximum,
// jitter included, and is never backoff.Stop.
func (p *Policy) NextBackOff() time.Duration {
	p.attempts++
	d := p.exp.NextBackOff()
	if d == backoff.Stop || d > p.max {
		d = p.max
	}
	return d
}

// Reset restarts the sequence from the initial interval.
func (p *Policy) Reset() {
	p.attempts = 0
	p.exp.Reset()
}

// Elapsed returns the time since the sequence was started or last reset.
func (p *Policy) Elapsed() time.Duration {
	return p.exp.GetElapsedTime()
}

// Attempts returns the number of failed attempts since the last reset.
func (p *Policy) Attempts() int {
	return p.attempts
}
