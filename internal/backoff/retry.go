package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds a retry sequence to a fixed number of attempts.
type RetryConfig struct {
	MaxAttempts int `yaml:"maxAttempts"`
	Config      `yaml:",inline"`
}

// DefaultRetryConfig returns the defaults used by sinks that retry deliveries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Config: Config{
			InitialInterval:     200 * time.Millisecond,
			MaxInterval:         30 * time.Second,
			Multiplier:          2,
			RandomizationFactor: 0.2,
		},
	}
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks an error as permanent (non-retryable).
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent returns true if the error is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Do executes fn with retry logic. It stops retrying when:
// - fn returns nil (success)
// - fn returns a PermanentError
// - MaxAttempts is exhausted
// - ctx is cancelled
//
// notify, when non-nil, is called before each wait with the failure and the delay.
func Do(ctx context.Context, cfg RetryConfig, fn func() error, notify func(error, time.Duration)) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(New(cfg.Config), uint64(cfg.MaxAttempts-1)), ctx)

	op := func() error {
		err := fn()
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, b, notify)
}
