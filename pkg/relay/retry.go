package relay

import (
	"context"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds ConnectWithRetry.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval,omitempty"`
	MaxInterval     time.Duration `yaml:"max_interval,omitempty"`
	Multiplier      float64       `yaml:"multiplier,omitempty"`
	// MaxAttempts counts dial attempts, including the first. Zero means
	// retry until ctx ends.
	MaxAttempts int `yaml:"max_attempts,omitempty"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		MaxAttempts:     10,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		exponential.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		exponential.MaxInterval = c.MaxInterval
	}
	if c.Multiplier >= 1 {
		exponential.Multiplier = c.Multiplier
	}
	exponential.MaxElapsedTime = 0
	exponential.Reset()

	var policy backoff.BackOff = exponential
	if c.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(c.MaxAttempts-1))
	}
	return backoff.WithContext(policy, ctx)
}

// ConnectWithRetry calls Connect with exponential backoff until it
// succeeds, the attempts run out, or ctx ends. Only connection failures are
// retried.
func (r *Relay) ConnectWithRetry(ctx context.Context, key, address string, sink chan<- string, retry RetryConfig) (*Channel, error) {
	var (
		channel  *Channel
		attempts int
	)

	operation := func() error {
		attempts++
		c, err := r.Connect(ctx, key, address, sink)
		if err != nil {
			if !errors.IsConnectionError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		channel = c
		return nil
	}

	notify := func(err error, next time.Duration) {
		r.logger.Warnf("Relay connect attempt %d failed, key: %s, retrying in %v: %v", attempts, key, next, err)
	}

	if err := backoff.RetryNotify(operation, retry.backOff(ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelledError("relay connect cancelled", ctx.Err()).
				WithContext("key", key).
				WithContext("attempts", attempts)
		}
		if !errors.IsConnectionError(err) {
			return nil, err
		}
		return nil, errors.NewConnectionError("giving up on relay connect", err).
			WithContext("key", key).
			WithContext("address", address).
			WithContext("attempts", attempts)
	}
	return channel, nil
}
