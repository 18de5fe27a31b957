package odm

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig controls how the network transports retry failed requests.
type RetryConfig struct {
	// MaxAttempts counts the first attempt. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay before the first retry. Default: 100ms.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the delay between retries. Default: 5s.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffMultiplier grows the delay after each retry. Default: 2.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// Jitter is a fraction in [0, 1]; 0.1 means ±10%.
	Jitter float64 `yaml:"jitter"`

	// RetryIf decides whether an error is retried. Nil uses IsRetryable.
	RetryIf func(error) bool `yaml:"-"`
}

// DefaultRetryConfig returns the retry settings used by DefaultConfig.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Retryer runs an operation until it succeeds, fails permanently, or runs
// out of attempts.
type Retryer struct {
	config RetryConfig
	// onRetry is called before each backoff sleep.
	onRetry func(attempt int, err error, wait time.Duration)
}

// NewRetryer fills unset fields with defaults.
func NewRetryer(config RetryConfig) *Retryer {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = def.Jitter
	}
	if config.RetryIf == nil {
		config.RetryIf = IsRetryable
	}
	return &Retryer{config: config}
}

// RetryResult reports how a retried operation ended.
type RetryResult struct {
	Attempts int
	LastErr  error
}

// Do runs op with retries.
func (r *Retryer) Do(ctx context.Context, op func() error) RetryResult {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return RetryResult{Attempts: attempt}
		}
		if !r.config.RetryIf(lastErr) || attempt == r.config.MaxAttempts {
			return RetryResult{Attempts: attempt, LastErr: lastErr}
		}

		wait := r.addJitter(backoff)
		if r.onRetry != nil {
			r.onRetry(attempt, lastErr, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return RetryResult{Attempts: attempt, LastErr: ctx.Err()}
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * r.config.BackoffMultiplier)
		if backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}
	return RetryResult{Attempts: r.config.MaxAttempts, LastErr: lastErr}
}

func (r *Retryer) addJitter(d time.Duration) time.Duration {
	if r.config.Jitter == 0 {
		return d
	}
	span := float64(d) * r.config.Jitter
	return time.Duration(float64(d) + (rand.Float64()*2-1)*span)
}

// IsRetryable reports whether err is a transient transport failure.
// Cancellation and deadline errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}
