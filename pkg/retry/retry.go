// Package retry retries disk cache operations that fail transiently
package retry

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/wowfontmanager/fontcache/pkg/errors"
)

// Config defines retry behavior
type Config struct {
	// MaxAttempts counts the initial attempt
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Jitter adds up to ±20% randomness to each delay
	Jitter bool

	// RetryableErrors lists the error codes that trigger a retry. Codes are
	// matched anywhere in the wrap chain.
	RetryableErrors []errors.ErrorCode
}

// DefaultConfig returns the configuration used for disk tier writes. A
// replacement can fail briefly while another process holds the target
// file open, so storage writes are retried a few times in quick succession.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialDelay:    10 * time.Millisecond,
		MaxDelay:        250 * time.Millisecond,
		Multiplier:      2.0,
		Jitter:          true,
		RetryableErrors: []errors.ErrorCode{errors.ErrCodeStorageWrite},
	}
}

// Retryer runs operations with exponential backoff
type Retryer struct {
	config Config
}

// New creates a Retryer. Zero values fall back to DefaultConfig.
func New(config Config) *Retryer {
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = defaults.Multiplier
	}

	return &Retryer{config: config}
}

// Do runs fn until it succeeds, fails with an error that is not retryable,
// or runs out of attempts. Non-retryable errors are returned unchanged.
func (r *Retryer) Do(fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !r.retryable(err) {
			return err
		}
		lastErr = err

		if attempt < r.config.MaxAttempts {
			time.Sleep(r.calculateDelay(attempt))
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

func (r *Retryer) retryable(err error) bool {
	for _, code := range r.config.RetryableErrors {
		if errors.HasCode(err, code) {
			return true
		}
	}
	return false
}

// calculateDelay returns InitialDelay * Multiplier^(attempt-1), capped at MaxDelay
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}

	return time.Duration(delay)
}
