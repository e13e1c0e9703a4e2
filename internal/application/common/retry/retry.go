// Package retry runs operations with capped exponential backoff, consulting
// the failure classifier to decide which errors deserve another attempt.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/domain/failure"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"   mapstructure:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay"  mapstructure:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"      mapstructure:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" mapstructure:"backoff_factor"`
	Jitter        bool          `json:"jitter"         mapstructure:"jitter"`
}

// DefaultRetryConfig returns three attempts waiting 1s then 2s.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      4 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryableChecker decides whether an error is worth another attempt.
type RetryableChecker interface {
	IsRetryable(err error) bool
}

// RetryExecutor retries an operation according to a RetryConfig.
type RetryExecutor struct {
	config    RetryConfig
	checker   RetryableChecker
	operation string
}

// NewRetryExecutor returns an executor that retries what failure.Checker
// classifies as transient.
func NewRetryExecutor(config *RetryConfig) *RetryExecutor {
	return NewRetryExecutorWithChecker(config, nil)
}

// NewRetryExecutorWithChecker returns an executor using checker.
func NewRetryExecutorWithChecker(config *RetryConfig, checker RetryableChecker) *RetryExecutor {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if checker == nil {
		checker = failure.Checker{}
	}
	cfg := *config
	cfg.MaxAttempts = max(cfg.MaxAttempts, 1)
	return &RetryExecutor{config: cfg, checker: checker}
}

// Named returns a copy whose log lines carry the operation name.
func (r *RetryExecutor) Named(operation string) *RetryExecutor {
	cp := *r
	cp.operation = operation
	return &cp
}

// Execute calls fn until it succeeds, returns an error the checker rejects,
// or the attempts run out. Running out yields a retries-exceeded failure
// that wraps the last error.
func (r *RetryExecutor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			if attempt > 1 {
				slogger.Info(ctx, "Operation succeeded after retry", r.fields(attempt, nil))
			}
			return nil
		}
		if ctx.Err() != nil || !r.checker.IsRetryable(err) {
			return err
		}
		if attempt == r.config.MaxAttempts {
			return failure.NewRetriesExceededError(r.config.MaxAttempts, err)
		}

		delay := r.CalculateDelay(attempt)
		fields := r.fields(attempt, err)
		fields["delay_ms"] = delay.Milliseconds()
		slogger.Warn(ctx, "Operation failed, retrying", fields)

		if waitErr := sleep(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
}

func (r *RetryExecutor) fields(attempt int, err error) slogger.Fields {
	fields := slogger.Fields{
		"operation":    r.operation,
		"attempt":      attempt,
		"max_attempts": r.config.MaxAttempts,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	return fields
}

// CalculateDelay returns the wait after failed attempt n, counting from 1.
func (r *RetryExecutor) CalculateDelay(n int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(n-1))
	if limit := float64(r.config.MaxDelay); limit > 0 {
		delay = math.Min(delay, limit)
	}
	if r.config.Jitter {
		// +/-25%
		delay *= 0.75 + rand.Float64()*0.5
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
