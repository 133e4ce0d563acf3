package queues

import (
	"errors"
	"time"

	lexerrors "github.com/casemark/lexext-cli/pkg/errors"
)

// RetryPolicy defines retry behavior for failed extraction messages.
type RetryPolicy struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	BackoffFactor   float64       `yaml:"backoff_factor"`
	RetryableErrors []string      `yaml:"retryable_errors"`
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Minute,
		BackoffFactor:  2.0,
		RetryableErrors: []string{
			lexerrors.ErrorCodeTimeout,
			lexerrors.ErrorCodeRateLimited,
			lexerrors.ErrorCodeServiceUnavailable,
		},
	}
}

// CalculateBackoff calculates the backoff duration for a given retry attempt.
func (p RetryPolicy) CalculateBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialBackoff
	}

	backoff := p.InitialBackoff
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		if backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

// ShouldRetry determines if an error should trigger a retry.
func (p RetryPolicy) ShouldRetry(err error, retryCount int) bool {
	if retryCount >= p.MaxRetries {
		return false
	}

	var procErr *lexerrors.ProcessingError
	if errors.As(err, &procErr) {
		if procErr.IsRetryable() {
			return true
		}
		for _, code := range p.RetryableErrors {
			if procErr.Code == code {
				return true
			}
		}
	}

	return false
}

// RetryDecision represents the decision about whether to retry.
type RetryDecision struct {
	ShouldRetry     bool
	BackoffDuration time.Duration
	Reason          string
}

// DecideRetry makes a retry decision based on the error and retry count.
func (p RetryPolicy) DecideRetry(err error, retryCount int) RetryDecision {
	if retryCount >= p.MaxRetries {
		return RetryDecision{
			ShouldRetry: false,
			Reason:      "max retries exceeded",
		}
	}

	var procErr *lexerrors.ProcessingError
	if errors.As(err, &procErr) && !procErr.IsRetryable() {
		return RetryDecision{
			ShouldRetry: false,
			Reason:      "permanent error: " + procErr.Code,
		}
	}

	return RetryDecision{
		ShouldRetry:     true,
		BackoffDuration: p.CalculateBackoff(retryCount),
		Reason:          "retryable error",
	}
}
