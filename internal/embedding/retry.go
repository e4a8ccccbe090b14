package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ProviderError is an error from the embedding or LLM backend. Callers that
// need it must degrade to an empty result rather than aborting the hosting
// conversation turn.
type ProviderError struct {
	StatusCode int
	Message    string
	transient  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider: status %d: %s", e.StatusCode, e.Message)
	}
	return "provider: " + e.Message
}

// retryablePattern matches error text from gateways and rate limiters that
// is worth retrying even without a usable status code.
var retryablePattern = regexp.MustCompile(`(?i)rate.?limit|too many requests|timeout|timed out|temporarily|bad gateway|gateway timeout|service unavailable|connection (reset|refused)`)

// IsRetryable reports whether an error belongs to the retryable class:
// rate limits, 5xx responses, timeouts, and gateway failures. Anything else
// fails immediately.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.transient {
			return true
		}
		switch {
		case pe.StatusCode == http.StatusTooManyRequests:
			return true
		case pe.StatusCode >= 500 && pe.StatusCode < 600:
			return true
		}
		return retryablePattern.MatchString(pe.Message)
	}
	return retryablePattern.MatchString(err.Error())
}

// withRetry wraps fn in exponential backoff with ±30% jitter. Only
// retryable errors are retried; attempts are bounded and backoff delays
// respect context cancellation.
func withRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.RandomizationFactor = 0.3
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	attempts := uint64(0)
	if maxAttempts > 1 {
		attempts = uint64(maxAttempts - 1)
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, attempts), ctx))
}
