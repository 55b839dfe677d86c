// Package retry implements the exponential-backoff-with-jitter policy from
// spec §4.7 on top of github.com/jpillora/backoff, promoted here from an
// indirect teacher dependency to the component it was always shaped for.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jpillora/backoff"

	"mexcsniper/errkind"
)

// Policy carries the spec §4.7 tunables.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	JitterFrac float64

	// AllowCodes lists additional exchange error codes treated as
	// retryable beyond network errors, 429, and 5xx.
	AllowCodes map[string]struct{}
}

// DefaultPolicy matches spec §4.7's literal values.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Base:       1000 * time.Millisecond,
		Multiplier: 2,
		Max:        30 * time.Second,
		JitterFrac: 0.5,
	}
}

// Classifier reports whether err is retryable: network errors, HTTP 429,
// HTTP 5xx, and the policy's code allow-list. Validation, auth, and
// business-rule errors are not retryable.
func Classifier(p Policy) func(err error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		var ke *errkind.Error
		if errors.As(err, &ke) {
			if ke.Kind == errkind.KindExchangeAPI {
				if ke.StatusCode == 429 || (ke.StatusCode >= 500 && ke.StatusCode < 600) {
					return true
				}
				if _, ok := p.AllowCodes[ke.Code]; ok {
					return true
				}
				return false
			}
			// Validation / configuration / security errors are never
			// retried: they will fail identically on the next attempt.
			return false
		}
		// Unclassified errors (network, DNS, connection reset) are
		// treated as transient.
		return true
	}
}

// Do runs fn, retrying per p when the classifier reports the error is
// retryable, up to p.MaxRetries additional attempts. It stops immediately
// on ctx cancellation or a non-retryable error.
func Do(ctx context.Context, p Policy, isRetryable func(error) bool, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    p.Base,
		Max:    p.Max,
		Factor: p.Multiplier,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxRetries {
			break
		}
		delay := jitter(b.Duration(), p.JitterFrac)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

// jitter applies +/-frac multiplicative jitter on top of backoff's own
// jitter, matching spec §4.7's "multiplicative jitter, +/-50%" wording.
func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * frac
	return time.Duration(float64(d) * (1 + delta))
}
