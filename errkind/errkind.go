// Package errkind defines the typed error kinds used uniformly across the
// core instead of exception-based control flow: every error carries a
// stable code, a timestamp, and wraps its underlying cause.
package errkind

import (
	"fmt"
	"time"
)

// Kind names one of the six error domains.
type Kind string

const (
	KindTrading       Kind = "TRADING_ERROR"
	KindExchangeAPI    Kind = "EXCHANGE_API_ERROR"
	KindDatabase       Kind = "DATABASE_ERROR"
	KindConfiguration  Kind = "CONFIGURATION_ERROR"
	KindSecurity       Kind = "SECURITY_ERROR"
	KindMonitoring     Kind = "MONITORING_ERROR"
)

// Error is the common shape every typed error in this module satisfies.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Timestamp time.Time
	Err       error

	// StatusCode is set for ExchangeApiError.
	StatusCode int
	// Query is set for DatabaseError.
	Query string
	// Field is set for ConfigurationError.
	Field string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, code, msg string, now time.Time, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Timestamp: now, Err: err}
}

// Trading wraps a business-rule failure fatal to the current attempt only.
func Trading(now time.Time, code, msg string, err error) *Error {
	return newErr(KindTrading, code, msg, now, err)
}

// ExchangeAPI wraps a non-2xx or transport failure from the exchange client.
func ExchangeAPI(now time.Time, code, msg string, statusCode int, err error) *Error {
	e := newErr(KindExchangeAPI, code, msg, now, err)
	e.StatusCode = statusCode
	return e
}

// Database wraps a persistence failure.
func Database(now time.Time, code, msg, query string, err error) *Error {
	e := newErr(KindDatabase, code, msg, now, err)
	e.Query = query
	return e
}

// Configuration wraps an invalid or missing configuration value.
func Configuration(now time.Time, code, msg, field string, err error) *Error {
	e := newErr(KindConfiguration, code, msg, now, err)
	e.Field = field
	return e
}

// Security wraps a credential or signing failure.
func Security(now time.Time, code, msg string, err error) *Error {
	return newErr(KindSecurity, code, msg, now, err)
}

// Monitoring wraps a failure in the observability path itself.
func Monitoring(now time.Time, code, msg string, err error) *Error {
	return newErr(KindMonitoring, code, msg, now, err)
}

// Well-known stable codes referenced by spec.
const (
	CodeSignalStale       = "SIGNAL_STALE"
	CodeRateLimitError    = "RATE_LIMIT_ERROR"
	CodeCircuitOpen       = "CIRCUIT_BREAKER_OPEN"
	CodeCloudflareBlock   = "CLOUDFLARE_BLOCK"
	CodeDuplicateAttempt  = "DUPLICATE_ATTEMPT"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeRiskRejected      = "RISK_REJECTED"
	CodeNoOpenPosition    = "NO_OPEN_POSITION"
)
