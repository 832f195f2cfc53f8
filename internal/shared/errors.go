package shared

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrNoCredential     = fmt.Errorf("no credential stored")
	ErrNoRefreshToken   = fmt.Errorf("no refresh token available")
	ErrSessionExpired   = fmt.Errorf("session expired")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Provider outcome taxonomy
	ErrUnauthorized     = fmt.Errorf("unauthorized")
	ErrRateLimited      = fmt.Errorf("rate limited")
	ErrTransient        = fmt.Errorf("transient failure")
	ErrFatal            = fmt.Errorf("fatal failure")
	ErrRefreshExhausted = fmt.Errorf("token refresh exhausted")

	// Service errors
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// DefaultRetryAfter is used when a 429 response carries no usable Retry-After header.
const DefaultRetryAfter = time.Second

// ProviderError is the classified outcome of a single call to an external provider.
//
// Kind is one of [ErrUnauthorized], [ErrRateLimited], [ErrTransient] or [ErrFatal].
// RetryAfter is only meaningful for [ErrRateLimited].
type ProviderError struct {
	Kind       error
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is the error's Kind so that errors.Is(err, ErrRateLimited) works.
func (e *ProviderError) Is(target error) bool {
	return e.Kind == target
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Classify maps an HTTP outcome onto the provider error taxonomy.
//
// A nil return means the response was a success (2xx) and err was nil.
func Classify(status int, header http.Header, err error) error {
	if err != nil && status == 0 {
		return &ProviderError{Kind: ErrTransient, Err: err}
	}

	switch {
	case status >= 200 && status < 300:
		if err != nil {
			return &ProviderError{Kind: ErrFatal, Status: status, Err: err}
		}
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ProviderError{Kind: ErrUnauthorized, Status: status, Err: err}
	case status == http.StatusTooManyRequests:
		return &ProviderError{Kind: ErrRateLimited, Status: status, RetryAfter: ParseRetryAfter(header), Err: err}
	case status == http.StatusRequestTimeout || status >= 500:
		return &ProviderError{Kind: ErrTransient, Status: status, Err: err}
	default:
		return &ProviderError{Kind: ErrFatal, Status: status, Err: err}
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
//
// Missing or malformed values fall back to [DefaultRetryAfter].
func ParseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return DefaultRetryAfter
	}
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return DefaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return DefaultRetryAfter
}

// RetryAfterOf extracts the provider's advertised wait from err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && errors.Is(pe.Kind, ErrRateLimited) {
		if pe.RetryAfter <= 0 {
			return DefaultRetryAfter, true
		}
		return pe.RetryAfter, true
	}
	return 0, false
}
