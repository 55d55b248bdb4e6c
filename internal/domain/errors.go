package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without
// leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
	ErrRateLimited  = errors.New("daily limit reached")
	ErrTooSoon      = errors.New("request interval too short")
	ErrCodeInvalid  = errors.New("verification code invalid or expired")
	ErrStore        = errors.New("store failure")
)

// TooSoonError carries the cooldown remainder so callers can surface a
// precise retry-after. It wraps ErrTooSoon for errors.Is discrimination.
type TooSoonError struct {
	RetryAfter int64 // seconds until the next request is allowed
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("request interval too short, retry in %ds", e.RetryAfter)
}

func (e *TooSoonError) Unwrap() error { return ErrTooSoon }

// RetryAfterSeconds extracts the cooldown from err, or 0 when err does not
// carry one.
func RetryAfterSeconds(err error) int64 {
	var ts *TooSoonError
	if errors.As(err, &ts) {
		return ts.RetryAfter
	}
	return 0
}
