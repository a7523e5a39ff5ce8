package search

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a gateway failure by what the caller should do next.
type ErrorKind string

const (
	// KindTransient failures may succeed on a later attempt.
	KindTransient ErrorKind = "transient"
	// KindPermanent failures will not succeed without a different request.
	KindPermanent ErrorKind = "permanent"
	// KindConfiguration failures need an operator to fix the deployment.
	KindConfiguration ErrorKind = "configuration"
)

var (
	ErrMissingAPIKey = errors.New("serpapi key is not configured")
	ErrEmptyQuery    = errors.New("search query is empty")
	ErrMalformedBody = errors.New("malformed provider response")
)

// GatewayError is returned by every failed Search.
type GatewayError struct {
	Kind       ErrorKind
	StatusCode int
	// RetryAfter is the provider's Retry-After hint, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("search %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("search %s error: %v", e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, status int, err error) *GatewayError {
	return &GatewayError{Kind: kind, StatusCode: status, Err: err}
}

// KindOf returns the kind of a gateway error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
