package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument marks malformed input or bad configuration.
	// Configuration errors are fatal to a run; per-candidate input errors are not.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnavailable marks a dependency that could not serve the request at all.
	ErrUnavailable = errors.New("service unavailable")
)

// ServiceKind classifies external-service failures.
type ServiceKind string

const (
	KindTimeout           ServiceKind = "timeout"
	KindRateLimited       ServiceKind = "rate_limited"
	KindMalformedResponse ServiceKind = "malformed_response"
	KindUnavailable       ServiceKind = "unavailable"
)

// ServiceError wraps a failure from an external collaborator (embedding or
// reasoning service) with enough classification to drive retry policy.
type ServiceError struct {
	Service string
	Kind    ServiceKind
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Service, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *ServiceError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindRateLimited
}

// NewServiceError builds a classified external-service error.
func NewServiceError(service string, kind ServiceKind, err error) *ServiceError {
	return &ServiceError{Service: service, Kind: kind, Err: err}
}

// IsRetryable reports whether err (or anything it wraps) is a transient
// external-service failure.
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}
