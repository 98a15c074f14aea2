package services

import (
	"errors"
	"fmt"
)

// Kind identifies one declared failure in the service taxonomy. The
// controller and the realtime hub translate kinds into status codes and
// error envelopes without inventing new semantics.
type Kind string

const (
	KindInvalidInput   Kind = "INVALID_INPUT"
	KindImageTooLarge  Kind = "IMAGE_TOO_LARGE"
	KindOCRTimeout     Kind = "OCR_TIMEOUT"
	KindOCRDecode      Kind = "OCR_DECODE_ERROR"
	KindOCREngine      Kind = "OCR_ENGINE_ERROR"
	KindAIRateLimited  Kind = "AI_RATE_LIMITED"
	KindAITimeout      Kind = "AI_TIMEOUT"
	KindAIProvider     Kind = "AI_PROVIDER_ERROR"
	KindTagUnavailable Kind = "TAG_SOURCE_UNAVAILABLE"
	KindTagTimeout     Kind = "TAG_SOURCE_TIMEOUT"
	KindUnknownSession Kind = "UNKNOWN_SESSION"
	KindSendInFlight   Kind = "SEND_IN_FLIGHT"
	KindUnauthorized   Kind = "UNAUTHORIZED"
)

// ServiceError is a typed failure carrying the operation that produced
// it and the wrapped cause, if any.
type ServiceError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// E builds a ServiceError.
func E(kind Kind, op string, err error) error {
	return &ServiceError{Kind: kind, Op: op, Err: err}
}

// Errorf builds a ServiceError with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &ServiceError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from an error chain. Errors outside
// the taxonomy report an empty Kind.
func KindOf(err error) Kind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the failure is a transient upstream error
// that a caller may reasonably retry.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindOCRTimeout, KindOCREngine, KindAIRateLimited, KindAITimeout,
		KindTagUnavailable, KindTagTimeout:
		return true
	}
	return false
}
