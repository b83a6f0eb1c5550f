// Package errs gives every deploy-core component a shared vocabulary for
// classifying failures, so the orchestrator and the consumer can decide
// cleanup and retry behavior without string-matching error messages.
package errs

import "errors"

// Kind classifies why an operation failed.
type Kind string

const (
	Validation         Kind = "validation"
	Quota              Kind = "quota"
	Runtime            Kind = "runtime"
	Health             Kind = "health"
	TransientBus       Kind = "transient_bus"
	Fatal              Kind = "fatal"
	NotFound           Kind = "not_found"
	ResourceExhausted  Kind = "resource_exhausted"
	InvalidConfig      Kind = "invalid_config"
	Denied             Kind = "denied"
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// New wraps err with kind. Passing a nil err returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Of returns the Kind attached to err, or "" if err was never classified.
func Of(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return ""
}

// Is reports whether err was classified as kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
