package domain

import (
	"errors"
	"fmt"
)

// InvocationErrorKind classifies worker invocation failures.
type InvocationErrorKind string

const (
	// InvocationTimeout means the per-worker or overall deadline fired
	// before the worker returned.
	InvocationTimeout InvocationErrorKind = "timeout"
	// InvocationWorkerFailed means the worker returned a non-200 response
	// envelope.
	InvocationWorkerFailed InvocationErrorKind = "worker_failed"
	// InvocationTransportError means the worker could not be reached or
	// its response could not be read.
	InvocationTransportError InvocationErrorKind = "transport_error"
)

// InvocationError is the typed error returned by WorkerInvoker
// implementations.
type InvocationError struct {
	Worker  WorkerName
	Kind    InvocationErrorKind
	Message string
}

func (e *InvocationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("worker %s: %s", e.Worker, e.Kind)
	}
	return e.Message
}

// NewInvocationError constructs an InvocationError.
func NewInvocationError(worker WorkerName, kind InvocationErrorKind, msg string) *InvocationError {
	return &InvocationError{Worker: worker, Kind: kind, Message: msg}
}

// AsInvocationError unwraps err into an *InvocationError if possible.
func AsInvocationError(err error) (*InvocationError, bool) {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
