package xp

import (
	"errors"
	"fmt"
)

//////
// Const, vars, types.
//////

// Sentinel errors. Use errors.Is to classify a failure.
var (
	// ErrBinding is returned when call arguments cannot be bound against the
	// computation's signature. Nothing is recorded.
	ErrBinding = errors.New("binding error")

	// ErrIDExhausted is returned when no unused identifier could be generated
	// within the retry bound. It indicates a malfunctioning backend or clock.
	ErrIDExhausted = errors.New("id collision retries exhausted")

	// ErrUnknownBackend is returned when a backend name is neither registered
	// nor built in.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrStorageRoot is returned at first use when the storage root cannot be
	// created or written.
	ErrStorageRoot = errors.New("storage root not usable")

	// ErrSaveFailed wraps backend persistence failures.
	ErrSaveFailed = errors.New("save failed")

	// ErrLoadFailed wraps backend retrieval failures.
	ErrLoadFailed = errors.New("load failed")

	// ErrNoRun is returned by the ambient accessors outside a running
	// experiment.
	ErrNoRun = errors.New("no experiment running")

	// ErrInvalidSignature is returned by New for malformed signatures.
	ErrInvalidSignature = errors.New("invalid signature")
)

// BindError describes why a single parameter failed to bind.
type BindError struct {
	Param  string
	Reason string
}

func (e *BindError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s: %s", ErrBinding, e.Reason)
	}

	return fmt.Sprintf("%s: parameter %q: %s", ErrBinding, e.Param, e.Reason)
}

// Unwrap makes errors.Is(err, ErrBinding) hold.
func (e *BindError) Unwrap() error {
	return ErrBinding
}

// CallbackError records a callback failure during one lifecycle phase. It
// never aborts an invocation.
type CallbackError struct {
	Callback string
	Phase    string
	Err      error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %s failed during %s: %v", e.Callback, e.Phase, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}
