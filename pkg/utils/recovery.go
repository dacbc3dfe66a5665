package utils

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError is a panic turned into an error so that one bad news item or
// partition cannot take the process down.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("recovered panic: %v", e.Value) }

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

func newPanicError(v any) *PanicError {
	pe := &PanicError{Value: v, Stack: debug.Stack()}
	slog.Error("recovered panic", "panic", v, "stack", string(pe.Stack))
	return pe
}

// RecoverAsError stores a recovered panic in *errPtr. It must be deferred
// directly:
//
//	func handle() (err error) {
//		defer utils.RecoverAsError(&err)
//		...
//	}
func RecoverAsError(errPtr *error) {
	if v := recover(); v != nil {
		*errPtr = newPanicError(v)
	}
}

// RecoverWithCallback hands a recovered panic to fn, which may be nil.
func RecoverWithCallback(fn func(error)) {
	if v := recover(); v != nil {
		err := newPanicError(v)
		if fn != nil {
			fn(err)
		}
	}
}
