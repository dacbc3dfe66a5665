package nlp

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure kinds reported by model calls. A *CallError matches its kind with
// errors.Is.
var (
	ErrRateLimit       = errors.New("model rate limited")
	ErrRefusal         = errors.New("model refused the prompt")
	ErrEmptyResponse   = errors.New("model returned no content")
	ErrUnavailable     = errors.New("model service unavailable")
	ErrRejected        = errors.New("model service rejected the request")
	ErrInvalidModel    = errors.New("invalid model")
	ErrMalformedOutput = errors.New("model returned malformed JSON")
)

// CallError describes a failed model call.
type CallError struct {
	Kind   error  // one of the Err* sentinels above
	Model  string // model the request was sent to, if known
	Status int    // HTTP status, 0 when the failure was not an HTTP response
	Detail string // text returned by the service, e.g. a refusal
	Err    error  // underlying transport error
}

func (e *CallError) Error() string {
	msg := e.Kind.Error()
	if e.Model != "" {
		msg = e.Model + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the failure kind.
func (e *CallError) Is(target error) bool { return target == e.Kind }

func (e *CallError) Unwrap() error { return e.Err }

// Temporary reports whether repeating the call may succeed.
func (e *CallError) Temporary() bool {
	switch {
	case e.Kind == ErrRateLimit, e.Kind == ErrUnavailable:
		return true
	case e.Status == http.StatusTooManyRequests, e.Status >= 500:
		return true
	}
	return false
}

func newCallError(kind error, model, detail string) *CallError {
	return &CallError{Kind: kind, Model: model, Detail: detail}
}

// statusError builds a CallError from an HTTP status returned by the service.
func statusError(model string, status int, detail string, cause error) *CallError {
	var kind error
	switch {
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimit
	case status >= 500:
		kind = ErrUnavailable
	case status == http.StatusNotFound:
		kind = ErrInvalidModel
	default:
		kind = ErrRejected
	}
	return &CallError{Kind: kind, Model: model, Status: status, Detail: detail, Err: cause}
}
