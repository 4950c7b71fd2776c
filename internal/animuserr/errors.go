// Package animuserr centralizes the error taxonomy every component shares:
// Validation, Transition, Conflict, Timeout, Transport, RateLimited, Api,
// ToolError, HookBlocked, and Cancelled. Callers use errors.Is against the
// sentinel Kind values and errors.As to recover the typed wrapper for
// status codes or retry hints.
package animuserr

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the error taxonomy. Components compare against these
// with errors.Is; they are never compared by string.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindTransition  Kind = "transition"
	KindConflict    Kind = "conflict"
	KindTimeout     Kind = "timeout"
	KindTransport   Kind = "transport"
	KindRateLimited Kind = "rate_limited"
	KindAPI         Kind = "api"
	KindToolError   Kind = "tool_error"
	KindHookBlocked Kind = "hook_blocked"
	KindCancelled   Kind = "cancelled"
	KindNotFound    Kind = "not_found"
)

// sentinels are the values errors.Is compares against; Error.Is matches by Kind.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrTransition  = &Error{Kind: KindTransition}
	ErrConflict    = &Error{Kind: KindConflict}
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrTransport   = &Error{Kind: KindTransport}
	ErrRateLimited = &Error{Kind: KindRateLimited}
	ErrAPI         = &Error{Kind: KindAPI}
	ErrToolError   = &Error{Kind: KindToolError}
	ErrHookBlocked = &Error{Kind: KindHookBlocked}
	ErrCancelled   = &Error{Kind: KindCancelled}
	ErrNotFound    = &Error{Kind: KindNotFound}
)

// Error is the typed wrapper every component returns for taxonomy errors.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for RateLimited errors when the provider supplied a hint.
	RetryAfter time.Duration
	// Status is set for API errors carrying an HTTP-like status code.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches by Kind only, so errors.Is(err, animuserr.ErrConflict) works
// regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation builds a validation error: malformed input, unknown faculty,
// unknown tool, invalid entry type. Surfaced to the caller, never retried.
func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

// Transition builds a state-machine rejection error.
func Transition(from, to string) *Error {
	return newf(KindTransition, "invalid transition %s -> %s", from, to)
}

// Conflict builds a concurrency-conflict error: lost dedup race, message
// already claimed. The call site retries once.
func Conflict(format string, args ...any) *Error { return newf(KindConflict, format, args...) }

// Timeout builds a timeout error for hooks, tools, sandbox runs, LLM calls,
// or await_child_work.
func Timeout(format string, args ...any) *Error { return newf(KindTimeout, format, args...) }

// Transport wraps a durable-store or queue I/O failure.
func Transport(err error, format string, args ...any) *Error {
	return wrap(KindTransport, err, format, args...)
}

// RateLimited builds a rate-limit error, optionally carrying a retry-after hint.
func RateLimited(retryAfter time.Duration, format string, args ...any) *Error {
	e := newf(KindRateLimited, format, args...)
	e.RetryAfter = retryAfter
	return e
}

// API wraps a non-2xx response from an LLM provider.
func API(status int, format string, args ...any) *Error {
	e := newf(KindAPI, format, args...)
	e.Status = status
	return e
}

// ToolError marks a tool's own is_error result; never terminates the engage
// loop, only fed back to the model as a tool_result.
func ToolError(format string, args ...any) *Error { return newf(KindToolError, format, args...) }

// HookBlocked marks a before-* hook's decline; not a failure, the loop or
// tool behavior adjusts accordingly.
func HookBlocked(reason string) *Error {
	return newf(KindHookBlocked, "blocked: %s", reason)
}

// Cancelled marks cooperative cancellation propagating through a suspension point.
func Cancelled(format string, args ...any) *Error { return newf(KindCancelled, format, args...) }

// NotFound marks a missing entity lookup (work item, ledger stream, skill).
func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Is* helpers let call sites branch on taxonomy without importing errors
// directly at every site.
func IsValidation(err error) bool  { return errors.Is(err, ErrValidation) }
func IsTransition(err error) bool  { return errors.Is(err, ErrTransition) }
func IsConflict(err error) bool    { return errors.Is(err, ErrConflict) }
func IsTimeout(err error) bool     { return errors.Is(err, ErrTimeout) }
func IsTransport(err error) bool   { return errors.Is(err, ErrTransport) }
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
func IsAPI(err error) bool         { return errors.Is(err, ErrAPI) }
func IsToolError(err error) bool   { return errors.Is(err, ErrToolError) }
func IsHookBlocked(err error) bool { return errors.Is(err, ErrHookBlocked) }
func IsCancelled(err error) bool   { return errors.Is(err, ErrCancelled) }
func IsNotFound(err error) bool    { return errors.Is(err, ErrNotFound) }

// KindOf returns err's taxonomy Kind as a string for use as a metric label:
// "" if err is nil, "unknown" if err is not a *Error.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return "unknown"
}
