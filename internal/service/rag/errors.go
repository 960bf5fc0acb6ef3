package rag

import (
	"errors"
	"fmt"
)

// Kind classifies a failure surfaced by the engine.
type Kind string

const (
	KindNotFound             Kind = "NotFound"
	KindUnsupportedFileType  Kind = "UnsupportedFileType"
	KindEmptyIngestion       Kind = "EmptyIngestion"
	KindPreconditionNotReady Kind = "PreconditionNotReady"
	KindMissingCredentials   Kind = "MissingCredentials"
	KindUpstreamFailure      Kind = "UpstreamFailure"
	KindInvalidRequest       Kind = "InvalidRequest"
)

// Category groups kinds by what the caller should do about them.
type Category string

const (
	// CategorySession means the session must be re-created.
	CategorySession Category = "session"
	// CategoryInput means the request must be corrected or re-uploaded.
	CategoryInput Category = "input"
	// CategoryUpstream means the call may be retried later.
	CategoryUpstream Category = "upstream"
	// CategoryConfig means the server is missing configuration.
	CategoryConfig Category = "config"
)

// Category returns the category k belongs to.
func (k Kind) Category() Category {
	switch k {
	case KindNotFound:
		return CategorySession
	case KindMissingCredentials:
		return CategoryConfig
	case KindUpstreamFailure:
		return CategoryUpstream
	default:
		return CategoryInput
	}
}

// Error is the error type returned by Engine.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

var (
	ErrNotFound             = &Error{Kind: KindNotFound, Message: "invalid session_id"}
	ErrUnsupportedFileType  = &Error{Kind: KindUnsupportedFileType, Message: "unsupported file type"}
	ErrEmptyIngestion       = &Error{Kind: KindEmptyIngestion, Message: "no documents were loaded"}
	ErrPreconditionNotReady = &Error{Kind: KindPreconditionNotReady, Message: "upload documents before chatting"}
	ErrMissingCredentials   = &Error{Kind: KindMissingCredentials, Message: "upstream credentials are not configured"}
	ErrUpstreamFailure      = &Error{Kind: KindUpstreamFailure, Message: "upstream call failed"}
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest, Message: "invalid request"}
)

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind of err. Errors that did not originate from the
// engine are reported as upstream failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstreamFailure
}
