package job

import (
	"errors"
	"fmt"
)

// Kind classifies job errors so callers can tell a hung script from a broken
// one, or bad input from an unknown id.
type Kind string

const (
	KindValidation Kind = "validation"
	KindQueueFull  Kind = "queue_full"
	KindExecution  Kind = "execution"
	KindTimeout    Kind = "timeout"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Error is a classified job error. It is stored on failed jobs and returned
// to api callers.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	cause error
}

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap keeps the cause for errors.Unwrap while classifying it.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), cause: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the kind of err if it is a job error, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
