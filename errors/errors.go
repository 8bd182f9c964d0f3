package errors

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// UnknownCode is used for errors that carry no status of their own.
const UnknownCode = 500

// Status is the serializable part of an Error.
type Status struct {
	Code     int               `json:"code,omitempty"`
	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Error is a structured error carrying an HTTP-style code, a message,
// optional metadata and an optional cause.
type Error struct {
	Status
	cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("code=")
	b.WriteString(strconv.Itoa(e.Code))
	b.WriteString(", message=")
	b.WriteString(e.Message)
	if len(e.Metadata) > 0 {
		b.WriteString(", metadata={")
		first := true
		for k, v := range e.Metadata {
			if !first {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
			first = false
		}
		b.WriteByte('}')
	}
	if e.cause != nil {
		b.WriteString(", cause=")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap returns the cause of the error.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err is an *Error with the same code and message.
// Metadata and cause are ignored, so a decorated sentinel still matches it.
func (e *Error) Is(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return e.Code == ge.Code && e.Message == ge.Message
	}
	return false
}

// WithMetadata returns a copy of e with m merged into its metadata.
func (e *Error) WithMetadata(m map[string]string) *Error {
	if len(m) == 0 {
		return e
	}
	err := e.clone()
	if err.Metadata == nil {
		err.Metadata = make(map[string]string, len(m))
	}
	maps.Copy(err.Metadata, m)
	return err
}

// WithReason is shorthand for WithMetadata(map[string]string{"reason": reason}).
func (e *Error) WithReason(reason string) *Error {
	return e.WithMetadata(map[string]string{"reason": reason})
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	if cause == nil {
		return e
	}
	err := e.clone()
	err.cause = cause
	return err
}

func (e *Error) clone() *Error {
	var metadata map[string]string
	if len(e.Metadata) > 0 {
		metadata = maps.Clone(e.Metadata)
	}
	return &Error{
		Status: Status{Code: e.Code, Message: e.Message, Metadata: metadata},
		cause:  e.cause,
	}
}

// New creates an error with the given code and formatted message.
func New(code int, format string, args ...any) *Error {
	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}
	return &Error{Status: Status{Code: code, Message: message}}
}

// Wrap wraps err with a new code and message. It returns nil for a nil err.
func Wrap(err error, code int, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return New(code, format, args...).WithCause(err)
}

// FromError converts any error to *Error, keeping the first *Error in the chain.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return New(UnknownCode, "%v", err)
}

// Code returns the status code of err, or UnknownCode if err is not an *Error.
func Code(err error) int {
	if err == nil {
		return 200
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return UnknownCode
}

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Unwrap(err error) error { return errors.Unwrap(err) }

func Join(errs ...error) error { return errors.Join(errs...) }
