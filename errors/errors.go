// Package errors wraps pkg/errors and adds the error codes reported across
// the query bridge boundary.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies a failure. The code is the prefix of every diagnostic
// written to an error channel.
type Code string

const (
	OutOfMemory     Code = "OutOfMemory"
	InvalidArgument Code = "InvalidArgument"
	SchemaMismatch  Code = "SchemaMismatch"
	ExecutionError  Code = "ExecutionError"
	EndOfStream     Code = "EndOfStream"
	Unsupported     Code = "Unsupported"
	InvalidHandle   Code = "InvalidHandle"

	ErrUncoded Code = "Uncoded"
)

func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

func Newf(code Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Is reports whether err carries the target code anywhere in its chain.
func Is(err error, target Code) bool {
	return errors.Is(err, codedError{Code: target})
}

// CodeOf returns the code of the outermost coded error in the chain, or
// ErrUncoded when there is none.
func CodeOf(err error) Code {
	var ce codedError
	if errors.As(err, &ce) {
		return ce.Code
	}

	return ErrUncoded
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithMessagef(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(err, format, args...)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WrapCode attaches code to err unless err already carries a code.
func WrapCode(err error, code Code) error {
	if err == nil {
		return nil
	}

	if CodeOf(err) != ErrUncoded {
		return err
	}

	return errors.WithStack(codedError{Code: code, Message: err.Error()})
}

// Diagnostic renders err as "<Code>: <message>", the form written to error
// channels.
func Diagnostic(err error) string {
	return fmt.Sprintf("%s: %s", CodeOf(err), err.Error())
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code
	Message string
}

func (ce codedError) Error() string {
	return ce.Message
}

func (ce codedError) Is(err error) bool {
	if e, ok := err.(codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}
