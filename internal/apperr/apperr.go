// Package apperr defines the error taxonomy shared by the CRUD engine, the
// record builder and entity hooks.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindFileNotAllowed Kind = "file_not_allowed"
	KindInvalidFormat  Kind = "invalid_format"
	KindNotFound       Kind = "not_found"
	KindStore          Kind = "store"
)

type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of field or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Field == "" && t.Message == "" && t.Err == nil
}

var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrFileNotAllowed = &Error{Kind: KindFileNotAllowed}
	ErrInvalidFormat  = &Error{Kind: KindInvalidFormat}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrStore          = &Error{Kind: KindStore}
)

func Validation(field, format string, args ...any) error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

func FileNotAllowed(field string) error {
	return &Error{Kind: KindFileNotAllowed, Field: field, Message: "field does not accept uploads"}
}

func InvalidFormat(field, format string, args ...any) error {
	return &Error{Kind: KindInvalidFormat, Field: field, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Store wraps err as a store failure unless it already carries a kind.
func Store(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStore, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindStore.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}
