package model

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindRecordNotFound Kind = iota + 1
	KindMalformedKey
	KindUnprocessable
	KindRoleMismatch
	KindCorruptIndex
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindRecordNotFound:
		return "record not found"
	case KindMalformedKey:
		return "malformed key"
	case KindUnprocessable:
		return "unprocessable entity"
	case KindRoleMismatch:
		return "role mismatch"
	case KindCorruptIndex:
		return "corrupt index"
	case KindStoreUnavailable:
		return "store unavailable"
	}
	return "unknown"
}

// Error is the single domain error type. Errors compare equal under
// errors.Is when their kinds match.
type Error struct {
	Kind    Kind
	Field   string
	Key     string
	Message string
	Err     error
}

var (
	ErrRecordNotFound   = &Error{Kind: KindRecordNotFound}
	ErrMalformedKey     = &Error{Kind: KindMalformedKey}
	ErrUnprocessable    = &Error{Kind: KindUnprocessable}
	ErrRoleMismatch     = &Error{Kind: KindRoleMismatch}
	ErrCorruptIndex     = &Error{Kind: KindCorruptIndex}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" key=%q", e.Key)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func NotFound(key string) *Error {
	return &Error{Kind: KindRecordNotFound, Key: key}
}

func MalformedKey(key string, err error) *Error {
	return &Error{Kind: KindMalformedKey, Key: key, Err: err}
}

func Unprocessable(field, message string) *Error {
	return &Error{Kind: KindUnprocessable, Field: field, Message: message}
}

func RoleMismatch(field, message string) *Error {
	return &Error{Kind: KindRoleMismatch, Field: field, Message: message}
}

func CorruptIndex(key, message string) *Error {
	return &Error{Kind: KindCorruptIndex, Key: key, Message: message}
}

func StoreUnavailable(err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
