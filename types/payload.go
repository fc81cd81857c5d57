package types

import "errors"

// ErrorPayload is the error information attached to a failure, error or
// expected-failure callback. It is either a StructuredError or a TextError.
type ErrorPayload interface {
	isErrorPayload()
}

// StructuredError carries a proper error value.
type StructuredError struct {
	Category string // e.g. "testing.T", "panic"; falls back to the value's type when empty
	Value    error
	Trace    string // pre-rendered trace, may be empty
}

// TextError carries a bare text message where an error value was expected.
// Host frameworks that only produce output text report failures this way.
type TextError struct {
	Category string
	Message  string
	Trace    string
}

func (StructuredError) isErrorPayload() {}
func (TextError) isErrorPayload()       {}

// Normalize converts a TextError into the equivalent StructuredError, leaving the
// trace untouched. Other payloads are returned as-is.
func Normalize(p ErrorPayload) ErrorPayload {
	switch v := p.(type) {
	case TextError:
		return StructuredError{Category: v.Category, Value: errors.New(v.Message), Trace: v.Trace}
	case *TextError:
		if v == nil {
			return p
		}
		return StructuredError{Category: v.Category, Value: errors.New(v.Message), Trace: v.Trace}
	default:
		return p
	}
}
