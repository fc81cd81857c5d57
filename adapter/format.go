package adapter

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/ethereum-optimism/infra/op-teamcity/types"
)

const (
	// FailedTracebackPrefix marks details produced when an error payload could not be formatted.
	FailedTracebackPrefix = "*FAILED TO GET TRACEBACK*: "

	// DefaultCategory labels uncategorized errors whose type says nothing about them
	DefaultCategory = "error"
)

var (
	errNilPayload = errors.New("nil error payload")
	errNilValue   = errors.New("error payload has no value")
)

// stackTracer is implemented by errors created with github.com/pkg/errors
type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// FormatError renders an error payload as the trace followed by
// "<category>: <message>". It never panics and never returns an empty string:
// when the payload cannot be formatted the result is FailedTracebackPrefix
// followed by the formatting failure and the stack it happened on.
func FormatError(p types.ErrorPayload) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = formatFailure(r)
		}
	}()

	out, err := formatPayload(p)
	if err != nil {
		return formatFailure(err)
	}
	return out
}

func formatPayload(p types.ErrorPayload) (string, error) {
	var se types.StructuredError
	switch v := types.Normalize(p).(type) {
	case types.StructuredError:
		se = v
	case *types.StructuredError:
		if v == nil {
			return "", errNilPayload
		}
		se = *v
	case nil:
		return "", errNilPayload
	default:
		return "", fmt.Errorf("unsupported error payload %T", p)
	}
	if se.Value == nil {
		return "", errNilValue
	}

	var b strings.Builder
	trace := se.Trace
	if trace == "" {
		var st stackTracer
		if errors.As(se.Value, &st) {
			trace = strings.TrimPrefix(fmt.Sprintf("%+v", st.StackTrace()), "\n")
		}
	}
	if trace != "" {
		b.WriteString(trace)
		if !strings.HasSuffix(trace, "\n") {
			b.WriteString("\n")
		}
	}

	category := se.Category
	if category == "" {
		category = errorCategory(se.Value)
	}
	fmt.Fprintf(&b, "%s: %s\n", category, se.Value.Error())
	return b.String(), nil
}

// errorCategory names an error by its type, except for the plain error values
// of the errors and fmt packages
func errorCategory(err error) string {
	name := fmt.Sprintf("%T", err)
	if strings.HasPrefix(name, "*errors.") || strings.HasPrefix(name, "*fmt.") {
		return DefaultCategory
	}
	return name
}

func formatFailure(reason any) string {
	return fmt.Sprintf("%s%v\n%s", FailedTracebackPrefix, reason, debug.Stack())
}
