// Package messages writes TeamCity service messages.
//
// Every message is a single line of the form
//
//	##teamcity[<name> key='value' ...]
//
// with values escaped as TeamCity requires.
package messages

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-teamcity/adapter"
)

const (
	TestSuiteStarted  = "testSuiteStarted"
	TestSuiteFinished = "testSuiteFinished"
	TestStarted       = "testStarted"
	TestFinished      = "testFinished"
	TestFailed        = "testFailed"
	TestIgnored       = "testIgnored"
	TestStdOut        = "testStdOut"
	FlowStarted       = "flowStarted"
	FlowFinished      = "flowFinished"
	BuildMessage      = "message"

	// Status values of a build message
	StatusNormal  = "NORMAL"
	StatusWarning = "WARNING"
	StatusError   = "ERROR"

	TimestampFormat = "2006-01-02T15:04:05.000"
)

var escaper = strings.NewReplacer(
	"|", "||",
	"'", "|'",
	"\n", "|n",
	"\r", "|r",
	"[", "|[",
	"]", "|]",
	"\u0085", "|x",
	"\u2028", "|l",
	"\u2029", "|p",
)

var _ adapter.Sink = (*Writer)(nil)

// Attr is a single key='value' message attribute
type Attr struct {
	Key   string
	Value string
}

// Writer serializes service messages to an io.Writer. Writers derived with
// Flow share the underlying output and lock, so messages from all flows are
// written whole and in call order.
type Writer struct {
	mu         *sync.Mutex
	out        io.Writer
	now        func() time.Time
	timestamps bool
	flowID     string
}

// Option configures a Writer
type Option func(*Writer)

// WithClock sets the clock used for message timestamps
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// WithTimestamps enables or disables the timestamp attribute
func WithTimestamps(enabled bool) Option {
	return func(w *Writer) {
		w.timestamps = enabled
	}
}

// NewWriter creates a Writer. Timestamps are enabled by default.
func NewWriter(out io.Writer, opts ...Option) *Writer {
	w := &Writer{
		mu:         &sync.Mutex{},
		out:        out,
		now:        time.Now,
		timestamps: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Flow returns a Writer tagging every message with the given flowId
func (w *Writer) Flow(flowID string) *Writer {
	cp := *w
	cp.flowID = flowID
	return &cp
}

// FlowID returns the flow this writer reports to, empty for the default flow
func (w *Writer) FlowID() string {
	return w.flowID
}

// Message writes a service message with the given attributes
func (w *Writer) Message(name string, attrs ...Attr) error {
	var b strings.Builder
	b.WriteString("##teamcity[")
	b.WriteString(name)
	for _, attr := range attrs {
		writeAttr(&b, attr.Key, attr.Value)
	}
	if w.flowID != "" {
		writeAttr(&b, "flowId", w.flowID)
	}

	// Timestamps follow output order across flows
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timestamps {
		writeAttr(&b, "timestamp", w.now().Format(TimestampFormat))
	}
	b.WriteString("]\n")
	if _, err := io.WriteString(w.out, b.String()); err != nil {
		return fmt.Errorf("failed to write %s message: %w", name, err)
	}
	return nil
}

func writeAttr(b *strings.Builder, key, value string) {
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteString("='")
	b.WriteString(Escape(value))
	b.WriteByte('\'')
}

// Escape escapes a value for use inside a service message attribute
func Escape(value string) string {
	return escaper.Replace(value)
}

func (w *Writer) TestSuiteStarted(name string) error {
	return w.Message(TestSuiteStarted, Attr{"name", name})
}

func (w *Writer) TestSuiteFinished(name string) error {
	return w.Message(TestSuiteFinished, Attr{"name", name})
}

func (w *Writer) TestStarted(id string) error {
	return w.Message(TestStarted, Attr{"name", id})
}

// TestFinished reports the test duration in whole milliseconds. Negative
// durations are omitted.
func (w *Writer) TestFinished(id string, duration time.Duration) error {
	attrs := []Attr{{"name", id}}
	if duration >= 0 {
		attrs = append(attrs, Attr{"duration", strconv.FormatInt(duration.Milliseconds(), 10)})
	}
	return w.Message(TestFinished, attrs...)
}

func (w *Writer) TestFailed(id, message, details string) error {
	return w.Message(TestFailed, Attr{"name", id}, Attr{"message", message}, Attr{"details", details})
}

func (w *Writer) TestIgnored(id, message string) error {
	return w.Message(TestIgnored, Attr{"name", id}, Attr{"message", message})
}

func (w *Writer) TestStdOut(id, out string) error {
	return w.Message(TestStdOut, Attr{"name", id}, Attr{"out", out})
}

// FlowStarted opens this writer's flow as a child of the parent flow
func (w *Writer) FlowStarted(parent string) error {
	if parent == "" {
		return w.Message(FlowStarted)
	}
	return w.Message(FlowStarted, Attr{"parent", parent})
}

func (w *Writer) FlowFinished() error {
	return w.Message(FlowFinished)
}

// Text writes a build log message with the given status
func (w *Writer) Text(text, status string) error {
	return w.Message(BuildMessage, Attr{"text", text}, Attr{"status", status})
}
