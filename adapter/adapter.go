// Package adapter turns test framework lifecycle callbacks into paired
// testStarted / outcome / testFinished reporting events.
//
// An Adapter is driven by exactly one execution stream. It is not safe for
// concurrent use; streams that run concurrently need one Adapter each.
package adapter

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-teamcity/types"
)

const (
	MessageFailure = "Failure"
	MessageError   = "Error"
	MessageSkipped = "Skipped"

	ExpectedFailurePrefix    = "Expected failure: "
	UnexpectedSuccessDetails = "Test should not succeed since it's marked with an expected-failure annotation"
)

// ErrNotStarted is returned by StopTest when no start time is recorded for the test.
var ErrNotStarted = errors.New("test was not started")

// standaloneErrorPattern matches "<name> (<module>)" labels of collection errors.
var standaloneErrorPattern = regexp.MustCompile(`^(.*) \((.*)\)$`)

// Listener receives lifecycle callbacks from a host test framework.
type Listener interface {
	StartTest(h types.Handle) error
	AddSuccess(h types.Handle) error
	AddFailure(h types.Handle, err types.ErrorPayload) error
	AddError(h types.Handle, err types.ErrorPayload) error
	AddSkip(h types.Handle, reason string) error
	AddExpectedFailure(h types.Handle, err types.ErrorPayload) error
	AddUnexpectedSuccess(h types.Handle) error
	StopTest(h types.Handle) error
}

// Sink consumes reporting events. Implementations must preserve call order.
type Sink interface {
	TestStarted(id string) error
	TestFinished(id string, duration time.Duration) error
	TestFailed(id, message, details string) error
	TestIgnored(id, message string) error
}

var _ Listener = (*Adapter)(nil)

// Adapter implements Listener on top of a Sink.
type Adapter struct {
	sink       Sink
	log        log.Logger
	now        func() time.Time
	startTimes map[string]time.Time
}

// Option configures an Adapter
type Option func(*Adapter)

// WithClock sets the time source used for test durations
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l log.Logger) Option {
	return func(a *Adapter) {
		a.log = l
	}
}

// New creates an adapter emitting to sink
func New(sink Sink, opts ...Option) *Adapter {
	a := &Adapter{
		sink:       sink,
		log:        log.Root(),
		now:        time.Now,
		startTimes: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// InFlight returns the number of tests started but not yet stopped
func (a *Adapter) InFlight() int {
	return len(a.startTimes)
}

// StartTest records the start time and emits testStarted.
func (a *Adapter) StartTest(h types.Handle) error {
	id := Identity(h)
	if _, ok := a.startTimes[id]; ok {
		a.log.Warn("Test started twice, overwriting start time", "test", id)
	}
	a.startTimes[id] = a.now()
	return a.sink.TestStarted(id)
}

// AddSuccess emits nothing: a test without an outcome event is a pass.
func (a *Adapter) AddSuccess(h types.Handle) error {
	return nil
}

// AddFailure emits testFailed with the formatted error.
func (a *Adapter) AddFailure(h types.Handle, err types.ErrorPayload) error {
	details := FormatError(types.Normalize(err))
	return a.sink.TestFailed(Identity(h), MessageFailure, details)
}

// AddError emits testFailed for an erroring test. Collection errors have no
// matching StartTest, so they are reported as a complete started/failed/finished
// triple under a dotted "<module>.<name>" identity.
func (a *Adapter) AddError(h types.Handle, err types.ErrorPayload) error {
	details := FormatError(types.Normalize(err))

	if h.Kind == types.KindCollectionError {
		name := StandaloneErrorName(h.ID)
		a.log.Debug("Reporting standalone error", "label", h.ID, "test", name)
		if err := a.sink.TestStarted(name); err != nil {
			return err
		}
		if err := a.sink.TestFailed(name, MessageFailure, details); err != nil {
			return err
		}
		return a.sink.TestFinished(name, 0)
	}

	return a.sink.TestFailed(Identity(h), MessageError, details)
}

// AddSkip emits testIgnored, including the reason when there is one.
func (a *Adapter) AddSkip(h types.Handle, reason string) error {
	return a.sink.TestIgnored(Identity(h), SkipMessage(reason))
}

// AddExpectedFailure emits testIgnored carrying the formatted error.
func (a *Adapter) AddExpectedFailure(h types.Handle, err types.ErrorPayload) error {
	details := FormatError(types.Normalize(err))
	return a.sink.TestIgnored(Identity(h), ExpectedFailurePrefix+details)
}

// AddUnexpectedSuccess emits testFailed for a test that passed but was expected to fail.
func (a *Adapter) AddUnexpectedSuccess(h types.Handle) error {
	return a.sink.TestFailed(Identity(h), MessageFailure, UnexpectedSuccessDetails)
}

// StopTest emits testFinished with the time elapsed since StartTest.
func (a *Adapter) StopTest(h types.Handle) error {
	id := Identity(h)
	start, ok := a.startTimes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotStarted, id)
	}
	delete(a.startTimes, id)

	elapsed := a.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	return a.sink.TestFinished(id, elapsed)
}

// SkipMessage builds the testIgnored message for a skipped test
func SkipMessage(reason string) string {
	if reason == "" {
		return MessageSkipped
	}
	return MessageSkipped + ": " + reason
}

// StandaloneErrorName rewrites "setUpModule (pkg.tests)" into "pkg.tests.setUpModule".
// Labels not in that form are returned unchanged.
func StandaloneErrorName(label string) string {
	return standaloneErrorPattern.ReplaceAllString(label, "$2.$1")
}
