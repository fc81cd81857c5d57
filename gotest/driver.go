// Package gotest connects `go test -json` output to the event adapter.
//
// Packages run concurrently and so do parallel tests and subtests within a
// package. Every package and every running test therefore gets its own adapter
// and reporting flow. A test flow is a child of its parent test's flow, or of
// the package flow for top-level tests.
package gotest

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-teamcity/adapter"
	"github.com/ethereum-optimism/infra/op-teamcity/expectations"
	"github.com/ethereum-optimism/infra/op-teamcity/types"
)

const (
	CategoryFailure = "testing.T"
	CategoryPanic   = "panic"

	incompleteTestMessage = "test did not complete"
	packageFailedMessage  = "package failed"

	docTestPrefix = "Example"
)

// SuiteReporter is implemented by sinks that can group tests by package
type SuiteReporter interface {
	TestSuiteStarted(name string) error
	TestSuiteFinished(name string) error
}

// OutputReporter is implemented by sinks that can attach test output
type OutputReporter interface {
	TestStdOut(id, out string) error
}

// FlowReporter is implemented by sinks that can announce the start and end
// of their flow
type FlowReporter interface {
	FlowStarted(parent string) error
	FlowFinished() error
}

// Flow is where the events of one package or one test are reported
type Flow struct {
	Sink   adapter.Sink
	Suites SuiteReporter  // optional
	Output OutputReporter // optional
	Flows  FlowReporter   // optional
}

// Stats counts reported outcomes
type Stats struct {
	Packages         int
	Total            int
	Passed           int
	Failed           int
	Errors           int
	Skipped          int
	ExpectedFailures int
}

// HasFailures reports whether any failure or error was reported
func (s Stats) HasFailures() bool {
	return s.Failed > 0 || s.Errors > 0
}

// Config holds configuration for creating a new Driver
type Config struct {
	Log           log.Logger
	Expectations  *expectations.Manifest
	ModulePath    string // trimmed from package import paths when set
	NewFlow       func(pkg, flowID string) Flow
	Suites        bool // report each package as a test suite
	CaptureOutput bool // attach test output with testStdOut
}

// Driver feeds test2json events into per-package and per-test adapters
type Driver struct {
	cfg         Config
	log         log.Logger
	packages    map[string]*packageState
	buildOutput map[string]*strings.Builder
	stats       Stats
}

type packageState struct {
	name        string
	flow        Flow
	adapter     *adapter.Adapter
	clock       time.Time
	tests       map[string]*testState
	output      strings.Builder
	failedTests int
}

type testState struct {
	handle  types.Handle
	flow    Flow
	adapter *adapter.Adapter
	output  strings.Builder
}

// NewDriver creates a new driver
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.NewFlow == nil {
		return nil, fmt.Errorf("flow factory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Expectations == nil {
		cfg.Expectations = expectations.Empty()
	}
	return &Driver{
		cfg:         cfg,
		log:         cfg.Log.New("component", "gotest-driver"),
		packages:    make(map[string]*packageState),
		buildOutput: make(map[string]*strings.Builder),
	}, nil
}

// Stats returns the outcome counts reported so far
func (d *Driver) Stats() Stats {
	return d.stats
}

// Consume decodes events from the stream until EOF, then closes any package
// whose end event never arrived.
func (d *Driver) Consume(ctx context.Context, r io.Reader) error {
	err := Decode(r, func(event TestEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return d.HandleEvent(event)
	})
	if closeErr := d.Close(); err == nil {
		err = closeErr
	}
	return err
}

// HandleEvent processes a single test2json event
func (d *Driver) HandleEvent(event TestEvent) error {
	switch event.Action {
	case ActionBuildOutput:
		d.appendBuildOutput(event.ImportPath, event.Output)
		return nil
	case ActionBuildFail:
		return nil
	}
	if event.Package == "" {
		return nil
	}

	pkg, err := d.packageFor(event.Package)
	if err != nil {
		return err
	}
	if event.Time.IsZero() {
		pkg.clock = time.Now()
	} else {
		pkg.clock = event.Time
	}

	if event.Test == "" {
		return d.handlePackageEvent(pkg, event)
	}
	return d.handleTestEvent(pkg, event)
}

// Close finishes every package still open, reporting their unfinished tests as errors
func (d *Driver) Close() error {
	names := make([]string, 0, len(d.packages))
	for name := range d.packages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pkg := d.packages[name]
		d.log.Warn("Package did not report a result", "package", name)
		if err := d.finishPackage(pkg, name); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) packageFor(importPath string) (*packageState, error) {
	if pkg, ok := d.packages[importPath]; ok {
		return pkg, nil
	}

	name := d.packageName(importPath)
	flow := d.cfg.NewFlow(name, name)
	pkg := &packageState{
		name:  name,
		flow:  flow,
		tests: make(map[string]*testState),
	}
	pkg.adapter = d.newAdapter(pkg, flow, "package", name)
	d.packages[importPath] = pkg
	d.stats.Packages++

	if d.cfg.Suites && flow.Suites != nil {
		if err := flow.Suites.TestSuiteStarted(name); err != nil {
			return nil, err
		}
	}
	return pkg, nil
}

// packageName shortens an import path relative to the module when configured
func (d *Driver) packageName(importPath string) string {
	mod := d.cfg.ModulePath
	switch {
	case mod == "":
		return importPath
	case importPath == mod:
		return path.Base(mod)
	case strings.HasPrefix(importPath, mod+"/"):
		return strings.TrimPrefix(importPath, mod+"/")
	default:
		return importPath
	}
}

func (d *Driver) handlePackageEvent(pkg *packageState, event TestEvent) error {
	switch event.Action {
	case ActionOutput:
		pkg.output.WriteString(cleanOutput(event.Output))
		return nil
	case ActionPass, ActionSkip:
		return d.finishPackage(pkg, event.Package)
	case ActionFail:
		// Tests left open are reported when the package finishes
		if pkg.failedTests == 0 && len(pkg.tests) == 0 {
			if err := d.reportPackageFailure(pkg, event); err != nil {
				return err
			}
		}
		return d.finishPackage(pkg, event.Package)
	default:
		return nil
	}
}

func (d *Driver) handleTestEvent(pkg *packageState, event TestEvent) error {
	switch event.Action {
	case ActionRun:
		_, err := d.startTest(pkg, event.Test)
		return err
	case ActionOutput, ActionBench:
		if ts, ok := pkg.tests[event.Test]; ok {
			ts.output.WriteString(cleanOutput(event.Output))
		} else {
			pkg.output.WriteString(cleanOutput(event.Output))
		}
		return nil
	case ActionPass, ActionFail, ActionSkip:
		ts, ok := pkg.tests[event.Test]
		if !ok {
			d.log.Debug("Result for test that was never started", "package", pkg.name, "test", event.Test)
			var err error
			if ts, err = d.startTest(pkg, event.Test); err != nil {
				return err
			}
		}
		if err := d.reportOutcome(pkg, ts, event.Action); err != nil {
			return err
		}
		return d.stopTest(pkg, event.Test, ts)
	default:
		return nil
	}
}

func (d *Driver) newAdapter(pkg *packageState, flow Flow, ctx ...any) *adapter.Adapter {
	return adapter.New(flow.Sink,
		adapter.WithClock(func() time.Time { return pkg.clock }),
		adapter.WithLogger(d.log.New(ctx...)),
	)
}

func (d *Driver) startTest(pkg *packageState, test string) (*testState, error) {
	h := d.handleFor(pkg, test)
	flow := d.cfg.NewFlow(pkg.name, h.ID)
	ts := &testState{
		handle:  h,
		flow:    flow,
		adapter: d.newAdapter(pkg, flow, "package", pkg.name, "test", test),
	}
	pkg.tests[test] = ts
	d.stats.Total++

	if flow.Flows != nil {
		if err := flow.Flows.FlowStarted(d.parentFlow(pkg, test)); err != nil {
			return nil, err
		}
	}
	return ts, ts.adapter.StartTest(ts.handle)
}

// parentFlow is the flow of the closest running parent test, or the package flow
func (d *Driver) parentFlow(pkg *packageState, test string) string {
	for i := strings.LastIndex(test, "/"); i > 0; i = strings.LastIndex(test, "/") {
		test = test[:i]
		if parent, ok := pkg.tests[test]; ok {
			return parent.handle.ID
		}
	}
	return pkg.name
}

func (d *Driver) handleFor(pkg *packageState, test string) types.Handle {
	id := pkg.name + "." + test
	h := types.NewHandle(id).WithDescription(d.cfg.Expectations.Description(id))
	if strings.HasPrefix(test, docTestPrefix) || d.cfg.Expectations.IsDocTest(id) {
		h.Kind = types.KindDocumentationTest
	}
	return h
}

func (d *Driver) reportOutcome(pkg *packageState, ts *testState, action string) error {
	output := ts.output.String()
	expected := d.cfg.Expectations.IsExpectedFailure(ts.handle.ID)

	switch action {
	case ActionPass:
		if expected {
			d.stats.Failed++
			return ts.adapter.AddUnexpectedSuccess(ts.handle)
		}
		d.stats.Passed++
		return ts.adapter.AddSuccess(ts.handle)
	case ActionSkip:
		d.stats.Skipped++
		return ts.adapter.AddSkip(ts.handle, skipReason(output))
	case ActionFail:
		pkg.failedTests++
		payload := failurePayload(output)
		switch {
		case expected:
			d.stats.ExpectedFailures++
			return ts.adapter.AddExpectedFailure(ts.handle, payload)
		case payload.Category == CategoryPanic:
			d.stats.Errors++
			return ts.adapter.AddError(ts.handle, payload)
		default:
			d.stats.Failed++
			return ts.adapter.AddFailure(ts.handle, payload)
		}
	}
	return nil
}

func (d *Driver) stopTest(pkg *packageState, test string, ts *testState) error {
	if d.cfg.CaptureOutput && ts.flow.Output != nil {
		if out := ts.output.String(); out != "" {
			if err := ts.flow.Output.TestStdOut(adapter.Identity(ts.handle), out); err != nil {
				return err
			}
		}
	}
	delete(pkg.tests, test)
	if err := ts.adapter.StopTest(ts.handle); err != nil {
		return err
	}
	if ts.flow.Flows != nil {
		return ts.flow.Flows.FlowFinished()
	}
	return nil
}

// reportPackageFailure reports a package failure not attributable to any test
// as a standalone collection error.
func (d *Driver) reportPackageFailure(pkg *packageState, event TestEvent) error {
	hook := "TestMain"
	trace := pkg.output.String()
	switch {
	case event.FailedBuild != "":
		hook = "build"
		if out, ok := d.buildOutput[baseImportPath(event.FailedBuild)]; ok {
			trace = out.String() + trace
		}
	case strings.Contains(trace, "[build failed]"):
		hook = "build"
	case strings.Contains(trace, "[setup failed]"):
		hook = "setup"
	}

	message := packageFailedMessage
	if lines := meaningfulLines(trace); len(lines) > 0 {
		message = lines[0]
	}

	// Reported with the failure message, so it counts as a failure
	d.stats.Failed++
	h := types.Handle{
		ID:   fmt.Sprintf("%s (%s)", hook, pkg.name),
		Kind: types.KindCollectionError,
	}
	return pkg.adapter.AddError(h, types.TextError{
		Category: hook,
		Message:  message,
		Trace:    traceText(trace),
	})
}

// finishPackage closes the tests still running in the package and ends its suite
func (d *Driver) finishPackage(pkg *packageState, importPath string) error {
	open := make([]string, 0, len(pkg.tests))
	for test := range pkg.tests {
		open = append(open, test)
	}
	// Close subtests before their parents
	sort.Sort(sort.Reverse(sort.StringSlice(open)))

	for _, test := range open {
		ts := pkg.tests[test]
		d.log.Warn("Test did not complete", "package", pkg.name, "test", test)
		d.stats.Errors++
		err := ts.adapter.AddError(ts.handle, types.TextError{
			Category: CategoryFailure,
			Message:  incompleteTestMessage,
			Trace:    traceText(ts.output.String()),
		})
		if err != nil {
			return err
		}
		if err := d.stopTest(pkg, test, ts); err != nil {
			return err
		}
	}

	delete(d.packages, importPath)
	if d.cfg.Suites && pkg.flow.Suites != nil {
		return pkg.flow.Suites.TestSuiteFinished(pkg.name)
	}
	return nil
}

func (d *Driver) appendBuildOutput(importPath, output string) {
	importPath = baseImportPath(importPath)
	b, ok := d.buildOutput[importPath]
	if !ok {
		b = &strings.Builder{}
		d.buildOutput[importPath] = b
	}
	b.WriteString(cleanOutput(output))
}

// baseImportPath maps "example/pkg [example/pkg.test]" to "example/pkg"
func baseImportPath(importPath string) string {
	if i := strings.Index(importPath, " ["); i >= 0 {
		return importPath[:i]
	}
	return importPath
}

func failurePayload(output string) types.TextError {
	category := CategoryFailure
	if isPanic(output) {
		category = CategoryPanic
	}
	return types.TextError{
		Category: category,
		Message:  failureMessage(output),
		Trace:    traceText(output),
	}
}
