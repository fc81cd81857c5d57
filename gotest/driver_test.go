package gotest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-teamcity/adapter"
	"github.com/ethereum-optimism/infra/op-teamcity/expectations"
)

type recorded struct {
	Flow     string
	Name     string
	ID       string
	Message  string
	Details  string
	Duration time.Duration
}

// recorder implements adapter.Sink, SuiteReporter and OutputReporter for one flow
type recorder struct {
	flow   string
	events *[]recorded
}

func (r recorder) add(e recorded) error {
	e.Flow = r.flow
	*r.events = append(*r.events, e)
	return nil
}

func (r recorder) TestStarted(id string) error {
	return r.add(recorded{Name: "testStarted", ID: id})
}

func (r recorder) TestFinished(id string, d time.Duration) error {
	return r.add(recorded{Name: "testFinished", ID: id, Duration: d})
}

func (r recorder) TestFailed(id, message, details string) error {
	return r.add(recorded{Name: "testFailed", ID: id, Message: message, Details: details})
}

func (r recorder) TestIgnored(id, message string) error {
	return r.add(recorded{Name: "testIgnored", ID: id, Message: message})
}

func (r recorder) TestSuiteStarted(name string) error {
	return r.add(recorded{Name: "testSuiteStarted", ID: name})
}

func (r recorder) TestSuiteFinished(name string) error {
	return r.add(recorded{Name: "testSuiteFinished", ID: name})
}

func (r recorder) TestStdOut(id, out string) error {
	return r.add(recorded{Name: "testStdOut", ID: id, Details: out})
}

func (r recorder) FlowStarted(parent string) error {
	return r.add(recorded{Name: "flowStarted", ID: parent})
}

func (r recorder) FlowFinished() error {
	return r.add(recorded{Name: "flowFinished"})
}

var _ adapter.Sink = recorder{}

func newTestDriver(t *testing.T, mutate func(*Config)) (*Driver, *[]recorded) {
	t.Helper()
	events := &[]recorded{}
	cfg := Config{
		Log: log.NewLogger(log.DiscardHandler()),
		NewFlow: func(pkg, flowID string) Flow {
			r := recorder{flow: flowID, events: events}
			return Flow{Sink: r, Suites: r, Output: r}
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDriver(cfg)
	require.NoError(t, err)
	return d, events
}

func consume(t *testing.T, d *Driver, stream string) {
	t.Helper()
	require.NoError(t, d.Consume(context.Background(), strings.NewReader(stream)))
}

func eventNames(events []recorded) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name + " " + e.ID
	}
	return out
}

func flowEvents(events []recorded) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = strings.TrimSpace(e.Flow + ": " + e.Name + " " + e.ID)
	}
	return out
}

// withFlowReporting also records the start and end of every flow
func withFlowReporting(events *[]recorded) func(*Config) {
	return func(cfg *Config) {
		cfg.NewFlow = func(pkg, flowID string) Flow {
			r := recorder{flow: flowID, events: events}
			return Flow{Sink: r, Suites: r, Output: r, Flows: r}
		}
	}
}

func TestNewDriver_RequiresFlowFactory(t *testing.T) {
	_, err := NewDriver(Config{})
	assert.Error(t, err)
}

func TestDriver_PassingTest(t *testing.T) {
	d, events := newTestDriver(t, nil)
	consume(t, d, `{"Time":"2024-05-01T12:00:00Z","Action":"start","Package":"example/pkg"}
{"Time":"2024-05-01T12:00:00Z","Action":"run","Package":"example/pkg","Test":"TestOK"}
{"Time":"2024-05-01T12:00:00.1Z","Action":"output","Package":"example/pkg","Test":"TestOK","Output":"=== RUN   TestOK\n"}
{"Time":"2024-05-01T12:00:00.1Z","Action":"output","Package":"example/pkg","Test":"TestOK","Output":"--- PASS: TestOK (0.25s)\n"}
{"Time":"2024-05-01T12:00:00.25Z","Action":"pass","Package":"example/pkg","Test":"TestOK","Elapsed":0.25}
{"Time":"2024-05-01T12:00:00.3Z","Action":"pass","Package":"example/pkg","Elapsed":0.3}
`)

	require.Equal(t, []string{
		"testStarted example/pkg.TestOK",
		"testFinished example/pkg.TestOK",
	}, eventNames(*events))
	assert.Equal(t, 250*time.Millisecond, (*events)[1].Duration)
	assert.Equal(t, "example/pkg.TestOK", (*events)[0].Flow)

	stats := d.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Passed)
	assert.False(t, stats.HasFailures())
}

func TestDriver_FailingTest(t *testing.T) {
	d, events := newTestDriver(t, nil)
	consume(t, d, `{"Time":"2024-05-01T12:00:00Z","Action":"run","Package":"example/pkg","Test":"TestBad"}
{"Time":"2024-05-01T12:00:00Z","Action":"output","Package":"example/pkg","Test":"TestBad","Output":"=== RUN   TestBad\n"}
{"Time":"2024-05-01T12:00:00Z","Action":"output","Package":"example/pkg","Test":"TestBad","Output":"    bad_test.go:12: expected 1, got 2\n"}
{"Time":"2024-05-01T12:00:00Z","Action":"output","Package":"example/pkg","Test":"TestBad","Output":"--- FAIL: TestBad (0.00s)\n"}
{"Time":"2024-05-01T12:00:01Z","Action":"fail","Package":"example/pkg","Test":"TestBad","Elapsed":1}
{"Time":"2024-05-01T12:00:01Z","Action":"output","Package":"example/pkg","Output":"FAIL\n"}
{"Time":"2024-05-01T12:00:01Z","Action":"fail","Package":"example/pkg","Elapsed":1}
`)

	require.Equal(t, []string{
		"testStarted example/pkg.TestBad",
		"testFailed example/pkg.TestBad",
		"testFinished example/pkg.TestBad",
	}, eventNames(*events), "a package failure caused by a test is not reported separately")

	failed := (*events)[1]
	assert.Equal(t, adapter.MessageFailure, failed.Message)
	assert.Equal(t, "    bad_test.go:12: expected 1, got 2\ntesting.T: expected 1, got 2\n", failed.Details)
	assert.Equal(t, time.Second, (*events)[2].Duration)
	assert.Equal(t, 1, d.Stats().Failed)
	assert.True(t, d.Stats().HasFailures())
}

func TestDriver_PanickingTestIsError(t *testing.T) {
	d, events := newTestDriver(t, nil)
	consume(t, d, `{"Action":"run","Package":"example/pkg","Test":"TestPanic"}
{"Action":"output","Package":"example/pkg","Test":"TestPanic","Output":"panic: assignment to entry in nil map\n"}
{"Action":"output","Package":"example/pkg","Test":"TestPanic","Output":"goroutine 7 [running]:\n"}
{"Action":"fail","Package":"example/pkg","Test":"TestPanic"}
{"Action":"fail","Package":"example/pkg"}
`)

	require.Len(t, *events, 3)
	failed := (*events)[1]
	assert.Equal(t, adapter.MessageError, failed.Message)
	assert.True(t, strings.HasSuffix(failed.Details, "panic: assignment to entry in nil map\n"))
	assert.Contains(t, failed.Details, "goroutine 7 [running]:")
	assert.Equal(t, 1, d.Stats().Errors)
}

func TestDriver_SkippedTest(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{name: "with reason", output: `    skip_test.go:9: flaky\n`, want: "Skipped: flaky"},
		{name: "without reason", output: ``, want: "Skipped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, events := newTestDriver(t, nil)
			stream := `{"Action":"run","Package":"example/pkg","Test":"TestSkip"}
{"Action":"output","Package":"example/pkg","Test":"TestSkip","Output":"=== RUN   TestSkip\n"}
`
			if tt.output != "" {
				stream += `{"Action":"output","Package":"example/pkg","Test":"TestSkip","Output":"` + tt.output + `"}
`
			}
			stream += `{"Action":"output","Package":"example/pkg","Test":"TestSkip","Output":"--- SKIP: TestSkip (0.00s)\n"}
{"Action":"skip","Package":"example/pkg","Test":"TestSkip"}
{"Action":"pass","Package":"example/pkg"}
`
			consume(t, d, stream)

			require.Len(t, *events, 3)
			assert.Equal(t, "testIgnored", (*events)[1].Name)
			assert.Equal(t, tt.want, (*events)[1].Message)
			assert.Equal(t, 1, d.Stats().Skipped)
		})
	}
}

func TestDriver_Expectations(t *testing.T) {
	manifest := &expectations.Manifest{
		ExpectedFailures: []string{"example/pkg.TestKnown*"},
		Descriptions:     map[string]string{"example/pkg.TestDescribed": "checks foo behavior"},
	}
	d, events := newTestDriver(t, func(cfg *Config) { cfg.Expectations = manifest })

	consume(t, d, `{"Action":"run","Package":"example/pkg","Test":"TestKnownBroken"}
{"Action":"output","Package":"example/pkg","Test":"TestKnownBroken","Output":"    x_test.go:3: still broken\n"}
{"Action":"fail","Package":"example/pkg","Test":"TestKnownBroken"}
{"Action":"run","Package":"example/pkg","Test":"TestKnownFixed"}
{"Action":"pass","Package":"example/pkg","Test":"TestKnownFixed"}
{"Action":"run","Package":"example/pkg","Test":"TestDescribed"}
{"Action":"pass","Package":"example/pkg","Test":"TestDescribed"}
{"Action":"fail","Package":"example/pkg"}
`)

	require.Equal(t, []string{
		"testStarted example/pkg.TestKnownBroken",
		"testIgnored example/pkg.TestKnownBroken",
		"testFinished example/pkg.TestKnownBroken",
		"testStarted example/pkg.TestKnownFixed",
		"testFailed example/pkg.TestKnownFixed",
		"testFinished example/pkg.TestKnownFixed",
		"testStarted example/pkg.TestDescribed (checks foo behavior)",
		"testFinished example/pkg.TestDescribed (checks foo behavior)",
	}, eventNames(*events))

	assert.Equal(t, "Expected failure: "+"    x_test.go:3: still broken\ntesting.T: still broken\n", (*events)[1].Message)
	assert.Equal(t, adapter.UnexpectedSuccessDetails, (*events)[4].Details)

	stats := d.Stats()
	assert.Equal(t, 1, stats.ExpectedFailures)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Passed)
}

func TestDriver_ExampleIsDocTest(t *testing.T) {
	manifest := &expectations.Manifest{
		Descriptions: map[string]string{"example/pkg.ExampleHello": "prints hello"},
	}
	d, events := newTestDriver(t, func(cfg *Config) { cfg.Expectations = manifest })

	consume(t, d, `{"Action":"run","Package":"example/pkg","Test":"ExampleHello"}
{"Action":"pass","Package":"example/pkg","Test":"ExampleHello"}
{"Action":"pass","Package":"example/pkg"}
`)

	require.Len(t, *events, 2)
	assert.Equal(t, "example/pkg.ExampleHello", (*events)[0].ID)
	assert.Equal(t, "example/pkg.ExampleHello", (*events)[1].ID)
}

func TestDriver_TestMainFailure(t *testing.T) {
	d, events := newTestDriver(t, nil)
	consume(t, d, `{"Time":"2024-05-01T12:00:00Z","Action":"start","Package":"example/pkg"}
{"Time":"2024-05-01T12:00:00Z","Action":"output","Package":"example/pkg","Output":"database unavailable\n"}
{"Time":"2024-05-01T12:00:00Z","Action":"output","Package":"example/pkg","Output":"FAIL\texample/pkg\t0.01s\n"}
{"Time":"2024-05-01T12:00:00Z","Action":"fail","Package":"example/pkg","Elapsed":0.01}
`)

	require.Equal(t, []string{
		"testStarted example/pkg.TestMain",
		"testFailed example/pkg.TestMain",
		"testFinished example/pkg.TestMain",
	}, eventNames(*events))
	assert.Equal(t, adapter.MessageFailure, (*events)[1].Message)
	assert.Equal(t, "database unavailable\nTestMain: database unavailable\n", (*events)[1].Details)
	assert.Equal(t, "example/pkg", (*events)[0].Flow)
	assert.Equal(t, 1, d.Stats().Failed, "counted like the reported failure message")
	assert.Zero(t, d.Stats().Errors)
	assert.True(t, d.Stats().HasFailures())
}

func TestDriver_BuildFailure(t *testing.T) {
	d, events := newTestDriver(t, nil)
	consume(t, d, `{"ImportPath":"example/pkg [example/pkg.test]","Action":"build-output","Output":"# example/pkg\n"}
{"ImportPath":"example/pkg [example/pkg.test]","Action":"build-output","Output":"./pkg.go:3:1: syntax error\n"}
{"ImportPath":"example/pkg [example/pkg.test]","Action":"build-fail"}
{"Time":"2024-05-01T12:00:00Z","Action":"start","Package":"example/pkg"}
{"Time":"2024-05-01T12:00:00Z","Action":"output","Package":"example/pkg","Output":"FAIL\texample/pkg [build failed]\n"}
{"Time":"2024-05-01T12:00:00Z","Action":"fail","Package":"example/pkg","Elapsed":0,"FailedBuild":"example/pkg [example/pkg.test]"}
`)

	require.Equal(t, []string{
		"testStarted example/pkg.build",
		"testFailed example/pkg.build",
		"testFinished example/pkg.build",
	}, eventNames(*events))
	assert.Contains(t, (*events)[1].Details, "./pkg.go:3:1: syntax error")
	assert.True(t, strings.HasSuffix((*events)[1].Details, "build: # example/pkg\n"))
}

func TestDriver_SetupFailure(t *testing.T) {
	d, events := newTestDriver(t, nil)
	consume(t, d, `{"Action":"output","Package":"example/pkg","Output":"FAIL\texample/pkg [setup failed]\n"}
{"Action":"fail","Package":"example/pkg"}
`)
	require.Len(t, *events, 3)
	assert.Equal(t, "example/pkg.setup", (*events)[0].ID)
	assert.True(t, strings.HasSuffix((*events)[1].Details, "setup: package failed\n"))
}

func TestDriver_IncompleteTestsClosedAtPackageEnd(t *testing.T) {
	d, events := newTestDriver(t, nil)
	consume(t, d, `{"Action":"run","Package":"example/pkg","Test":"TestParent"}
{"Action":"run","Package":"example/pkg","Test":"TestParent/child"}
{"Action":"output","Package":"example/pkg","Test":"TestParent/child","Output":"still running\n"}
{"Action":"fail","Package":"example/pkg"}
`)

	require.Equal(t, []string{
		"testStarted example/pkg.TestParent",
		"testStarted example/pkg.TestParent/child",
		"testFailed example/pkg.TestParent/child",
		"testFinished example/pkg.TestParent/child",
		"testFailed example/pkg.TestParent",
		"testFinished example/pkg.TestParent",
	}, eventNames(*events))
	assert.Equal(t, adapter.MessageError, (*events)[2].Message)
	assert.Equal(t, "still running\ntesting.T: test did not complete\n", (*events)[2].Details)
	assert.Equal(t, 2, d.Stats().Errors)
}

func TestDriver_TruncatedStreamClosedOnEOF(t *testing.T) {
	d, events := newTestDriver(t, nil)
	consume(t, d, `{"Action":"run","Package":"example/pkg","Test":"TestHang"}
`)

	require.Equal(t, []string{
		"testStarted example/pkg.TestHang",
		"testFailed example/pkg.TestHang",
		"testFinished example/pkg.TestHang",
	}, eventNames(*events))
}

func TestDriver_InterleavedPackagesUseSeparateFlows(t *testing.T) {
	d, events := newTestDriver(t, nil)
	consume(t, d, `{"Time":"2024-05-01T12:00:00Z","Action":"run","Package":"example/a","Test":"TestSame"}
{"Time":"2024-05-01T12:00:01Z","Action":"run","Package":"example/b","Test":"TestSame"}
{"Time":"2024-05-01T12:00:03Z","Action":"pass","Package":"example/a","Test":"TestSame"}
{"Time":"2024-05-01T12:00:04Z","Action":"pass","Package":"example/b","Test":"TestSame"}
{"Action":"pass","Package":"example/a"}
{"Action":"pass","Package":"example/b"}
`)

	require.Len(t, *events, 4)
	assert.Equal(t, "example/a.TestSame", (*events)[0].Flow)
	assert.Equal(t, "example/b.TestSame", (*events)[1].Flow)
	assert.Equal(t, 3*time.Second, (*events)[2].Duration)
	assert.Equal(t, 3*time.Second, (*events)[3].Duration)
	assert.Equal(t, 2, d.Stats().Packages)
}

func TestDriver_ParallelTestsUseSeparateFlows(t *testing.T) {
	events := &[]recorded{}
	d, _ := newTestDriver(t, withFlowReporting(events))
	consume(t, d, `{"Time":"2024-05-01T12:00:00Z","Action":"run","Package":"example/pkg","Test":"TestA"}
{"Time":"2024-05-01T12:00:00Z","Action":"pause","Package":"example/pkg","Test":"TestA"}
{"Time":"2024-05-01T12:00:01Z","Action":"run","Package":"example/pkg","Test":"TestB"}
{"Time":"2024-05-01T12:00:01Z","Action":"pause","Package":"example/pkg","Test":"TestB"}
{"Time":"2024-05-01T12:00:01Z","Action":"cont","Package":"example/pkg","Test":"TestA"}
{"Time":"2024-05-01T12:00:01Z","Action":"cont","Package":"example/pkg","Test":"TestB"}
{"Time":"2024-05-01T12:00:02Z","Action":"output","Package":"example/pkg","Test":"TestB","Output":"    b_test.go:4: boom\n"}
{"Time":"2024-05-01T12:00:03Z","Action":"pass","Package":"example/pkg","Test":"TestA"}
{"Time":"2024-05-01T12:00:04Z","Action":"fail","Package":"example/pkg","Test":"TestB"}
{"Time":"2024-05-01T12:00:04Z","Action":"fail","Package":"example/pkg"}
`)

	require.Equal(t, []string{
		"example/pkg.TestA: flowStarted example/pkg",
		"example/pkg.TestA: testStarted example/pkg.TestA",
		"example/pkg.TestB: flowStarted example/pkg",
		"example/pkg.TestB: testStarted example/pkg.TestB",
		"example/pkg.TestA: testFinished example/pkg.TestA",
		"example/pkg.TestA: flowFinished",
		"example/pkg.TestB: testFailed example/pkg.TestB",
		"example/pkg.TestB: testFinished example/pkg.TestB",
		"example/pkg.TestB: flowFinished",
	}, flowEvents(*events))
	assert.Equal(t, 3*time.Second, (*events)[4].Duration)
	assert.Equal(t, 3*time.Second, (*events)[7].Duration)
	assert.Equal(t, 1, d.Stats().Failed)
	assert.Equal(t, 1, d.Stats().Passed)
}

func TestDriver_SubtestFlowsNestUnderParent(t *testing.T) {
	events := &[]recorded{}
	d, _ := newTestDriver(t, withFlowReporting(events))
	consume(t, d, `{"Action":"run","Package":"example/pkg","Test":"TestParent"}
{"Action":"run","Package":"example/pkg","Test":"TestParent/child"}
{"Action":"run","Package":"example/pkg","Test":"TestParent/child/leaf"}
{"Action":"pass","Package":"example/pkg","Test":"TestParent/child/leaf"}
{"Action":"pass","Package":"example/pkg","Test":"TestParent/child"}
{"Action":"pass","Package":"example/pkg","Test":"TestParent"}
{"Action":"pass","Package":"example/pkg"}
`)

	require.Equal(t, []string{
		"example/pkg.TestParent: flowStarted example/pkg",
		"example/pkg.TestParent: testStarted example/pkg.TestParent",
		"example/pkg.TestParent/child: flowStarted example/pkg.TestParent",
		"example/pkg.TestParent/child: testStarted example/pkg.TestParent/child",
		"example/pkg.TestParent/child/leaf: flowStarted example/pkg.TestParent/child",
		"example/pkg.TestParent/child/leaf: testStarted example/pkg.TestParent/child/leaf",
		"example/pkg.TestParent/child/leaf: testFinished example/pkg.TestParent/child/leaf",
		"example/pkg.TestParent/child/leaf: flowFinished",
		"example/pkg.TestParent/child: testFinished example/pkg.TestParent/child",
		"example/pkg.TestParent/child: flowFinished",
		"example/pkg.TestParent: testFinished example/pkg.TestParent",
		"example/pkg.TestParent: flowFinished",
	}, flowEvents(*events))
}

func TestDriver_SuitesAndOutput(t *testing.T) {
	d, events := newTestDriver(t, func(cfg *Config) {
		cfg.Suites = true
		cfg.CaptureOutput = true
		cfg.ModulePath = "github.com/org/repo"
	})
	consume(t, d, `{"Action":"start","Package":"github.com/org/repo/internal/foo"}
{"Action":"run","Package":"github.com/org/repo/internal/foo","Test":"TestLog"}
{"Action":"output","Package":"github.com/org/repo/internal/foo","Test":"TestLog","Output":"\u001b[32mhello\u001b[0m\n"}
{"Action":"pass","Package":"github.com/org/repo/internal/foo","Test":"TestLog"}
{"Action":"pass","Package":"github.com/org/repo/internal/foo"}
`)

	require.Equal(t, []string{
		"testSuiteStarted internal/foo",
		"testStarted internal/foo.TestLog",
		"testStdOut internal/foo.TestLog",
		"testFinished internal/foo.TestLog",
		"testSuiteFinished internal/foo",
	}, eventNames(*events))
	assert.Equal(t, "hello\n", (*events)[2].Details)
}

func TestDriver_PackageName(t *testing.T) {
	d, _ := newTestDriver(t, func(cfg *Config) { cfg.ModulePath = "github.com/org/repo" })
	assert.Equal(t, "repo", d.packageName("github.com/org/repo"))
	assert.Equal(t, "internal/foo", d.packageName("github.com/org/repo/internal/foo"))
	assert.Equal(t, "github.com/org/repository", d.packageName("github.com/org/repository"))
	assert.Equal(t, "golang.org/x/mod", d.packageName("golang.org/x/mod"))
}

func TestDriver_ResultWithoutRun(t *testing.T) {
	d, events := newTestDriver(t, nil)
	consume(t, d, `{"Action":"pass","Package":"example/pkg","Test":"TestNoRun"}
{"Action":"pass","Package":"example/pkg"}
`)
	assert.Equal(t, []string{
		"testStarted example/pkg.TestNoRun",
		"testFinished example/pkg.TestNoRun",
	}, eventNames(*events))
}

func TestDriver_ContextCanceled(t *testing.T) {
	d, _ := newTestDriver(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Consume(ctx, strings.NewReader(`{"Action":"run","Package":"example/pkg","Test":"TestX"}`+"\n"))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDriver_SkipsNonJSONLines(t *testing.T) {
	d, events := newTestDriver(t, nil)
	consume(t, d, `go: downloading example.com/dep v1.0.0
{"Action":"run","Package":"example/pkg","Test":"TestOK"}
{not json
{"Action":"pass","Package":"example/pkg","Test":"TestOK"}
{"Action":"pass","Package":"example/pkg"}
`)
	assert.Len(t, *events, 2)
}
