// Package reporting collects the reported outcome of every test and renders
// an end-of-run summary.
package reporting

import (
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-teamcity/adapter"
	"github.com/ethereum-optimism/infra/op-teamcity/types"
)

// Recorder collects results from any number of flows
type Recorder struct {
	mu       sync.Mutex
	results  []*types.TestResult
	inFlight map[string]*types.TestResult
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{
		inFlight: make(map[string]*types.TestResult),
	}
}

// Sink returns a sink for the flow of pkg that records every event before
// passing it on to next.
func (r *Recorder) Sink(pkg string, next adapter.Sink) adapter.Sink {
	return &recordingSink{rec: r, pkg: pkg, next: next}
}

// Results returns the finished results in the order they finished
func (r *Recorder) Results() []*types.TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.TestResult, len(r.results))
	copy(out, r.results)
	return out
}

func (r *Recorder) key(pkg, id string) string {
	return pkg + "\x00" + id
}

func (r *Recorder) update(pkg, id string, fn func(*types.TestResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(pkg, id)
	tr, ok := r.inFlight[k]
	if !ok {
		tr = types.NewTestResult(pkg, id)
		r.inFlight[k] = tr
	}
	fn(tr)
	if tr.Finished {
		delete(r.inFlight, k)
		r.results = append(r.results, tr)
	}
}

type recordingSink struct {
	rec  *Recorder
	pkg  string
	next adapter.Sink
}

func (s *recordingSink) TestStarted(id string) error {
	s.rec.update(s.pkg, id, func(*types.TestResult) {})
	return s.next.TestStarted(id)
}

func (s *recordingSink) TestFinished(id string, duration time.Duration) error {
	s.rec.update(s.pkg, id, func(tr *types.TestResult) {
		tr.Duration = duration
		tr.Finished = true
	})
	return s.next.TestFinished(id, duration)
}

func (s *recordingSink) TestFailed(id, message, details string) error {
	s.rec.update(s.pkg, id, func(tr *types.TestResult) {
		tr.Status = adapter.FailedStatus(message)
		tr.Message = message
		tr.Details = details
	})
	return s.next.TestFailed(id, message, details)
}

func (s *recordingSink) TestIgnored(id, message string) error {
	s.rec.update(s.pkg, id, func(tr *types.TestResult) {
		tr.Status = adapter.IgnoredStatus(message)
		tr.Message = message
	})
	return s.next.TestIgnored(id, message)
}
