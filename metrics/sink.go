package metrics

import (
	"time"

	"github.com/ethereum-optimism/infra/op-teamcity/adapter"
	"github.com/ethereum-optimism/infra/op-teamcity/types"
)

var _ adapter.Sink = (*Sink)(nil)

// Sink records metrics for every event passed through to the next sink.
// Like the adapter feeding it, a Sink serves a single flow.
type Sink struct {
	next    adapter.Sink
	m       *Metrics
	outcome map[string]types.TestStatus
}

// NewSink wraps next with metrics recording
func NewSink(next adapter.Sink, m *Metrics) *Sink {
	return &Sink{
		next:    next,
		m:       m,
		outcome: make(map[string]types.TestStatus),
	}
}

func (s *Sink) TestStarted(id string) error {
	s.m.RecordEvent(EventStarted)
	s.outcome[id] = types.TestStatusPass
	return s.record("test_started", s.next.TestStarted(id))
}

func (s *Sink) TestFinished(id string, duration time.Duration) error {
	s.m.RecordEvent(EventFinished)
	status, ok := s.outcome[id]
	if !ok {
		status = types.TestStatusPass
	}
	delete(s.outcome, id)
	s.m.RecordOutcome(status, duration)
	return s.record("test_finished", s.next.TestFinished(id, duration))
}

func (s *Sink) TestFailed(id, message, details string) error {
	s.m.RecordEvent(EventFailed)
	s.outcome[id] = adapter.FailedStatus(message)
	return s.record("test_failed", s.next.TestFailed(id, message, details))
}

func (s *Sink) TestIgnored(id, message string) error {
	s.m.RecordEvent(EventIgnored)
	s.outcome[id] = adapter.IgnoredStatus(message)
	return s.record("test_ignored", s.next.TestIgnored(id, message))
}

func (s *Sink) record(label string, err error) error {
	s.m.RecordErrorDetails(label, err)
	return err
}
