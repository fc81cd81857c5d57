// Package metrics instruments the reporting events emitted for a test run.
package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-teamcity/types"
)

const (
	MetricsNamespace = "op_teamcity"

	EventStarted  = "test_started"
	EventFinished = "test_finished"
	EventFailed   = "test_failed"
	EventIgnored  = "test_ignored"
)

var nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

// Metrics holds the collectors of one run
type Metrics struct {
	log      log.Logger
	Debug    bool
	events   *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
	errors   *prometheus.CounterVec
}

// New registers the collectors with the factory
func New(factory opmetrics.Factory, logger log.Logger) *Metrics {
	return &Metrics{
		log: logger,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "events_total",
			Help:      "Count of reporting events emitted",
		}, []string{
			"event",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "outcomes_total",
			Help:      "Count of finished tests by outcome",
		}, []string{
			"outcome",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "test_duration_seconds",
			Help:      "Duration of finished tests",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 10, 30, 60, 300},
		}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "errors_total",
			Help:      "Count of errors",
		}, []string{
			"error",
		}),
	}
}

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func (m *Metrics) debug(metric string, ctx ...any) {
	if m.Debug && m.log != nil {
		m.log.Debug("metric inc", append([]any{"m", metric}, ctx...)...)
	}
}

func (m *Metrics) RecordEvent(event string) {
	m.debug("events_total", "event", event)
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordOutcome(status types.TestStatus, d time.Duration) {
	m.debug("outcomes_total", "outcome", status, "duration", d)
	m.outcomes.WithLabelValues(string(status)).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) RecordError(error string) {
	m.debug("errors_total", "error", error)
	m.errors.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func (m *Metrics) RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	m.RecordError(fmt.Sprintf("%s.%s", label, errToLabel(err)))
}
