// Package tracing records an OpenTelemetry span for every reported test.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-teamcity/adapter"
	"github.com/ethereum-optimism/infra/op-teamcity/types"
)

const TracerName = "op-teamcity"

const (
	AttrPackage  = attribute.Key("test.package")
	AttrID       = attribute.Key("test.id")
	AttrStatus   = attribute.Key("test.status")
	AttrMessage  = attribute.Key("test.message")
	AttrDuration = attribute.Key("test.duration_ms")
)

var _ adapter.Sink = (*Sink)(nil)

// Sink opens a span on testStarted and ends it on testFinished.
// It serves a single flow.
type Sink struct {
	ctx    context.Context
	tracer trace.Tracer
	pkg    string
	next   adapter.Sink
	spans  map[string]trace.Span
}

// NewSink wraps next. A nil tracer uses the global tracer provider.
func NewSink(ctx context.Context, tracer trace.Tracer, pkg string, next adapter.Sink) *Sink {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return &Sink{
		ctx:    ctx,
		tracer: tracer,
		pkg:    pkg,
		next:   next,
		spans:  make(map[string]trace.Span),
	}
}

func (s *Sink) TestStarted(id string) error {
	_, span := s.tracer.Start(s.ctx, fmt.Sprintf("test %s", id),
		trace.WithAttributes(AttrPackage.String(s.pkg), AttrID.String(id)),
	)
	// A restarted identity replaces its previous span
	if prev, ok := s.spans[id]; ok {
		prev.End()
	}
	s.spans[id] = span
	return s.next.TestStarted(id)
}

func (s *Sink) TestFinished(id string, duration time.Duration) error {
	if span, ok := s.spans[id]; ok {
		span.SetAttributes(AttrDuration.Int64(duration.Milliseconds()))
		span.End()
		delete(s.spans, id)
	}
	return s.next.TestFinished(id, duration)
}

func (s *Sink) TestFailed(id, message, details string) error {
	if span, ok := s.spans[id]; ok {
		span.SetAttributes(
			AttrStatus.String(string(adapter.FailedStatus(message))),
			AttrMessage.String(message),
		)
		span.AddEvent("failure", trace.WithAttributes(attribute.String("details", details)))
		span.SetStatus(codes.Error, message)
	}
	return s.next.TestFailed(id, message, details)
}

func (s *Sink) TestIgnored(id, message string) error {
	if span, ok := s.spans[id]; ok {
		span.SetAttributes(
			AttrStatus.String(string(adapter.IgnoredStatus(message))),
			AttrMessage.String(message),
		)
	}
	return s.next.TestIgnored(id, message)
}

// Close ends the spans of tests that never finished
func (s *Sink) Close() {
	for id, span := range s.spans {
		span.SetAttributes(AttrStatus.String(string(types.TestStatusError)))
		span.SetStatus(codes.Error, "test did not finish")
		span.End()
		delete(s.spans, id)
	}
}
