// Package observability provides OpenTelemetry tracing for pgexport runs.
//
// Until InitTracing is called every span is a no-op, so instrumented code
// pays nothing when --tracing is off.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/pgexport"

// Span wraps an OpenTelemetry span with batched attributes.
type Span struct {
	span       trace.Span
	attributes []attribute.KeyValue
}

// NewSpan starts a span named operationName as a child of ctx's span.
func NewSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, operationName)
	return ctx, &Span{span: span}
}

// SetAttribute adds an attribute to the span (batched until End)
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent adds an event to the span
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Finish records err (if any) as the span status and ends the span.
func (s *Span) Finish(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.End()
}

// End ends the span
func (s *Span) End() {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	s.span.End()
}

// ExportTracer names spans for one export run.
type ExportTracer struct {
	owner string
}

// NewExportTracer creates a tracer for tables owned by owner.
func NewExportTracer(owner string) *ExportTracer {
	return &ExportTracer{owner: owner}
}

// StartRun starts the root span of a run.
func (et *ExportTracer) StartRun(ctx context.Context, parallel bool) (context.Context, *Span) {
	ctx, span := NewSpan(ctx, "pgexport.run")
	span.SetAttribute("db.owner", et.owner)
	span.SetAttribute("export.parallel", parallel)
	return ctx, span
}

// StartTable starts the span covering the export of one table.
func (et *ExportTracer) StartTable(ctx context.Context, table string) (context.Context, *Span) {
	ctx, span := NewSpan(ctx, "pgexport.table")
	span.SetAttribute("db.owner", et.owner)
	span.SetAttribute("db.sql.table", table)
	return ctx, span
}

// TracePage traces fetching one page of stream at offset.
func TracePage(ctx context.Context, stream string, offset int64, fn func() (int, error)) error {
	_, span := NewSpan(ctx, "pgexport.page")
	span.SetAttribute("page.stream", stream)
	span.SetAttribute("page.offset", offset)

	n, err := fn()
	span.SetAttribute("page.rows", n)
	span.Finish(err)
	return err
}
