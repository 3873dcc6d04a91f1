package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span is a started span whose status is set from the error it finishes
// with.
type Span struct {
	span trace.Span
}

// Start opens a span named name on the package tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, span := GetTracer().Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Span{span: span}
}

// Set adds attributes to the span.
func (s *Span) Set(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

// Finish records err, if any, and ends the span.
func (s *Span) Finish(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// End ends the span without a status.
func (s *Span) End() {
	s.span.End()
}

// TraceBatch runs fn inside a loader.commit_batch span.
func TraceBatch(ctx context.Context, batchIndex, rows int, fn func(ctx context.Context) error) error {
	ctx, span := Start(ctx, "loader.commit_batch",
		attribute.Int("batch.index", batchIndex),
		attribute.Int("batch.rows", rows))
	err := fn(ctx)
	span.Finish(err)
	return err
}
