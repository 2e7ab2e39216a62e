package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wargadesa/desaflow/internal/domain"
)

const tracerName = "github.com/wargadesa/desaflow/internal/adapter/otel"

// TracingRepository wraps a domain.RequestRepository with OpenTelemetry
// tracing. Each method creates a span with semantic attributes and records
// errors. The Transact span covers the whole read-modify-write scope, so
// the availability check and status write of a transition show up as one
// unit in traces.
type TracingRepository struct {
	next   domain.RequestRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.RequestRepository.
var _ domain.RequestRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.RequestRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) GetByID(ctx context.Context, id string) (domain.Request, error) {
	ctx, span := r.tracer.Start(ctx, "RequestRepository.GetByID",
		trace.WithAttributes(attribute.String("request.id", id)),
	)
	defer span.End()

	req, err := r.next.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return req, err
}

func (r *TracingRepository) SubjectHeld(ctx context.Context, subjectID, excludeID string, held domain.Status) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "RequestRepository.SubjectHeld",
		trace.WithAttributes(
			attribute.String("subject.id", subjectID),
			attribute.String("held.status", string(held)),
		),
	)
	defer span.End()

	heldNow, err := r.next.SubjectHeld(ctx, subjectID, excludeID, held)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return heldNow, err
}

func (r *TracingRepository) CountBySubject(ctx context.Context, kind domain.Kind, subjectID string) (int, error) {
	ctx, span := r.tracer.Start(ctx, "RequestRepository.CountBySubject",
		trace.WithAttributes(
			attribute.String("request.kind", string(kind)),
			attribute.String("subject.id", subjectID),
		),
	)
	defer span.End()

	n, err := r.next.CountBySubject(ctx, kind, subjectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return n, err
}

func (r *TracingRepository) List(ctx context.Context, filter domain.RequestFilter) ([]domain.Request, error) {
	ctx, span := r.tracer.Start(ctx, "RequestRepository.List",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)
	defer span.End()

	if filter.Kind != nil {
		span.SetAttributes(attribute.String("filter.kind", string(*filter.Kind)))
	}
	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}

	reqs, err := r.next.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", len(reqs)))
	}
	return reqs, err
}

func (r *TracingRepository) History(ctx context.Context, requestID string) ([]domain.AuditEntry, error) {
	ctx, span := r.tracer.Start(ctx, "RequestRepository.History",
		trace.WithAttributes(attribute.String("request.id", requestID)),
	)
	defer span.End()

	entries, err := r.next.History(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return entries, err
}

func (r *TracingRepository) Transact(ctx context.Context, fn func(tx domain.RequestTx) error) error {
	ctx, span := r.tracer.Start(ctx, "RequestRepository.Transact")
	defer span.End()

	err := r.next.Transact(ctx, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
