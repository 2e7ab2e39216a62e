package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wargadesa/desaflow/internal/domain"
)

// TracingQueue wraps a domain.NotificationQueue with OpenTelemetry tracing.
type TracingQueue struct {
	next   domain.NotificationQueue
	tracer trace.Tracer
}

// Compile-time check: TracingQueue implements domain.NotificationQueue.
var _ domain.NotificationQueue = (*TracingQueue)(nil)

// NewTracingQueue creates a tracing decorator around the given queue.
func NewTracingQueue(next domain.NotificationQueue) *TracingQueue {
	return &TracingQueue{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (q *TracingQueue) Enqueue(ctx context.Context, n domain.Notification) error {
	ctx, span := q.tracer.Start(ctx, "NotificationQueue.Enqueue",
		trace.WithAttributes(
			attribute.String("notification.template", n.TemplateID),
			attribute.String("notification.recipient", n.Recipient),
			attribute.String("request.id", n.RequestID),
			attribute.String("request.to_status", string(n.ToStatus)),
		),
	)
	defer span.End()

	err := q.next.Enqueue(ctx, n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
