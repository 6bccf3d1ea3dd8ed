package observability

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
)

// PipelineObserver reports pipeline lifecycle events as Prometheus
// counters and an OpenTelemetry span per message, spanning from
// OnReceived to OnForwarded (or never closed, for a message still held
// when the process exits, same as the teacher leaves in-flight request
// spans open on shutdown).
type PipelineObserver struct {
	metrics *Metrics
	tracer  trace.Tracer

	mu    sync.Mutex
	spans map[uuid.UUID]trace.Span
}

// NewPipelineObserver creates an observer reporting to metrics and
// opening spans on tracer.
func NewPipelineObserver(metrics *Metrics, tracer trace.Tracer) *PipelineObserver {
	return &PipelineObserver{
		metrics: metrics,
		tracer:  tracer,
		spans:   make(map[uuid.UUID]trace.Span),
	}
}

func (o *PipelineObserver) OnReceived(msg *proxy.ProxyMessage) {
	o.metrics.MessagesTotal.WithLabelValues(msg.Direction.String(), string(msg.Transport)).Inc()

	method := ""
	if msg.Method != nil {
		method = *msg.Method
	}
	_, span := o.tracer.Start(context.Background(), "wiretap.message",
		trace.WithAttributes(
			attribute.String("proxy_id", msg.ProxyID.String()),
			attribute.String("direction", msg.Direction.String()),
			attribute.String("transport", string(msg.Transport)),
			attribute.String("method", method),
		),
	)
	o.mu.Lock()
	o.spans[msg.ProxyID] = span
	o.mu.Unlock()
}

func (o *PipelineObserver) OnHeld(held *proxy.HeldMessage) {
	o.span(held.Message.ProxyID, func(span trace.Span) {
		span.AddEvent("held")
	})
}

func (o *PipelineObserver) OnForwarded(msg *proxy.ProxyMessage) {
	if msg.Modified {
		o.metrics.ModifiedTotal.Inc()
	}
	o.endSpan(msg.ProxyID, func(span trace.Span) {
		if msg.Modified {
			span.AddEvent("modified")
		}
		span.SetStatus(codes.Ok, "")
	})
}

func (o *PipelineObserver) span(id uuid.UUID, fn func(trace.Span)) {
	o.mu.Lock()
	span, ok := o.spans[id]
	o.mu.Unlock()
	if ok {
		fn(span)
	}
}

func (o *PipelineObserver) endSpan(id uuid.UUID, fn func(trace.Span)) {
	o.mu.Lock()
	span, ok := o.spans[id]
	if ok {
		delete(o.spans, id)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	fn(span)
	span.End()
}

var _ proxy.Observer = (*PipelineObserver)(nil)
