package bridge

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationScope = "github.com/fpt/agentbridge/internal/bridge"

// instrumentation uses the global providers, which are no-ops unless the
// binary installs an SDK.
type instrumentation struct {
	tracer     trace.Tracer
	opened     metric.Int64Counter
	dispatched metric.Int64Counter
}

func newInstrumentation() *instrumentation {
	meter := otel.Meter(instrumentationScope)
	opened, err := meter.Int64Counter("bridge.sessions.opened",
		metric.WithDescription("Client sessions accepted"))
	if err != nil {
		otel.Handle(err)
	}
	dispatched, err := meter.Int64Counter("bridge.commands.dispatched",
		metric.WithDescription("Translated commands handed to the agent bus"))
	if err != nil {
		otel.Handle(err)
	}
	return &instrumentation{
		tracer:     otel.Tracer(instrumentationScope),
		opened:     opened,
		dispatched: dispatched,
	}
}

func (i *instrumentation) start(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("session.id", sessionID)))
}

func (i *instrumentation) sessionOpened(ctx context.Context) {
	if i.opened != nil {
		i.opened.Add(ctx, 1)
	}
}

func (i *instrumentation) commandDispatched(ctx context.Context, destination string) {
	if i.dispatched != nil {
		i.dispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("bus.destination", destination)))
	}
}

// end closes span, recording err when set.
func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
