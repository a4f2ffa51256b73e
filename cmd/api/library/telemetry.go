package library

import (
	"context"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/library-service/cmd/api/library"

type telemetry struct {
	tracer     trace.Tracer
	checkouts  metric.Int64Counter
	returns    metric.Int64Counter
	rejections metric.Int64Counter
}

// WithTelemetry sends spans and counters to the given providers instead of the global ones.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.tracerProvider = tp
		s.meterProvider = mp
	}
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) telemetry {
	meter := mp.Meter(instrumentationName)
	return telemetry{
		tracer:     tp.Tracer(instrumentationName),
		checkouts:  counter(meter, "library.loans.checkouts", "Loans created"),
		returns:    counter(meter, "library.loans.returns", "Loans returned"),
		rejections: counter(meter, "library.loans.rejections", "Checkouts refused by the loan policy"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		log.Printf("creating counter %s: %v", name, err)
		return noop.Int64Counter{}
	}
	return c
}

func (t telemetry) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// end closes the span and, on failure, marks it with the error kind.
func end(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("library.error_kind", string(KindOf(err))))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
