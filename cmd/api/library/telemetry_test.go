package library_test

import (
	"testing"

	"github.com/library-service/cmd/api/library"
	"github.com/matryer/is"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newObservedLibrary records every span and counter of the service.
func newObservedLibrary(t *testing.T) (*library.Service, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	recorder := tracetest.NewSpanRecorder()
	svc, _ := newLibrary(t, library.WithTelemetry(
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	))
	return svc, reader, recorder
}

func counterPoints(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	is := is.New(t)
	var rm metricdata.ResourceMetrics
	is.NoErr(reader.Collect(ctx, &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			is.True(ok) // counters are int64 sums
			return sum.DataPoints
		}
	}
	return nil
}

func endedSpans(recorder *tracetest.SpanRecorder, name string) []sdktrace.ReadOnlySpan {
	var spans []sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == name {
			spans = append(spans, s)
		}
	}
	return spans
}

func spanAttribute(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTelemetry(t *testing.T) {
	t.Run("a refused checkout is counted by reason and marks its span", func(t *testing.T) {
		is := is.New(t)
		svc, reader, recorder := newObservedLibrary(t)
		u := seedUser(t, svc, "reader")
		b := seedBook(t, svc, "Dune", 2)

		_, err := svc.Checkout(ctx, u.ID, b.ID)
		is.NoErr(err)
		_, err = svc.Checkout(ctx, u.ID, b.ID)
		is.Equal(err, library.ErrResponseDuplicateLoan)

		rejections := counterPoints(t, reader, "library.loans.rejections")
		is.Equal(len(rejections), 1)
		is.Equal(rejections[0].Value, int64(1))
		reason, ok := rejections[0].Attributes.Value("reason")
		is.True(ok)
		is.Equal(reason.AsString(), "duplicate_loan")

		checkouts := counterPoints(t, reader, "library.loans.checkouts")
		is.Equal(len(checkouts), 1)
		is.Equal(checkouts[0].Value, int64(1))

		spans := endedSpans(recorder, "library.Checkout")
		is.Equal(len(spans), 2)

		is.Equal(spans[0].Status().Code, codes.Unset)
		_, ok = spanAttribute(spans[0], "library.error_kind")
		is.True(!ok)

		refused := spans[1]
		is.Equal(refused.Status().Code, codes.Error)
		kind, ok := spanAttribute(refused, "library.error_kind")
		is.True(ok)
		is.Equal(kind.AsString(), string(library.KindPolicyViolation))
		userID, ok := spanAttribute(refused, "user.id")
		is.True(ok)
		is.Equal(userID.AsInt64(), u.ID)
		bookID, ok := spanAttribute(refused, "book.id")
		is.True(ok)
		is.Equal(bookID.AsInt64(), b.ID)
	})

	t.Run("a return is counted and traced", func(t *testing.T) {
		is := is.New(t)
		svc, reader, recorder := newObservedLibrary(t)
		u := seedUser(t, svc, "reader")
		b := seedBook(t, svc, "Dune", 1)

		_, err := svc.Checkout(ctx, u.ID, b.ID)
		is.NoErr(err)
		_, err = svc.Return(ctx, u.ID, b.ID)
		is.NoErr(err)
		_, err = svc.Return(ctx, u.ID, b.ID)
		is.Equal(err, library.ErrResponseLoanNotFound)

		returns := counterPoints(t, reader, "library.loans.returns")
		is.Equal(len(returns), 1)
		is.Equal(returns[0].Value, int64(1))

		spans := endedSpans(recorder, "library.Return")
		is.Equal(len(spans), 2)
		kind, ok := spanAttribute(spans[1], "library.error_kind")
		is.True(ok)
		is.Equal(kind.AsString(), string(library.KindNotFound))
	})
}
