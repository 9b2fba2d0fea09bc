// Package telemetry sets up error reporting and tracing for the service.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const ServiceName = "sitespeed-compare"

type Options struct {
	SentryDSN    string
	OTLPEndpoint string
	Release      string
	Logger       *slog.Logger
}

// Shutdown flushes pending events and spans.
type Shutdown func(ctx context.Context) error

// Setup initialises Sentry when a DSN is configured and installs an OTLP
// tracer provider when an endpoint is configured. Without either it is a no-op.
func Setup(ctx context.Context, opts Options) (Shutdown, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var shutdowns []Shutdown

	if opts.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              opts.SentryDSN,
			Release:          opts.Release,
			AttachStacktrace: true,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialise sentry: %w", err)
		}
		logger.Info("sentry enabled")
		shutdowns = append(shutdowns, func(ctx context.Context) error {
			timeout := 2 * time.Second
			if deadline, ok := ctx.Deadline(); ok {
				timeout = time.Until(deadline)
			}
			sentry.Flush(timeout)
			return nil
		})
	}

	if opts.OTLPEndpoint != "" {
		tp, err := newTracerProvider(ctx, opts.OTLPEndpoint)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		logger.Info("tracing enabled", "endpoint", opts.OTLPEndpoint)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	return func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}, nil
}

func newTracerProvider(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}
	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

// CaptureError reports err to Sentry with the given tags. It is a no-op when
// Sentry is not initialised.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}
