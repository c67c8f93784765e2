package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"devconsole/internal/config"
)

// Common span names
const (
	SpanSSOExchange   = "devconsole.sso.exchange"
	SpanSSOStep       = "devconsole.sso.step"
	SpanInspect       = "devconsole.devpanel.inspect"
	SpanHTTPServer    = "devconsole.http.request"
	SpanStreamConnect = "devconsole.devpanel.stream"
)

// Span attribute keys
const (
	AttrProvider  = "devconsole.provider"
	AttrStep      = "devconsole.step"
	AttrErrCode   = "devconsole.errcode"
	AttrInspector = "devconsole.inspector"
)

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider installs a global tracer provider exporting spans over
// OTLP/HTTP. When tracing is disabled a noop tracer is returned and the
// global provider is left untouched.
func NewTracerProvider(ctx context.Context, cfg config.TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{tracer: noop.NewTracerProvider().Tracer("devconsole")}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "devconsole"
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1.0 {
		cfg.SampleRate = 1.0
	}
	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("devconsole"),
	}, nil
}

// Shutdown flushes and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Tracer returns a named tracer from the global provider. Packages call this
// lazily so they pick up whatever provider the binary installed.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
