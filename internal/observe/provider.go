package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Resource attribute keys describing the interview backend of this process.
const (
	LiveProviderKey = attribute.Key("nexus.live.provider")
	LiveModelKey    = attribute.Key("nexus.live.model")
)

// ProviderConfig configures the telemetry pipeline of one nexus process.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "nexus".
	ServiceName string

	// ServiceVersion is the build version reported in telemetry.
	ServiceVersion string

	// LiveProvider and LiveModel name the streaming backend the interview
	// runs against. Empty values are omitted from the resource.
	LiveProvider string
	LiveModel    string

	// TraceExporter receives finished spans. When nil, spans are recorded
	// but go nowhere.
	TraceExporter sdktrace.SpanExporter

	// Registerer is where the Prometheus bridge registers its collector.
	// Default: [prometheus.DefaultRegisterer], which /metrics serves.
	Registerer prometheus.Registerer
}

// Telemetry owns the SDK providers built by [NewTelemetry].
type Telemetry struct {
	res *resource.Resource
	mp  *sdkmetric.MeterProvider
	tp  *sdktrace.TracerProvider
}

// NewTelemetry builds a meter provider bridged to Prometheus and a tracer
// provider, both tagged with a resource describing the service and its live
// backend. Nothing global changes until [Telemetry.Install].
func NewTelemetry(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "nexus"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.LiveProvider != "" {
		attrs = append(attrs, LiveProviderKey.String(cfg.LiveProvider))
	}
	if cfg.LiveModel != "" {
		attrs = append(attrs, LiveModelKey.String(cfg.LiveModel))
	}
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
		resource.WithAttributes(attrs...),
	)
	if errors.Is(err, resource.ErrPartialResource) {
		// Detectors that fail leave their attributes out; the rest is usable.
		slog.Warn("observe: partial telemetry resource", "err", err)
	} else if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	promExp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}

	return &Telemetry{
		res: res,
		mp:  sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(promExp)),
		tp:  sdktrace.NewTracerProvider(tpOpts...),
	}, nil
}

// Install registers both providers as the global OTel providers, which
// [Tracer] and [DefaultMetrics] read from.
func (t *Telemetry) Install() {
	otel.SetMeterProvider(t.mp)
	otel.SetTracerProvider(t.tp)
}

// Resource returns the resource attached to every span and metric.
func (t *Telemetry) Resource() *resource.Resource { return t.res }

// TracerProvider returns the tracer provider.
func (t *Telemetry) TracerProvider() *sdktrace.TracerProvider { return t.tp }

// ForceFlush exports every span ended so far.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	return t.tp.ForceFlush(ctx)
}

// Shutdown flushes and stops both providers. Spans go first so a slow
// exporter does not hold back the final metric collection.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.tp.Shutdown(ctx), t.mp.Shutdown(ctx))
}
