// Package observability provides OpenTelemetry tracing and metrics for the
// consensus engine: OTLP export plus counters over the vote and release
// paths. Disabled configurations produce a provider whose metrics are
// no-ops, so callers never branch on telemetry being on.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317" for gRPC
	BatchTimeout   time.Duration
	Enabled        bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "escrow-consensus",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
	}
}

// Provider manages trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	metrics        *Metrics
	logger         *slog.Logger
}

// New creates the observability provider and registers global propagators.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(config.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	p.tracer = p.tracerProvider.Tracer(config.ServiceName)

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.metrics, err = newMetrics(p.meterProvider.Meter(config.ServiceName))
	if err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "observability enabled", "endpoint", config.OTLPEndpoint)
	return p, nil
}

// Metrics returns the engine counters; nil when telemetry is disabled
// (every Metrics method is nil-safe).
func (p *Provider) Metrics() *Metrics { return p.metrics }

// Tracer returns the configured tracer, or a no-op one.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("noop")
	}
	return p.tracer
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Metrics are the consensus-path counters.
type Metrics struct {
	votesAccepted     metric.Int64Counter
	votesRejected     metric.Int64Counter
	releasesTriggered metric.Int64Counter
	anchorsSubmitted  metric.Int64Counter
	anchorRetries     metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.votesAccepted, err = meter.Int64Counter("consensus.votes.accepted",
		metric.WithDescription("Votes verified and durably stored")); err != nil {
		return nil, err
	}
	if m.votesRejected, err = meter.Int64Counter("consensus.votes.rejected",
		metric.WithDescription("Votes rejected, by reason")); err != nil {
		return nil, err
	}
	if m.releasesTriggered, err = meter.Int64Counter("escrow.releases.triggered",
		metric.WithDescription("Exactly-once release claims won")); err != nil {
		return nil, err
	}
	if m.anchorsSubmitted, err = meter.Int64Counter("ledger.anchors.submitted",
		metric.WithDescription("Anchoring transactions accepted by the ledger")); err != nil {
		return nil, err
	}
	if m.anchorRetries, err = meter.Int64Counter("ledger.anchors.retries",
		metric.WithDescription("Anchoring attempts that failed and were rescheduled")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) VoteAccepted(ctx context.Context) {
	if m == nil {
		return
	}
	m.votesAccepted.Add(ctx, 1)
}

func (m *Metrics) VoteRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.votesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) ReleaseTriggered(ctx context.Context) {
	if m == nil {
		return
	}
	m.releasesTriggered.Add(ctx, 1)
}

func (m *Metrics) AnchorSubmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.anchorsSubmitted.Add(ctx, 1)
}

func (m *Metrics) AnchorRetried(ctx context.Context) {
	if m == nil {
		return
	}
	m.anchorRetries.Add(ctx, 1)
}
