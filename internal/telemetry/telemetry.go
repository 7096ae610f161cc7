// Package telemetry wires OpenTelemetry tracing and Prometheus metrics for
// the gateway process, following the teacher's ambient observability stack:
// stdout exporters for local/dev visibility (no collector dependency) and a
// small set of decision counters/gauges served on the /metrics endpoint.
package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the package-wide tracer the orchestrator uses to wrap each tool
// execution in a "tool.execute" span.
var Tracer trace.Tracer = otel.Tracer("gatekeeper")

// Setup installs a stdout span exporter as the global tracer provider and
// returns a shutdown function the caller must invoke before process exit to
// flush any buffered spans.
func Setup(ctx context.Context, serviceVersion string) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", "gatekeeper"),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	Tracer = tp.Tracer("gatekeeper")

	return tp.Shutdown, nil
}

// Meter is the package-wide otel meter that SetupMeter points at the stdout
// metrics pipeline. No gateway instrument records on it; the gateway's own
// counters are the Prometheus collectors in Metrics.
var Meter metric.Meter = otel.Meter("gatekeeper")

// SetupMeter installs a stdout metric exporter as the global meter provider
// on a periodic reader, for local/dev visibility into otel instruments
// without standing up a collector. Returns a shutdown function the caller
// must invoke before process exit to flush any buffered measurements.
func SetupMeter(ctx context.Context, serviceVersion string) (func(context.Context) error, error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", "gatekeeper"),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(mp)
	Meter = mp.Meter("gatekeeper")

	return mp.Shutdown, nil
}

// Metrics holds the Prometheus collectors the orchestrator updates,
// grounded on the teacher's metrics.go conventions.
type Metrics struct {
	DecisionsTotal        *prometheus.CounterVec
	ApprovalsExpiredTotal prometheus.Counter
	ToolExecutionSeconds  *prometheus.HistogramVec
	PendingApprovalsGauge prometheus.Gauge
}

// NewMetrics constructs and registers the gateway's metrics against reg. A
// nil reg registers against prometheus's default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_decisions_total",
			Help: "Count of policy decisions by tool and decision outcome.",
		}, []string{"tool", "decision"}),
		ApprovalsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_approvals_expired_total",
			Help: "Count of pending approvals that expired without being resolved.",
		}),
		ToolExecutionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "gatekeeper_tool_execution_seconds",
			Help: "Tool execution latency by tool name.",
		}, []string{"tool"}),
		PendingApprovalsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_pending_approvals",
			Help: "Current number of pending approvals.",
		}),
	}
	reg.MustRegister(m.DecisionsTotal, m.ApprovalsExpiredTotal, m.ToolExecutionSeconds, m.PendingApprovalsGauge)
	return m
}
