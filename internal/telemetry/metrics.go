package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/drawbridge"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Acceptor metrics
	ConnectionsAccepted metric.Int64Counter
	AcceptErrors        metric.Int64Counter
	HandleErrors        metric.Int64Counter
	HandleDuration      metric.Float64Histogram

	// Store metrics
	TagsWritten metric.Int64Counter
	TagsRead    metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for connection spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	m.ConnectionsAccepted, _ = meter.Int64Counter(
		"drawbridge.connections.accepted.total",
		metric.WithDescription("Total number of accepted TCP connections"),
		metric.WithUnit("{connection}"),
	)

	m.AcceptErrors, _ = meter.Int64Counter(
		"drawbridge.connections.accept_errors.total",
		metric.WithDescription("Total number of failed accepts"),
		metric.WithUnit("{error}"),
	)

	m.HandleErrors, _ = meter.Int64Counter(
		"drawbridge.connections.handle_errors.total",
		metric.WithDescription("Total number of connections whose handling failed"),
		metric.WithUnit("{error}"),
	)

	m.HandleDuration, _ = meter.Float64Histogram(
		"drawbridge.connections.handle.duration",
		metric.WithDescription("Duration of per-connection handling"),
		metric.WithUnit("ms"),
	)

	m.TagsWritten, _ = meter.Int64Counter(
		"drawbridge.store.tags.written.total",
		metric.WithDescription("Total number of tags written to the store"),
		metric.WithUnit("{tag}"),
	)

	m.TagsRead, _ = meter.Int64Counter(
		"drawbridge.store.tags.read.total",
		metric.WithDescription("Total number of tags read from the store"),
		metric.WithUnit("{tag}"),
	)

	return m
}
