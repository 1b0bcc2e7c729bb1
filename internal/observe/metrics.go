// Package observe provides observability primitives for the chainer:
// OpenTelemetry metrics and the provider bootstrap that bridges them to a
// Prometheus /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all chainer metrics.
const meterName = "github.com/localSummer/mcp-tool-chainer"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ToolCallDuration tracks downstream tools/call latency. Attributes:
	//   attribute.String("server", ...), attribute.String("tool", ...), attribute.String("status", ...)
	ToolCallDuration metric.Float64Histogram

	// DiscoveryDuration tracks the duration of a full registry rebuild.
	DiscoveryDuration metric.Float64Histogram

	// ChainExecutions counts mcp_chain invocations. Attribute:
	//   attribute.String("status", ...)
	ChainExecutions metric.Int64Counter

	// ChainSteps counts executed chain steps. Attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ChainSteps metric.Int64Counter

	// DiscardedFrames counts stdout lines rejected by the frame acceptance
	// rule. Attribute: attribute.String("server", ...)
	DiscardedFrames metric.Int64Counter

	// ActiveDownstreams tracks the number of live downstream child processes.
	ActiveDownstreams metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// downstream tool calls, which range from sub-millisecond echoes to
// network-bound fetches near the 30 s request deadline.
var latencyBuckets = []float64{
	0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ToolCallDuration, err = m.Float64Histogram("chainer.tool_call.duration",
		metric.WithDescription("Latency of downstream tools/call requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DiscoveryDuration, err = m.Float64Histogram("chainer.discovery.duration",
		metric.WithDescription("Duration of a full tool-registry rebuild."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChainExecutions, err = m.Int64Counter("chainer.chain.executions",
		metric.WithDescription("Total mcp_chain invocations by status."),
	); err != nil {
		return nil, err
	}
	if met.ChainSteps, err = m.Int64Counter("chainer.chain.steps",
		metric.WithDescription("Total executed chain steps by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.DiscardedFrames, err = m.Int64Counter("chainer.transport.discarded_frames",
		metric.WithDescription("Stdout lines rejected by the frame acceptance rule."),
	); err != nil {
		return nil, err
	}
	if met.ActiveDownstreams, err = m.Int64UpDownCounter("chainer.downstreams.active",
		metric.WithDescription("Number of live downstream child processes."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordToolCall records one downstream tools/call with its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, server, tool, status string, seconds float64) {
	m.ToolCallDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("server", server),
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordChainExecution records one mcp_chain invocation outcome.
func (m *Metrics) RecordChainExecution(ctx context.Context, status string) {
	m.ChainExecutions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordChainStep records one executed chain step outcome.
func (m *Metrics) RecordChainStep(ctx context.Context, tool, status string) {
	m.ChainSteps.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordDiscoveryDuration records the duration of a registry rebuild.
func (m *Metrics) RecordDiscoveryDuration(ctx context.Context, seconds float64) {
	m.DiscoveryDuration.Record(ctx, seconds)
}

// RecordDiscardedFrame counts one rejected stdout line.
func (m *Metrics) RecordDiscardedFrame(ctx context.Context, server string) {
	m.DiscardedFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("server", server)),
	)
}

// DownstreamStarted bumps the active-downstream gauge.
func (m *Metrics) DownstreamStarted(ctx context.Context, server string) {
	m.ActiveDownstreams.Add(ctx, 1,
		metric.WithAttributes(attribute.String("server", server)),
	)
}

// DownstreamStopped decrements the active-downstream gauge.
func (m *Metrics) DownstreamStopped(ctx context.Context, server string) {
	m.ActiveDownstreams.Add(ctx, -1,
		metric.WithAttributes(attribute.String("server", server)),
	)
}
