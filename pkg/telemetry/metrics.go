// SPDX-License-Identifier: Apache-2.0
// Dispatch metrics for the Loom broker.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DispatchMetrics tracks call volume, latency, and timeout rates for
// production monitoring of the broker. A nil *DispatchMetrics is valid
// and records nothing.
type DispatchMetrics struct {
	// callCounter tracks dispatched calls by capability and status
	callCounter metric.Int64Counter

	// timeoutCounter tracks deadline-elapsed dispatches by capability
	timeoutCounter metric.Int64Counter

	// durationHistogram tracks dispatch latency in milliseconds
	durationHistogram metric.Float64Histogram

	// registeredGauge tracks the number of registered capabilities
	registeredGauge metric.Int64Gauge
}

// NewDispatchMetrics creates a dispatch metrics tracker with OTEL meters.
func NewDispatchMetrics() (*DispatchMetrics, error) {
	meter := otel.Meter("loom/broker")

	callCounter, err := meter.Int64Counter(
		"loom.broker.calls",
		metric.WithDescription("Dispatched calls by capability and status"),
	)
	if err != nil {
		return nil, err
	}

	timeoutCounter, err := meter.Int64Counter(
		"loom.broker.timeouts",
		metric.WithDescription("Dispatches that hit the deadline by capability"),
	)
	if err != nil {
		return nil, err
	}

	durationHistogram, err := meter.Float64Histogram(
		"loom.broker.duration_ms",
		metric.WithDescription("Dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	registeredGauge, err := meter.Int64Gauge(
		"loom.broker.capabilities",
		metric.WithDescription("Number of registered capabilities"),
	)
	if err != nil {
		return nil, err
	}

	return &DispatchMetrics{
		callCounter:       callCounter,
		timeoutCounter:    timeoutCounter,
		durationHistogram: durationHistogram,
		registeredGauge:   registeredGauge,
	}, nil
}

// RecordDispatch records one completed dispatch with its terminal status.
func (dm *DispatchMetrics) RecordDispatch(ctx context.Context, capability, status string, duration time.Duration) {
	if dm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrCapabilityName, capability),
		attribute.String(AttrCallStatus, status),
	)
	dm.callCounter.Add(ctx, 1, attrs)
	dm.durationHistogram.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}

// RecordTimeout records a dispatch that hit its deadline.
func (dm *DispatchMetrics) RecordTimeout(ctx context.Context, capability string) {
	if dm == nil {
		return
	}
	dm.timeoutCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrCapabilityName, capability),
		),
	)
}

// RecordRegistered records the current registry size.
func (dm *DispatchMetrics) RecordRegistered(ctx context.Context, count int64) {
	if dm == nil {
		return
	}
	dm.registeredGauge.Record(ctx, count)
}
