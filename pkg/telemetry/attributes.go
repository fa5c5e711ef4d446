// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/loomlab/loom/pkg/core"
)

// Semantic conventions for Loom broker telemetry.
const (
	AttrCapabilityName    = "loom.capability.name"
	AttrCapabilityVersion = "loom.capability.version"
	AttrCapabilityKind    = "loom.capability.kind"

	AttrCallID        = "loom.call.id"
	AttrCallStatus    = "loom.call.status"
	AttrCallQoS       = "loom.call.qos"
	AttrCallTimeoutMs = "loom.call.timeout_ms"
	AttrCorrelationID = "loom.call.correlation_id"
)

// DispatchAttributes returns span attributes for a dispatched call.
// The requested version and QoS class are advisory; they are recorded
// here for diagnosis, never used for routing.
func DispatchAttributes(call core.ActionCall, timeout time.Duration) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCapabilityName, call.Capability),
		attribute.String(AttrCallID, call.ID),
		attribute.Int64(AttrCallTimeoutMs, timeout.Milliseconds()),
	}
	if call.Version != "" {
		attrs = append(attrs, attribute.String(AttrCapabilityVersion, call.Version))
	}
	if call.QoS != "" {
		attrs = append(attrs, attribute.String(AttrCallQoS, string(call.QoS)))
	}
	if call.CorrelationID != "" {
		attrs = append(attrs, attribute.String(AttrCorrelationID, call.CorrelationID))
	}
	return attrs
}

// DescriptorAttributes returns span attributes for a registered
// capability descriptor.
func DescriptorAttributes(desc core.CapabilityDescriptor) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCapabilityName, desc.Name),
	}
	if desc.Version != "" {
		attrs = append(attrs, attribute.String(AttrCapabilityVersion, desc.Version))
	}
	if desc.Kind != "" {
		attrs = append(attrs, attribute.String(AttrCapabilityKind, string(desc.Kind)))
	}
	return attrs
}
