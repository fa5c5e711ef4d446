// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package core defines the shared types and contracts of the Loom
// capability broker: descriptors, calls, results, and the provider
// interface every capability implementation satisfies.
package core

import (
	"time"

	"github.com/google/uuid"
)

// ProviderKind tags the implementation strategy behind a capability.
// It is informational only; dispatch never branches on it.
type ProviderKind string

const (
	ProviderNative    ProviderKind = "native"
	ProviderSandboxed ProviderKind = "sandboxed"
	ProviderRemote    ProviderKind = "remote"
)

// QoSLevel is an advisory quality-of-service hint attached to a call.
// The broker records it for observability but does not schedule by it.
type QoSLevel string

const (
	QoSBackground QoSLevel = "background"
	QoSStandard   QoSLevel = "standard"
	QoSRealtime   QoSLevel = "realtime"
)

// Status is the closed set of terminal outcomes for a dispatched call.
type Status string

const (
	StatusOk      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// DefaultTimeout applies when a call carries TimeoutMS <= 0.
const DefaultTimeout = 30 * time.Second

// CapabilityDescriptor is the immutable identity of a capability:
// the name it is registered and invoked under, a version tag carried
// for introspection, the provider kind, and opaque metadata for
// discovery or policy layers.
type CapabilityDescriptor struct {
	Name     string            `json:"name"`
	Version  string            `json:"version"`
	Kind     ProviderKind      `json:"provider_kind"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ActionCall is a single capability invocation request.
type ActionCall struct {
	// ID is a caller-assigned correlation token echoed in the result.
	ID string `json:"id"`

	// Capability is the registry key to route on.
	Capability string `json:"capability"`

	// Version is the requested capability version. Advisory: the broker
	// does not enforce a match against the registered provider.
	Version string `json:"version,omitempty"`

	// Payload is provider-interpreted, commonly JSON.
	Payload []byte `json:"payload,omitempty"`

	// Headers carry provider-interpreted side-channel data.
	Headers map[string]string `json:"headers,omitempty"`

	// TimeoutMS bounds the dispatch; <= 0 selects DefaultTimeout.
	TimeoutMS int64 `json:"timeout_ms"`

	// CorrelationID links the call to a session or conversation.
	CorrelationID string `json:"correlation_id,omitempty"`

	// QoS is an advisory latency-class hint.
	QoS QoSLevel `json:"qos,omitempty"`
}

// NewCall builds a call with a fresh UUID id.
func NewCall(capability string, payload []byte) ActionCall {
	return ActionCall{
		ID:         uuid.NewString(),
		Capability: capability,
		Payload:    payload,
		QoS:        QoSStandard,
	}
}

// Timeout returns the effective dispatch deadline for the call.
func (c ActionCall) Timeout() time.Duration {
	if c.TimeoutMS > 0 {
		return time.Duration(c.TimeoutMS) * time.Millisecond
	}
	return DefaultTimeout
}

// ActionError is the structured error carried by non-Ok results.
type ActionError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ActionResult is the single terminal outcome of a dispatched call.
// Invariants: Status == StatusOk iff Error is nil; a non-Ok result
// carries no output; ID always equals the triggering call's ID.
type ActionResult struct {
	ID     string       `json:"id"`
	Status Status       `json:"status"`
	Output []byte       `json:"output,omitempty"`
	Error  *ActionError `json:"error,omitempty"`
}

// OkResult builds a successful result for the given call id.
func OkResult(id string, output []byte) ActionResult {
	return ActionResult{ID: id, Status: StatusOk, Output: output}
}

// ErrorResult builds a provider- or broker-reported error result.
func ErrorResult(id, code, message string) ActionResult {
	return ActionResult{
		ID:     id,
		Status: StatusError,
		Error:  &ActionError{Code: code, Message: message},
	}
}

// TimeoutResult builds the result reported when the dispatch deadline
// elapses before the provider completes.
func TimeoutResult(id string) ActionResult {
	return ActionResult{
		ID:     id,
		Status: StatusTimeout,
		Error:  &ActionError{Code: "TIMEOUT", Message: "action timed out"},
	}
}

// Ok reports whether the result carries a successful status.
func (r ActionResult) Ok() bool {
	return r.Status == StatusOk
}
