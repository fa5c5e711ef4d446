// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package core

import "context"

// CapabilityProvider is the polymorphic unit of work behind a
// capability: native functions, sandboxed modules, and remote adapters
// all satisfy it, and the broker is oblivious to which.
//
// Describe must be pure and cheap; the name it reports must not change
// while the provider is registered. Invoke may be called concurrently
// from many in-flight dispatches on the same instance.
//
// Application-level problems (bad payload, downstream rejection) should
// be reported as an ActionResult with StatusError and a descriptive
// code. The error return is reserved for failures the provider could
// not express as a structured result; the broker wraps those as
// CAPABILITY_ERROR.
type CapabilityProvider interface {
	Describe() CapabilityDescriptor
	Invoke(ctx context.Context, call ActionCall) (ActionResult, error)
}
