// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the capability broker: a registry of named
// providers and a dispatcher that routes calls to them under a
// deadline, normalizing every provider outcome into one ActionResult.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomlab/loom/pkg/core"
	"github.com/loomlab/loom/pkg/errors"
	"github.com/loomlab/loom/pkg/telemetry"
)

// Broker resolves capability names to providers and manages call
// execution with a deadline. Construct one explicitly and hand it to
// the components that dispatch calls; there is no ambient instance.
type Broker struct {
	registry       *Registry
	defaultTimeout time.Duration
	logger         *slog.Logger
	tracer         trace.Tracer
	metrics        *telemetry.DispatchMetrics
}

// Option configures a Broker.
type Option func(*Broker)

// WithDefaultTimeout overrides the timeout applied to calls that carry
// TimeoutMS <= 0.
func WithDefaultTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.defaultTimeout = d
		}
	}
}

// WithLogger sets the broker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics attaches dispatch metrics.
func WithMetrics(m *telemetry.DispatchMetrics) Option {
	return func(b *Broker) {
		b.metrics = m
	}
}

// New creates a broker with an empty registry.
func New(opts ...Option) *Broker {
	b := &Broker{
		registry:       NewRegistry(),
		defaultTimeout: core.DefaultTimeout,
		logger:         slog.Default(),
		tracer:         otel.Tracer("loom/broker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register stores a provider under its descriptor name; later
// registrations with the same name replace the previous binding.
// Calls already dispatched to the old provider run to completion.
func (b *Broker) Register(provider core.CapabilityProvider) error {
	if err := b.registry.Register(provider); err != nil {
		return err
	}
	desc := provider.Describe()
	b.logger.Info("broker.register",
		slog.String("capability", desc.Name),
		slog.String("version", desc.Version),
		slog.String("kind", string(desc.Kind)),
	)
	b.metrics.RecordRegistered(context.Background(), int64(b.registry.Len()))
	return nil
}

// List returns a snapshot of all registered capability descriptors.
func (b *Broker) List() []core.CapabilityDescriptor {
	return b.registry.List()
}

// Lookup returns the provider currently registered under name.
func (b *Broker) Lookup(name string) (core.CapabilityProvider, bool) {
	return b.registry.Lookup(name)
}

// Invoke dispatches a call to the provider registered under
// call.Capability, racing its execution against the effective deadline.
//
// Every provider outcome is returned as an ActionResult: structured
// provider errors pass through, unstructured failures and panics become
// StatusError with code CAPABILITY_ERROR, and an elapsed deadline
// becomes StatusTimeout. The one propagated failure is the routing
// error for an unknown capability, which reports a caller mistake
// rather than a provider fault.
//
// The deadline is a race, not a cancellation: the broker stops waiting
// at the deadline but only signals the provider through the call
// context. Providers doing long-lived work must honor that context
// themselves.
func (b *Broker) Invoke(ctx context.Context, call core.ActionCall) (core.ActionResult, error) {
	provider, ok := b.registry.Lookup(call.Capability)
	if !ok {
		return core.ActionResult{}, errors.New(
			errors.CodeNotFound,
			fmt.Sprintf("capability not found: %s", call.Capability),
			nil,
		).WithAttribute(telemetry.AttrCapabilityName, call.Capability)
	}

	timeout := b.effectiveTimeout(call)
	ctx, span := b.tracer.Start(ctx, "Broker.Invoke", trace.WithAttributes(
		telemetry.DispatchAttributes(call, timeout)...,
	))
	defer span.End()

	b.logger.Debug("broker.invoke.start",
		slog.String("capability", call.Capability),
		slog.String("call_id", call.ID),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	result := b.dispatch(ctx, provider, call, timeout)

	span.SetAttributes(attribute.String(telemetry.AttrCallStatus, string(result.Status)))
	b.metrics.RecordDispatch(ctx, call.Capability, string(result.Status), time.Since(start))

	switch result.Status {
	case core.StatusError:
		args := []any{
			slog.String("capability", call.Capability),
			slog.String("call_id", call.ID),
			slog.String("code", result.Error.Code),
			slog.String("message", result.Error.Message),
		}
		if rec, ok := result.Error.Details["recoverable"]; ok {
			args = append(args, slog.String("recoverable", rec))
		}
		b.logger.Warn("broker.invoke.error", args...)
	case core.StatusTimeout:
		b.logger.Warn("broker.invoke.timeout",
			slog.String("capability", call.Capability),
			slog.String("call_id", call.ID),
			slog.Duration("timeout", timeout),
		)
		b.metrics.RecordTimeout(ctx, call.Capability)
	}
	return result, nil
}

func (b *Broker) effectiveTimeout(call core.ActionCall) time.Duration {
	if call.TimeoutMS > 0 {
		return time.Duration(call.TimeoutMS) * time.Millisecond
	}
	return b.defaultTimeout
}

type outcome struct {
	result core.ActionResult
	err    error
}

// dispatch races provider execution against the deadline and maps the
// outcome onto the closed status set.
func (b *Broker) dispatch(ctx context.Context, provider core.CapabilityProvider, call core.ActionCall, timeout time.Duration) core.ActionResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("provider panic: %v", rec)}
			}
		}()
		result, err := provider.Invoke(ctx, call)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return core.TimeoutResult(call.ID)
	case out := <-done:
		if out.err != nil {
			le := errors.AsLoomError(out.err)
			result := core.ErrorResult(call.ID, string(errors.CodeCapabilityError), out.err.Error())
			result.Error.Details = map[string]string{"recoverable": le.RecoverableString()}
			return result
		}
		result := out.result
		if result.ID == "" {
			result.ID = call.ID
		}
		return result
	}
}
