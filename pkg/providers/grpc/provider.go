// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package grpc adapts unary gRPC methods as Loom capability providers.
// Messages are built dynamically from protobuf descriptors, so no
// generated client code is required.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/loomlab/loom/pkg/core"
)

// Provider exposes one unary gRPC method as a capability. The call
// payload is the protojson encoding of the request message; the result
// output is the protojson encoding of the response.
type Provider struct {
	name       string
	version    string
	conn       grpc.ClientConnInterface
	fullMethod string
	input      protoreflect.MessageDescriptor
	output     protoreflect.MessageDescriptor
	metadata   map[string]string
}

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the derived capability name.
func WithName(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.name = name
		}
	}
}

// WithVersion sets the descriptor version tag.
func WithVersion(version string) Option {
	return func(p *Provider) {
		p.version = version
	}
}

// WithMetadata merges extra descriptor metadata.
func WithMetadata(metadata map[string]string) Option {
	return func(p *Provider) {
		for k, v := range metadata {
			p.metadata[k] = v
		}
	}
}

// NewProvider builds a capability provider for a unary method.
func NewProvider(conn grpc.ClientConnInterface, method protoreflect.MethodDescriptor, opts ...Option) (*Provider, error) {
	if conn == nil {
		return nil, errors.New("grpc connection is required")
	}
	if method == nil {
		return nil, errors.New("method descriptor is required")
	}
	if method.IsStreamingClient() || method.IsStreamingServer() {
		return nil, fmt.Errorf("streaming method %s is not supported", method.FullName())
	}

	service, ok := method.Parent().(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("method %s has no parent service", method.FullName())
	}
	fullMethod := fmt.Sprintf("/%s/%s", service.FullName(), method.Name())

	p := &Provider{
		name:       toSnakeCase(fmt.Sprintf("%s_%s", service.Name(), method.Name())),
		conn:       conn,
		fullMethod: fullMethod,
		input:      method.Input(),
		output:     method.Output(),
		metadata:   map[string]string{"grpc.method": fullMethod},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// FromService builds one provider per unary method of a service.
// Streaming methods are skipped.
func FromService(conn grpc.ClientConnInterface, service protoreflect.ServiceDescriptor, opts ...Option) ([]*Provider, error) {
	if service == nil {
		return nil, errors.New("service descriptor is required")
	}
	methods := service.Methods()
	providers := make([]*Provider, 0, methods.Len())
	for i := 0; i < methods.Len(); i++ {
		method := methods.Get(i)
		if method.IsStreamingClient() || method.IsStreamingServer() {
			continue
		}
		p, err := NewProvider(conn, method, opts...)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", method.FullName(), err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// Describe implements core.CapabilityProvider.
func (p *Provider) Describe() core.CapabilityDescriptor {
	return core.CapabilityDescriptor{
		Name:     p.name,
		Version:  p.version,
		Kind:     core.ProviderRemote,
		Metadata: p.metadata,
	}
}

// Invoke implements core.CapabilityProvider.
func (p *Provider) Invoke(ctx context.Context, call core.ActionCall) (core.ActionResult, error) {
	request := dynamicpb.NewMessage(p.input)
	if len(call.Payload) > 0 {
		if err := protojson.Unmarshal(call.Payload, request); err != nil {
			return core.ErrorResult(call.ID, "BAD_PAYLOAD",
				fmt.Sprintf("expected protojson %s: %v", p.input.FullName(), err)), nil
		}
	}

	response := dynamicpb.NewMessage(p.output)
	if err := p.conn.Invoke(ctx, p.fullMethod, request, response); err != nil {
		return core.ActionResult{}, fmt.Errorf("grpc call failed: %w", err)
	}

	output, err := protojson.Marshal(response)
	if err != nil {
		return core.ActionResult{}, fmt.Errorf("encode response: %w", err)
	}
	return core.OkResult(call.ID, output), nil
}

// toSnakeCase converts CamelCase method names to snake_case capability
// names.
func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ core.CapabilityProvider = (*Provider)(nil)
