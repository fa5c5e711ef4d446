// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp adapts MCP tools as Loom capability providers, so remote
// tool servers register behind the same broker interface as native
// code.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loomlab/loom/pkg/core"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// Provider wraps an MCP tool definition and caller as a
// core.CapabilityProvider of kind remote.
type Provider struct {
	tool     mcp.Tool
	caller   ToolCaller
	version  string
	metadata map[string]string
}

// Option configures a Provider.
type Option func(*Provider)

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

// NewProvider builds a capability provider backed by an MCP tool.
func NewProvider(tool mcp.Tool, caller ToolCaller, opts ...Option) (*Provider, error) {
	if tool.Name == "" {
		return nil, errors.New("mcp tool name is required")
	}
	if caller == nil {
		return nil, errors.New("tool caller is required")
	}
	p := &Provider{
		tool:     tool,
		caller:   caller,
		metadata: make(map[string]string),
	}
	if tool.Description != "" {
		p.metadata["description"] = tool.Description
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// FromTools builds one provider per MCP tool, sharing a caller.
func FromTools(tools []mcp.Tool, caller ToolCaller, opts ...Option) ([]*Provider, error) {
	providers := make([]*Provider, 0, len(tools))
	for _, tool := range tools {
		p, err := NewProvider(tool, caller, opts...)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", tool.Name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// Describe implements core.CapabilityProvider.
func (p *Provider) Describe() core.CapabilityDescriptor {
	return core.CapabilityDescriptor{
		Name:     p.tool.Name,
		Version:  p.version,
		Kind:     core.ProviderRemote,
		Metadata: p.metadata,
	}
}

// Invoke implements core.CapabilityProvider. The call payload must be a
// JSON object of tool arguments; tool-reported errors come back as a
// structured result with code MCP_TOOL_ERROR.
func (p *Provider) Invoke(ctx context.Context, call core.ActionCall) (core.ActionResult, error) {
	args, err := normalizeArgs(call.Payload)
	if err != nil {
		return core.ErrorResult(call.ID, "BAD_PAYLOAD", err.Error()), nil
	}
	if err := validateRequiredArgs(p.tool, args); err != nil {
		return core.ErrorResult(call.ID, "BAD_PAYLOAD", err.Error()), nil
	}

	result, err := p.caller.CallTool(ctx, p.tool.Name, args)
	if err != nil {
		return core.ActionResult{}, err
	}
	if result == nil {
		return core.ActionResult{}, errors.New("mcp tool result is nil")
	}
	if result.IsError {
		return core.ErrorResult(call.ID, "MCP_TOOL_ERROR", extractTextContent(result.Content)), nil
	}

	output, err := resultOutput(result)
	if err != nil {
		return core.ActionResult{}, err
	}
	return core.OkResult(call.ID, output), nil
}

func normalizeArgs(payload []byte) (map[string]interface{}, error) {
	if len(payload) == 0 {
		return map[string]interface{}{}, nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("mcp tool args: invalid JSON: %w", err)
	}
	return decoded, nil
}

func validateRequiredArgs(tool mcp.Tool, args map[string]interface{}) error {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("mcp tool args: missing required field %q", key)
		}
	}
	return nil
}

func resultOutput(result *mcp.CallToolResult) ([]byte, error) {
	if result.StructuredContent != nil {
		return json.Marshal(result.StructuredContent)
	}
	if text := extractTextContent(result.Content); text != "" {
		return []byte(text), nil
	}
	return json.Marshal(result)
}

func extractTextContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ core.CapabilityProvider = (*Provider)(nil)
