// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest loads declarative capability manifests. Discovery
// and policy layers use them to describe capabilities ahead of
// registration; the broker itself only ever sees the resulting
// descriptors.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/loomlab/loom/pkg/core"
)

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)

// Manifest is one parsed capability declaration.
type Manifest struct {
	Name     string            `yaml:"name"`
	Version  string            `yaml:"version"`
	Kind     string            `yaml:"kind"`
	Metadata map[string]string `yaml:"metadata"`
	Path     string            `yaml:"-"`
}

// Descriptor converts the manifest into a capability descriptor.
func (m Manifest) Descriptor() core.CapabilityDescriptor {
	kind := core.ProviderKind(m.Kind)
	if m.Kind == "" {
		kind = core.ProviderNative
	}
	return core.CapabilityDescriptor{
		Name:     m.Name,
		Version:  m.Version,
		Kind:     kind,
		Metadata: m.Metadata,
	}
}

// LoadDir scans a directory for capability manifests (*.yaml, *.yml).
func LoadDir(root string) ([]Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []Manifest
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		m, err := LoadFile(filepath.Join(root, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// LoadFile parses and validates a single manifest file.
func LoadFile(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.Path = path
	if err := validate(m); err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

func validate(m Manifest) error {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("name must match %s", namePattern.String())
	}
	if strings.TrimSpace(m.Version) == "" {
		return errors.New("version is required")
	}
	switch core.ProviderKind(m.Kind) {
	case "", core.ProviderNative, core.ProviderSandboxed, core.ProviderRemote:
	default:
		return fmt.Errorf("unknown provider kind %q", m.Kind)
	}
	if desc := m.Metadata["description"]; utf8.RuneCountInString(desc) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}
	return nil
}
