// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Loom configuration from YAML files and the
// environment.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/loomlab/loom/pkg/telemetry"
)

// Config is the root Loom configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Broker    BrokerConfig    `koanf:"broker"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Manifest  ManifestConfig  `koanf:"manifest"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// BrokerConfig controls dispatch defaults.
type BrokerConfig struct {
	// DefaultTimeoutMS applies to calls carrying timeout_ms <= 0.
	DefaultTimeoutMS int64 `koanf:"default_timeout_ms"`
}

// DefaultTimeout returns the configured default in the shape
// broker.WithDefaultTimeout consumes.
func (b BrokerConfig) DefaultTimeout() time.Duration {
	return time.Duration(b.DefaultTimeoutMS) * time.Millisecond
}

// TelemetryConfig selects the OpenTelemetry exporter.
type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// ExporterConfig returns the section in the shape
// telemetry.InitWithConfig consumes.
func (t TelemetryConfig) ExporterConfig() telemetry.Config {
	return telemetry.Config{
		Exporter:     t.Exporter,
		OTLPEndpoint: t.OTLPEndpoint,
		OTLPInsecure: t.OTLPInsecure,
	}
}

// ManifestConfig locates capability manifests for discovery layers.
type ManifestConfig struct {
	Dir string `koanf:"dir"`
}

// Load reads configuration with defaults, then the optional YAML file
// at path, then LOOM_* environment overrides (LOOM_BROKER_DEFAULT_TIMEOUT_MS
// -> broker.default_timeout_ms).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("broker.default_timeout_ms", 30_000)
	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (LOOM_LOG_LEVEL -> log.level)
	if err := k.Load(env.Provider("LOOM_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "LOOM_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
