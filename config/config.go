// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads and validates a mesh node's startup
// configuration: identity, listen/discovery addresses, handshake
// timeouts, and the ambient logging/metrics/health surfaces.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration of one mesh node.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	NodeID      string          `yaml:"node_id" json:"node_id"`
	Listen      ListenConfig    `yaml:"listen" json:"listen"`
	Discovery   DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Handshake   HandshakeConfig `yaml:"handshake" json:"handshake"`
	Logging     LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health      HealthConfig    `yaml:"health" json:"health"`
}

// ListenConfig is the node's TCP session transport address. Port 0
// selects a kernel-assigned port.
type ListenConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// DiscoveryConfig controls the UDP discovery service. The node's
// advertised TCP dial port is always the Listen port actually bound at
// startup, not a separately configured value.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Port    int  `yaml:"port" json:"port"`
}

// HandshakeConfig holds the handshake timeout. It is defaulted and
// validated here, but no other package reads it: pending sessions are
// not timed out by it.
type HandshakeConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig controls whether the node's Prometheus registry is
// exposed, and where.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig controls the health/metrics/peers HTTP surface.
type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Port    int  `yaml:"port" json:"port"`
}

// LoadFromFile reads cfg from path, trying YAML first and falling back
// to JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}
	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves cfg to path, choosing YAML or JSON by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults fills in zero-valued fields with the node's startup
// defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Listen.Host == "" {
		cfg.Listen.Host = "0.0.0.0"
	}
	if cfg.Discovery.Port == 0 {
		cfg.Discovery.Port = 54321
	}
	if cfg.Handshake.Timeout == 0 {
		cfg.Handshake.Timeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Port == 0 {
		cfg.Health.Port = 8080
	}
}

// Validate reports the first configuration problem found, if any.
func (c *Config) Validate() error {
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Listen.Port)
	}
	if c.Discovery.Enabled && (c.Discovery.Port <= 0 || c.Discovery.Port > 65535) {
		return fmt.Errorf("config: discovery port %d out of range", c.Discovery.Port)
	}
	if c.Handshake.Timeout <= 0 {
		return fmt.Errorf("config: handshake timeout must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	return nil
}
