// taskmesh - peer-to-peer agent task dispatch runtime
// Copyright (C) 2025 taskmesh contributors
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

// Package config loads and validates node configuration from YAML/JSON
// files, .env files and environment-variable substitution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level node configuration.
type Config struct {
	Environment string           `yaml:"environment" json:"environment"`
	Identity    *IdentityConfig  `yaml:"identity" json:"identity"`
	Discovery   *DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Dispatch    *DispatchConfig  `yaml:"dispatch" json:"dispatch"`
	Replay      *ReplayConfig    `yaml:"replay" json:"replay"`
	Logging     *LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig    `yaml:"health" json:"health"`
}

// IdentityConfig controls local identity creation for this process.
type IdentityConfig struct {
	// AgentName is the logical name this node signs envelopes as.
	AgentName string `yaml:"agent_name" json:"agent_name"`

	// TrustedPeers lists hex-encoded Ed25519 public keys to trust at boot,
	// the out-of-band bootstrapping path of spec.md §4.4 for operators who
	// know their counterparties ahead of time (e.g. a taskmeshctl client).
	TrustedPeers []string `yaml:"trusted_peers" json:"trusted_peers"`
}

// DiscoveryConfig controls the local-network discovery mechanism.
type DiscoveryConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	BroadcastAddr string        `yaml:"broadcast_addr" json:"broadcast_addr"`
	Port          int           `yaml:"port" json:"port"`
	Interval      time.Duration `yaml:"interval" json:"interval"`
}

// DispatchConfig controls task-dispatch timing, exactly spec.md §6's
// Configuration record.
type DispatchConfig struct {
	AnnounceInterval time.Duration `yaml:"announce_interval" json:"announce_interval"`
	AnnounceWarmup   time.Duration `yaml:"announce_warmup" json:"announce_warmup"`
	TaskTimeout      time.Duration `yaml:"task_timeout" json:"task_timeout"`
	MaxRetries       int           `yaml:"max_retries" json:"max_retries"`
	SweepInterval    time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	CapabilityTTL    time.Duration `yaml:"capability_ttl" json:"capability_ttl"`
}

// ReplayConfig controls the replay detector's bounds.
type ReplayConfig struct {
	CacheSize int           `yaml:"cache_size" json:"cache_size"`
	MaxAge    time.Duration `yaml:"max_age" json:"max_age"`
	ClockSkew time.Duration `yaml:"clock_skew" json:"clock_skew"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// MetricsConfig controls the Prometheus HTTP exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// HealthConfig controls the health-check HTTP endpoint.
type HealthConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Addr    string        `yaml:"addr" json:"addr"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Default returns a Config populated with spec.md §6's documented defaults.
func Default() *Config {
	return &Config{
		Environment: "development",
		Identity:    &IdentityConfig{AgentName: "node"},
		Discovery: &DiscoveryConfig{
			Enabled:       true,
			BroadcastAddr: "255.255.255.255",
			Port:          7946,
			Interval:      5 * time.Second,
		},
		Dispatch: &DispatchConfig{
			AnnounceInterval: 30 * time.Second,
			AnnounceWarmup:   2 * time.Second,
			TaskTimeout:      30 * time.Second,
			MaxRetries:       2,
			SweepInterval:    100 * time.Millisecond,
			CapabilityTTL:    60 * time.Second,
		},
		Replay: &ReplayConfig{
			CacheSize: 10000,
			MaxAge:    300 * time.Second,
			ClockSkew: 120 * time.Second,
		},
		Logging: &LoggingConfig{Level: "info"},
		Metrics: &MetricsConfig{Enabled: true, Addr: ":9090"},
		Health:  &HealthConfig{Enabled: true, Addr: ":8080", Timeout: 5 * time.Second},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file, applying
// environment-variable substitution and defaults. Defaults fill in whole
// sections missing from the file and a few zero-valued Dispatch and Replay
// fields; other unset fields inside a present section stay zero.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config file (tried YAML and JSON): %w", err)
		}
	}

	SubstituteEnvVarsInConfig(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Identity == nil {
		cfg.Identity = d.Identity
	}
	if cfg.Discovery == nil {
		cfg.Discovery = d.Discovery
	}
	if cfg.Dispatch == nil {
		cfg.Dispatch = d.Dispatch
	} else {
		if cfg.Dispatch.TaskTimeout == 0 {
			cfg.Dispatch.TaskTimeout = d.Dispatch.TaskTimeout
		}
		if cfg.Dispatch.AnnounceWarmup == 0 {
			cfg.Dispatch.AnnounceWarmup = d.Dispatch.AnnounceWarmup
		}
		if cfg.Dispatch.AnnounceInterval == 0 {
			cfg.Dispatch.AnnounceInterval = d.Dispatch.AnnounceInterval
		}
		if cfg.Dispatch.SweepInterval == 0 {
			cfg.Dispatch.SweepInterval = d.Dispatch.SweepInterval
		}
		if cfg.Dispatch.CapabilityTTL == 0 {
			cfg.Dispatch.CapabilityTTL = d.Dispatch.CapabilityTTL
		}
		if cfg.Dispatch.MaxRetries == 0 {
			cfg.Dispatch.MaxRetries = d.Dispatch.MaxRetries
		}
	}
	if cfg.Replay == nil {
		cfg.Replay = d.Replay
	} else {
		if cfg.Replay.CacheSize == 0 {
			cfg.Replay.CacheSize = d.Replay.CacheSize
		}
		if cfg.Replay.MaxAge == 0 {
			cfg.Replay.MaxAge = d.Replay.MaxAge
		}
		if cfg.Replay.ClockSkew == 0 {
			cfg.Replay.ClockSkew = d.Replay.ClockSkew
		}
	}
	if cfg.Logging == nil {
		cfg.Logging = d.Logging
	}
	if cfg.Metrics == nil {
		cfg.Metrics = d.Metrics
	}
	if cfg.Health == nil {
		cfg.Health = d.Health
	}
}
