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

package config

import (
	"os"
	"regexp"

	"github.com/joho/godotenv"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} / ${VAR:default} with environment values.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// SubstituteEnvVarsInConfig substitutes environment variables in the
// Environment, Identity.AgentName, Discovery.BroadcastAddr, Metrics.Addr
// and Health.Addr fields of cfg. Other string fields (such as
// Logging.Level and TrustedPeers) are left as written.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Environment = SubstituteEnvVars(cfg.Environment)
	if cfg.Identity != nil {
		cfg.Identity.AgentName = SubstituteEnvVars(cfg.Identity.AgentName)
	}
	if cfg.Discovery != nil {
		cfg.Discovery.BroadcastAddr = SubstituteEnvVars(cfg.Discovery.BroadcastAddr)
	}
	if cfg.Metrics != nil {
		cfg.Metrics.Addr = SubstituteEnvVars(cfg.Metrics.Addr)
	}
	if cfg.Health != nil {
		cfg.Health.Addr = SubstituteEnvVars(cfg.Health.Addr)
	}
}

// LoadDotEnv loads a .env file (if present) into the process environment
// before configuration is read, so ${VAR} substitution can see it.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}
