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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 5*time.Second, cfg.Discovery.Interval)
	assert.Equal(t, 2, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.TaskTimeout)
	assert.Equal(t, 10000, cfg.Replay.CacheSize)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, ":8080", cfg.Health.Addr)
}

func TestLoadFromFile_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "node.yaml")

	content := `environment: production
identity:
  agent_name: worker-1
  trusted_peers:
    - "aabbcc"
discovery:
  enabled: true
  broadcast_addr: 255.255.255.255
  port: 7777
dispatch:
  task_timeout: 10s
  max_retries: 5
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "worker-1", cfg.Identity.AgentName)
	assert.Equal(t, []string{"aabbcc"}, cfg.Identity.TrustedPeers)
	assert.Equal(t, 7777, cfg.Discovery.Port)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.TaskTimeout)
	assert.Equal(t, 5, cfg.Dispatch.MaxRetries)

	// Unset sections fall back to documented defaults.
	assert.Equal(t, 10000, cfg.Replay.CacheSize)
	assert.Equal(t, ":8080", cfg.Health.Addr)
}

func TestLoadFromFile_EnvVarSubstitution(t *testing.T) {
	require.NoError(t, os.Setenv("TASKMESH_TEST_BROADCAST", "10.0.0.255"))
	defer os.Unsetenv("TASKMESH_TEST_BROADCAST")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "node.yaml")
	content := `discovery:
  enabled: true
  broadcast_addr: "${TASKMESH_TEST_BROADCAST}"
  port: 7946
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.255", cfg.Discovery.BroadcastAddr)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/node.yaml")
	assert.Error(t, err)
}

func TestSubstituteEnvVars_DefaultWhenUnset(t *testing.T) {
	os.Unsetenv("TASKMESH_TEST_UNSET_VAR")
	result := SubstituteEnvVars("addr: ${TASKMESH_TEST_UNSET_VAR:127.0.0.1}")
	assert.Equal(t, "addr: 127.0.0.1", result)
}
