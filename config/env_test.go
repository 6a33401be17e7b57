// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteEnvVarsUsesEnvValue(t *testing.T) {
	t.Setenv("MESHNET_TEST_VALUE", "from-env")
	assert.Equal(t, "from-env", SubstituteEnvVars("${MESHNET_TEST_VALUE}"))
}

func TestSubstituteEnvVarsUsesDefaultWhenUnset(t *testing.T) {
	assert.Equal(t, "fallback", SubstituteEnvVars("${MESHNET_TEST_UNSET:fallback}"))
}

func TestSubstituteEnvVarsInConfigRewritesNodeID(t *testing.T) {
	t.Setenv("MESHNET_TEST_NODE", "node-x")
	cfg := &Config{NodeID: "${MESHNET_TEST_NODE}"}
	SubstituteEnvVarsInConfig(cfg)
	assert.Equal(t, "node-x", cfg.NodeID)
}

func TestGetEnvironmentDefaultsToDevelopment(t *testing.T) {
	t.Setenv("MESHNET_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, "development", GetEnvironment())
}

func TestIsProductionReflectsMeshnetEnv(t *testing.T) {
	t.Setenv("MESHNET_ENV", "production")
	assert.True(t, IsProduction())
	assert.False(t, IsDevelopment())
}
