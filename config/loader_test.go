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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToEmptyConfigWhenNoFilesExist(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "test"})
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "0.0.0.0", cfg.Listen.Host)
}

func TestLoadPrefersEnvironmentSpecificFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveToFile(&Config{NodeID: "prod-node"}, filepath.Join(dir, "production.yaml")))
	require.NoError(t, SaveToFile(&Config{NodeID: "default-node"}, filepath.Join(dir, "default.yaml")))

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "production"})
	require.NoError(t, err)
	assert.Equal(t, "prod-node", cfg.NodeID)
}

func TestLoadAppliesEnvironmentOverrideAboveFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveToFile(&Config{NodeID: "file-node"}, filepath.Join(dir, "default.yaml")))
	t.Setenv("MESHNET_NODE_ID", "override-node")

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "default"})
	require.NoError(t, err)
	assert.Equal(t, "override-node", cfg.NodeID)
}

func TestLoadFailsValidationForBadPort(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveToFile(&Config{Listen: ListenConfig{Port: 99999}}, filepath.Join(dir, "default.yaml")))

	_, err := Load(LoaderOptions{ConfigDir: dir, Environment: "default"})
	assert.Error(t, err)
}

func TestMustLoadPanicsOnValidationFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveToFile(&Config{Listen: ListenConfig{Port: 99999}}, filepath.Join(dir, "default.yaml")))

	assert.Panics(t, func() {
		MustLoad(LoaderOptions{ConfigDir: dir, Environment: "default"})
	})
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Chdir(dir)
	defer t.Chdir(wd)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MESHNET_NODE_ID=dotenv-node\n"), 0o644))

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "default"})
	require.NoError(t, err)
	assert.Equal(t, "dotenv-node", cfg.NodeID)
}
