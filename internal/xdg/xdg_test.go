// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDir(t *testing.T) {
	tests := []struct {
		name       string
		configHome string
		home       string
		want       string
	}{
		{name: "env var", configHome: "/custom/config", home: "/home/testuser", want: "/custom/config/ariesd"},
		{name: "default", configHome: "", home: "/home/testuser", want: "/home/testuser/.config/ariesd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_CONFIG_HOME", tt.configHome)
			t.Setenv("HOME", tt.home)

			got, err := ConfigDir()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDataDir(t *testing.T) {
	tests := []struct {
		name     string
		dataHome string
		home     string
		want     string
	}{
		{name: "env var", dataHome: "/custom/data", home: "/home/testuser", want: "/custom/data/ariesd"},
		{name: "default", dataHome: "", home: "/home/testuser", want: "/home/testuser/.local/share/ariesd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_DATA_HOME", tt.dataHome)
			t.Setenv("HOME", tt.home)

			got, err := DataDir()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPluginsDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/srv/data")

	got, err := PluginsDir()
	require.NoError(t, err)
	assert.Equal(t, "/srv/data/ariesd/plugins", got)
}

func TestNoHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "")

	_, err := DataDir()
	require.Error(t, err)
	_, err = PluginsDir()
	require.Error(t, err)
	_, err = ConfigFile()
	require.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ConfigFile()
	require.NoError(t, err)
	assert.Empty(t, got, "missing file yields no path")

	path := filepath.Join(dir, "ariesd", ConfigFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("plugins: []\n"), 0o600))

	got, err = ConfigFile()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}
