// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func execute(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	configFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	out, _, err := execute(t, context.Background(), "--help")
	require.NoError(t, err)

	for _, sub := range []string{"start", "plugins", "schema"} {
		assert.Contains(t, out, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "with equals",
			args:     []string{"--config=/etc/ariesd.yaml", "--help"},
			wantFlag: "/etc/ariesd.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, context.Background(), tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	configFile = ""
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestStartCommand_Help(t *testing.T) {
	out, _, err := execute(t, context.Background(), "start", "--help")
	require.NoError(t, err)

	for _, flag := range []string{"--config", "--plugins", "--block-plugins", "--plugin-config-value", "--admin-addr", "--log-format", "--log-level"} {
		assert.Contains(t, out, flag)
	}
}

func TestPluginsCommand_DefaultBuiltins(t *testing.T) {
	out, _, err := execute(t, context.Background(), "plugins", "--log-format", "text")
	require.NoError(t, err)

	assert.Contains(t, out, "core.discovery")
	assert.Contains(t, out, "core.protocols.trustping")
	assert.Contains(t, out, "core.protocols.basicmessage")
	assert.Contains(t, out, "PROTOCOLS")
	assert.Contains(t, out, "trust_ping/1.0")
	assert.Contains(t, out, "discover-features/1.0")
}

func TestPluginsCommand_BlockList(t *testing.T) {
	out, _, err := execute(t, context.Background(), "plugins", "--block-plugins", "core.protocols.basicmessage")
	require.NoError(t, err)

	assert.Contains(t, out, "core.protocols.trustping")
	assert.NotContains(t, out, "core.protocols.basicmessage")
	assert.NotContains(t, out, "basicmessage/1.0")
}

func TestPluginsCommand_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ariesd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`block-plugins:
  - core.protocols.*
log-format: text
`), 0o600))

	out, _, err := execute(t, context.Background(), "--config", path, "plugins")
	require.NoError(t, err)

	assert.Contains(t, out, "core.discovery")
	assert.Contains(t, out, "core.protocols ")
	assert.NotContains(t, out, "core.protocols.trustping")
}

func TestPluginsCommand_UnknownPluginFails(t *testing.T) {
	_, errOut, err := execute(t, context.Background(),
		"plugins", "--plugins", "acme.missing", "--plugins-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, errOut, "agent build failed")
	assert.Contains(t, errOut, "PLUGIN_NOT_FOUND")
}

func TestPluginsCommand_Available(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "acme.hello")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(`name: acme.hello
version: 1.2.0
type: lua
description: Says hello
routes:
  - method: GET
    path: /hello
lua-plugin:
  entry: main.lua
`), 0o600))

	out, _, err := execute(t, context.Background(), "plugins", "--available", "--plugins-dir", root)
	require.NoError(t, err)
	assert.Contains(t, out, "acme.hello")
	assert.Contains(t, out, "1.2.0")
	assert.Contains(t, out, "Says hello")
}

func TestPluginsCommand_InvalidConfig(t *testing.T) {
	_, _, err := execute(t, context.Background(), "plugins", "--log-format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log-format")
}

func TestSchemaCommand(t *testing.T) {
	out, _, err := execute(t, context.Background(), "schema")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)), "schema output is not JSON")
	assert.Contains(t, out, "ariesd Plugin Manifest")

	path := filepath.Join(t.TempDir(), "schemas", "plugin.schema.json")
	out, _, err = execute(t, context.Background(), "schema", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Generated "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestStartCommand_ServesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, errOut, err := execute(t, ctx, "start", "--admin-addr", "127.0.0.1:0", "--log-format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Agent started, admin API on 127.0.0.1:")
	assert.Contains(t, errOut, "shutdown complete")
}

func TestStartCommand_BuildFailure(t *testing.T) {
	_, errOut, err := execute(t, context.Background(),
		"start", "--admin-addr", "127.0.0.1:0", "--plugins", "acme.missing", "--plugins-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, errOut, "agent startup failed")
}

func TestStartCommand_AdminListenFailure(t *testing.T) {
	_, _, err := execute(t, context.Background(), "start", "--admin-addr", "not-an-address")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start admin server")
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("serve error is forwarded and cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		failed := make(chan error, 1)
		errCh <- errors.New("accept tcp: use of closed network connection")

		monitorServerErrors(ctx, cancel, errCh, "admin", failed)

		assert.ErrorIs(t, ctx.Err(), context.Canceled)
		select {
		case err := <-failed:
			assert.EqualError(t, err, "accept tcp: use of closed network connection")
		default:
			t.Fatal("serve error was not forwarded")
		}
	})

	t.Run("closed channel is a clean stop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)
		failed := make(chan error, 1)

		monitorServerErrors(ctx, cancel, errCh, "admin", failed)

		assert.NoError(t, ctx.Err())
		assert.Empty(t, failed)
	})

	t.Run("context cancellation returns", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		failed := make(chan error, 1)

		monitorServerErrors(ctx, cancel, make(chan error), "admin", failed)

		assert.Empty(t, failed)
	})
}

func TestPluginsCommand_BundledPlugins(t *testing.T) {
	out, _, err := execute(t, context.Background(),
		"plugins", "--plugins", "echo", "--plugins-dir", filepath.Join("..", "..", "plugins"))
	require.NoError(t, err)
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "echo/1.0")
}
