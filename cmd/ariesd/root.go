// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ariesgo/agent/internal/config"
	"github.com/ariesgo/agent/internal/logging"
	"github.com/ariesgo/agent/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the ariesd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ariesd",
		Short: "ariesd - a pluggable agent",
		Long: `ariesd is an agent whose protocols and admin routes are contributed
by plugins, selected at startup with an allow-list and a block-list.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/ariesd/ariesd.yaml)")

	cmd.AddCommand(NewStartCmd())
	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd from --config (default:
// XDG_CONFIG_HOME/ariesd/ariesd.yaml when present) and the configuration
// flags, and installs the configured default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.SetDefault(logging.Options{
		Service: "ariesd",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
