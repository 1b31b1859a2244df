// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ariesgo/agent/internal/admin"
	"github.com/ariesgo/agent/internal/agent"
	"github.com/ariesgo/agent/internal/config"
	"github.com/ariesgo/agent/pkg/errutil"
)

// shutdownTimeout bounds graceful shutdown of the admin server.
const shutdownTimeout = 5 * time.Second

// NewStartCmd creates the start subcommand.
func NewStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Build the agent context and serve the admin API",
		Long: `Start resolves the configured plugins, registers and initializes them,
then serves the admin API until interrupted.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runStart(cmd.Context(), cmd, cfg, logger)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runStart(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Info("starting agent",
		"plugins", cfg.Plugins,
		"block_plugins", cfg.BlockPlugins,
		"plugins_dir", cfg.PluginsDir,
		"admin_addr", cfg.AdminAddr)

	agentCtx, err := agent.Build(ctx, cfg, agent.WithLogger(logger))
	if err != nil {
		errutil.LogError(logger, "agent startup failed", err)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	server := admin.NewServer(cfg.AdminAddr, agentCtx,
		admin.WithLogger(logger),
		admin.WithReadiness(ready.Load))
	errCh, err := server.Start()
	if err != nil {
		errutil.LogError(logger, "admin server failed to start", err)
		return oops.With("addr", cfg.AdminAddr).Wrapf(err, "start admin server")
	}
	serveErr := make(chan error, 1)
	go monitorServerErrors(ctx, cancel, errCh, "admin", serveErr)
	ready.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Printf("Agent started, admin API on %s\n", server.Addr())
	logger.Info("agent ready",
		"plugins", agentCtx.Plugins().Len(),
		"protocols", len(agentCtx.Protocols().Protocols()),
		"admin_addr", server.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping admin server", "error", err)
	}

	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return oops.With("addr", cfg.AdminAddr).Wrapf(err, "admin server failed")
	default:
		return nil
	}
}

// monitorServerErrors cancels ctx when a server reports a serve error. The
// error is forwarded on failed, which must have room for one value, before
// ctx is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, failed chan<- error) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err)
			failed <- err
			cancel()
		}
	case <-ctx.Done():
	}
}
