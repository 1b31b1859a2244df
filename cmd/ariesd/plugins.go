// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ariesgo/agent/internal/agent"
	"github.com/ariesgo/agent/internal/config"
	pluginlua "github.com/ariesgo/agent/internal/plugin/lua"
	"github.com/ariesgo/agent/pkg/errutil"
)

// NewPluginsCmd creates the plugins subcommand.
func NewPluginsCmd() *cobra.Command {
	var available bool

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Show the plugins and protocols the configuration resolves to",
		Long: `Plugins builds the agent context from the configuration without serving
anything and prints the registered plugins, in registration order, and the
protocols they provide. With --available it lists the manifests found in
the plugins directory instead.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if available {
				return printAvailable(cmd, cfg)
			}

			agentCtx, err := agent.Build(cmd.Context(), cfg, agent.WithLogger(logger))
			if err != nil {
				errutil.LogError(logger, "agent build failed", err)
				return err
			}
			return printPlugins(cmd.OutOrStdout(), agentCtx)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&available, "available", false, "list plugin manifests found in the plugins directory")
	return cmd
}

func printPlugins(out io.Writer, c *agent.Context) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLUGIN\tKIND\tCAPABILITIES\tPACKAGE")
	for _, d := range c.Plugins().Descriptors() {
		caps := make([]string, 0, len(d.Capabilities()))
		for _, cp := range d.Capabilities() {
			caps = append(caps, string(cp))
		}
		parent := d.Parent()
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID(), d.Kind(), strings.Join(caps, ","), parent)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "PROTOCOLS")
	for _, p := range c.Protocols().Protocols() {
		fmt.Fprintln(out, p)
	}
	return nil
}

func printAvailable(cmd *cobra.Command, cfg *config.Config) error {
	found, err := pluginlua.NewLoader(cfg.PluginsDir).Discover(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tTYPE\tDESCRIPTION")
	for _, d := range found {
		m := d.Manifest
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.Version, m.Type, m.Description)
	}
	return w.Flush()
}
