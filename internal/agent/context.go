// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

// Package agent builds the agent context: the resolved plugin configuration
// together with the plugin and protocol registries it owns.
package agent

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/ariesgo/agent/internal/builtin"
	"github.com/ariesgo/agent/internal/config"
	"github.com/ariesgo/agent/internal/plugin"
	"github.com/ariesgo/agent/internal/plugin/blocklist"
	pluginlua "github.com/ariesgo/agent/internal/plugin/lua"
	"github.com/ariesgo/agent/internal/protocol"
)

// Compile-time interface check.
var _ plugin.Host = (*Context)(nil)

// Context owns one plugin registry and one protocol registry for the
// lifetime of the agent. It is immutable once Build returns.
type Context struct {
	plugins    *plugin.Registry
	protocols  *protocol.Registry
	allow      []string
	block      *blocklist.List
	candidates []string
	settings   map[string]plugin.Settings
	logger     *slog.Logger
}

type options struct {
	builtinIDs    []string
	builtinLoader plugin.Loader
	external      plugin.Loader
	logger        *slog.Logger
}

// Option configures Build.
type Option func(*options)

// WithBuiltins replaces the built-in plugin set: ids are registered first,
// in order, and resolved through loader. Pass no ids to run without
// built-ins.
func WithBuiltins(ids []string, loader plugin.Loader) Option {
	return func(o *options) {
		o.builtinIDs = slices.Clone(ids)
		o.builtinLoader = loader
	}
}

// WithLoader replaces the loader for external plugins. By default external
// plugins are Lua plugins under the configured plugins directory.
func WithLoader(l plugin.Loader) Option {
	return func(o *options) {
		o.external = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Build resolves the candidate plugins from cfg, registers them and runs
// the init pass.
//
// Candidates are the built-ins followed by the allow-list, with repeated
// identifiers dropped and blocked identifiers removed. A candidate already
// registered as a sub-plugin of an earlier package is not registered again.
// Blocked plugins are never loaded. The first failure aborts the build and no Context is
// returned; the error carries the offending plugin identifier.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*Context, error) {
	if cfg == nil {
		return nil, oops.Code("CONFIG_INVALID").Errorf("agent configuration is required")
	}

	o := &options{
		builtinIDs:    builtin.Identifiers(),
		builtinLoader: builtin.NewCatalog(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	block, err := blocklist.New(cfg.BlockPlugins)
	if err != nil {
		return nil, oops.With("key", config.KeyBlockPlugins).Wrap(err)
	}
	table, err := cfg.PluginSettings()
	if err != nil {
		return nil, err
	}
	settings := make(map[string]plugin.Settings, len(table))
	for id, kv := range table {
		settings[id] = plugin.Settings(kv)
	}

	c := &Context{
		protocols: protocol.NewRegistry(),
		allow:     normalizeIDs(cfg.Plugins),
		block:     block,
		settings:  settings,
		logger:    o.logger,
	}

	if o.external == nil {
		o.external = pluginlua.NewLoader(cfg.PluginsDir,
			pluginlua.WithLogger(o.logger),
			pluginlua.WithSettings(c.Settings))
	}
	loader := plugin.Chain{o.builtinLoader, o.external}

	c.plugins = plugin.NewRegistry(
		plugin.WithBlocker(block),
		plugin.WithSettings(settings),
		plugin.WithRegistryLogger(o.logger),
	)

	c.candidates = c.resolveCandidates(o.builtinIDs)
	for _, id := range c.candidates {
		// Sub-plugins of an earlier package are already in the union.
		if d, ok := c.plugins.Get(id); ok {
			o.logger.Debug("plugin already registered by package, skipping",
				"plugin", id,
				"package", d.Parent())
			continue
		}
		if _, err := c.plugins.Register(ctx, id, loader); err != nil {
			return nil, oops.In("agent").Wrapf(err, "register plugin %s", id)
		}
	}

	if err := c.plugins.InitContext(ctx, c); err != nil {
		return nil, oops.In("agent").Wrapf(err, "initialize plugins")
	}

	o.logger.Info("agent context ready",
		"plugins", c.plugins.Len(),
		"message_types", len(c.protocols.MessageTypes()),
		"blocked", block.Patterns())
	return c, nil
}

// resolveCandidates computes (built-ins ∪ allow-list) − block-list,
// keeping the first occurrence of each identifier.
func (c *Context) resolveCandidates(builtinIDs []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range slices.Concat(normalizeIDs(builtinIDs), c.allow) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if c.block.Blocked(id) {
			c.logger.Info("plugin blocked by configuration", "plugin", id)
			continue
		}
		out = append(out, id)
	}
	return out
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Plugins returns the plugin registry.
func (c *Context) Plugins() *plugin.Registry {
	return c.plugins
}

// Protocols returns the protocol registry.
func (c *Context) Protocols() *protocol.Registry {
	return c.protocols
}

// Settings returns a copy of the operator settings for a plugin. A plugin
// without settings gets an empty map.
func (c *Context) Settings(id string) plugin.Settings {
	return c.settings[id].Clone()
}

// Logger returns the agent logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// AllowList returns the configured external plugin identifiers.
func (c *Context) AllowList() []string {
	return slices.Clone(c.allow)
}

// BlockList returns the configured block-list entries.
func (c *Context) BlockList() []string {
	return c.block.Patterns()
}

// Candidates returns the top-level identifiers that were registered, in
// order. Package sub-plugins are not included.
func (c *Context) Candidates() []string {
	return slices.Clone(c.candidates)
}

// RegisterAdminRoutes collects every plugin's admin routes into rc.
func (c *Context) RegisterAdminRoutes(ctx context.Context, rc *plugin.RouteCollector) error {
	return c.plugins.RegisterAdminRoutes(ctx, rc)
}

// Dispatch routes msg to the handler registered for its type and returns
// the handler's reply, if any.
func (c *Context) Dispatch(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	if msg == nil {
		return nil, oops.Code("MESSAGE_TYPE_INVALID").Errorf("message cannot be nil")
	}
	if _, err := protocol.ParseMessageType(msg.Type); err != nil {
		return nil, err
	}

	handler, ok := c.protocols.LookupHandler(msg.Type)
	if !ok {
		return nil, oops.Code("MESSAGE_TYPE_UNSUPPORTED").
			With("message_type", msg.Type).
			Errorf("no plugin handles message type %s", msg.Type)
	}
	owner, _ := c.protocols.Owner(msg.Type)

	reply, err := handler.HandleMessage(ctx, msg)
	if err != nil {
		return nil, oops.Code("MESSAGE_HANDLER_FAILED").
			With("plugin", owner).
			With("message_type", msg.Type).
			With("message_id", msg.ID).
			Wrapf(err, "plugin %s failed to handle %s", owner, msg.Type)
	}
	return reply, nil
}
