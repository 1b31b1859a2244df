// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

// Package config loads agent startup configuration from an optional YAML
// file overlaid with command-line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/ariesgo/agent/internal/logging"
	"github.com/ariesgo/agent/internal/xdg"
)

// keyDelim separates nested koanf keys. Plugin identifiers contain dots, so
// the dot cannot be used.
const keyDelim = "::"

// Configuration keys, shared by the YAML file and the flags.
const (
	KeyPlugins           = "plugins"
	KeyBlockPlugins      = "block-plugins"
	KeyPluginConfig      = "plugin-config"
	KeyPluginConfigValue = "plugin-config-value"
	KeyPluginsDir        = "plugins-dir"
	KeyAdminAddr         = "admin-addr"
	KeyLogFormat         = "log-format"
	KeyLogLevel          = "log-level"
)

// Default values.
const (
	DefaultAdminAddr = "127.0.0.1:8031"
	DefaultLogFormat = "json"
	DefaultLogLevel  = "info"
)

// Config is the resolved startup configuration.
type Config struct {
	// Plugins is the allow-list of external plugin identifiers, in order.
	Plugins []string `koanf:"plugins"`
	// BlockPlugins lists identifiers or glob patterns never to load.
	BlockPlugins []string `koanf:"block-plugins"`
	// PluginConfig maps plugin identifier to its settings.
	PluginConfig map[string]map[string]any `koanf:"plugin-config"`
	// PluginConfigValues are "id.key=value" entries merged over PluginConfig.
	PluginConfigValues []string `koanf:"plugin-config-value"`
	PluginsDir         string   `koanf:"plugins-dir"`
	AdminAddr          string   `koanf:"admin-addr"`
	LogFormat          string   `koanf:"log-format"`
	LogLevel           string   `koanf:"log-level"`
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringSlice(KeyPlugins, nil, "external plugin to load (repeatable)")
	fs.StringSlice(KeyBlockPlugins, nil, "plugin identifier or glob pattern never to load (repeatable)")
	fs.StringArray(KeyPluginConfigValue, nil, "plugin setting as <plugin-id>.<key>=<value> (repeatable)")
	fs.String(KeyPluginsDir, "", "directory containing external plugin manifests (default: XDG_DATA_HOME/ariesd/plugins)")
	fs.String(KeyAdminAddr, DefaultAdminAddr, "admin server listen address")
	fs.String(KeyLogFormat, DefaultLogFormat, "log format (json or text)")
	fs.String(KeyLogLevel, DefaultLogLevel, "log level (debug, info, warn or error)")
}

// Load resolves the configuration from the flag defaults in fs, the YAML
// file at path when non-empty, and the flags explicitly set in fs, in that
// order. Flags left at their default do not override file values. The
// result is validated.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(keyDelim)

	// Flag defaults first, then the file, then flags set on the command line.
	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, keyDelim, nil, flagValue), nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "load flag defaults")
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "load config file")
		}
	}

	if fs != nil {
		changed := pflag.NewFlagSet("changed", pflag.ContinueOnError)
		fs.Visit(changed.AddFlag)
		if err := k.Load(posflag.ProviderWithFlag(changed, keyDelim, nil, flagValue), nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "load flags")
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "decode configuration")
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flagValue keeps repeatable flags as lists.
func flagValue(f *pflag.Flag) (string, any) {
	if sv, ok := f.Value.(pflag.SliceValue); ok {
		return f.Name, sv.GetSlice()
	}
	return f.Name, f.Value.String()
}

func (c *Config) applyDefaults() {
	if c.AdminAddr == "" {
		c.AdminAddr = DefaultAdminAddr
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	// Without a resolvable data directory no external plugins are found.
	if c.PluginsDir == "" {
		c.PluginsDir, _ = xdg.PluginsDir()
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.AdminAddr == "" {
		return invalid(KeyAdminAddr, "admin-addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid(KeyLogFormat, fmt.Sprintf("log-format must be 'json' or 'text', got %q", c.LogFormat))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return oops.With("key", KeyLogLevel).Wrap(err)
	}
	for i, id := range c.Plugins {
		if strings.TrimSpace(id) == "" {
			return invalid(KeyPlugins, fmt.Sprintf("plugins[%d] is empty", i))
		}
	}
	for i, id := range c.BlockPlugins {
		if strings.TrimSpace(id) == "" {
			return invalid(KeyBlockPlugins, fmt.Sprintf("block-plugins[%d] is empty", i))
		}
	}
	for id := range c.PluginConfig {
		if id == "" {
			return invalid(KeyPluginConfig, "plugin-config has an empty plugin identifier")
		}
	}
	for _, entry := range c.PluginConfigValues {
		if _, _, _, err := ParseConfigValue(entry); err != nil {
			return err
		}
	}
	return nil
}

// PluginSettings merges PluginConfig with PluginConfigValues, later entries
// winning. The result is a fresh table.
func (c *Config) PluginSettings() (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(c.PluginConfig))
	for id, kv := range c.PluginConfig {
		settings := make(map[string]any, len(kv))
		for k, v := range kv {
			settings[k] = v
		}
		out[id] = settings
	}

	for _, entry := range c.PluginConfigValues {
		id, key, value, err := ParseConfigValue(entry)
		if err != nil {
			return nil, err
		}
		if out[id] == nil {
			out[id] = make(map[string]any)
		}
		out[id][key] = value
	}
	return out, nil
}

// ParseConfigValue splits "<plugin-id>.<key>=<value>". The plugin
// identifier may itself contain dots; the key is the last segment before
// '='.
func ParseConfigValue(entry string) (id, key, value string, err error) {
	target, value, ok := strings.Cut(entry, "=")
	if !ok {
		return "", "", "", invalid(KeyPluginConfigValue, fmt.Sprintf("%q must have the form <plugin-id>.<key>=<value>", entry))
	}
	target = strings.TrimSpace(target)
	dot := strings.LastIndex(target, ".")
	if dot <= 0 || dot == len(target)-1 {
		return "", "", "", invalid(KeyPluginConfigValue, fmt.Sprintf("%q must name both a plugin and a key", entry))
	}
	return target[:dot], target[dot+1:], value, nil
}

func invalid(key, msg string) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s", msg)
}
