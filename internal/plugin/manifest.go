// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package plugin

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/ariesgo/agent/internal/protocol"
)

// Type identifies how an external plugin is implemented.
type Type string

// Manifest types.
const (
	TypeLua     Type = "lua"
	TypePackage Type = "package"
)

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "plugin.yaml"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name         string           `yaml:"name" jsonschema:"minLength=1,maxLength=64"`
	Version      string           `yaml:"version"`
	Type         Type             `yaml:"type" jsonschema:"enum=lua,enum=package"`
	Description  string           `yaml:"description,omitempty"`
	MessageTypes []string         `yaml:"message-types,omitempty"`
	Routes       []RouteSpec      `yaml:"routes,omitempty"`
	Controllers  []ControllerSpec `yaml:"controllers,omitempty"`
	LuaPlugin    *LuaConfig       `yaml:"lua-plugin,omitempty"`
	Package      *PackageConfig   `yaml:"package,omitempty"`
}

// RouteSpec declares an admin route served by a Lua plugin.
type RouteSpec struct {
	Method  string `yaml:"method"`
	Path    string `yaml:"path"`
	Summary string `yaml:"summary,omitempty"`
}

// ControllerSpec declares the roles a plugin plays in a protocol version.
type ControllerSpec struct {
	Protocol string   `yaml:"protocol"`
	Version  string   `yaml:"version"`
	Roles    []string `yaml:"roles,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry"`
}

// PackageConfig lists the sub-plugins of a package manifest.
type PackageConfig struct {
	Plugins []PackageEntry `yaml:"plugins"`
}

// PackageEntry is one sub-plugin of a package, optionally with the range
// of minor versions it supports.
type PackageEntry struct {
	ID           string  `yaml:"id"`
	Major        *uint64 `yaml:"major,omitempty"`
	MinimumMinor uint64  `yaml:"minimum-minor,omitempty" jsonschema:"maximum=1024"`
	CurrentMinor uint64  `yaml:"current-minor,omitempty" jsonschema:"maximum=1024"`
}

// maxNameLength is the maximum allowed length for plugin identifiers.
const maxNameLength = 64

// idPattern validates plugin identifiers: dot-separated segments, each
// starting with a lowercase letter and containing lowercase letters,
// digits, hyphens or underscores.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*(\.[a-z][a-z0-9_-]*)*$`)

// ValidIdentifier reports whether id is a well-formed plugin identifier.
func ValidIdentifier(id string) bool {
	return len(id) <= maxNameLength && idPattern.MatchString(id)
}

// ParseManifest parses and validates a plugin.yaml file. Unknown keys are
// rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if !ValidIdentifier(m.Name) {
		return fmt.Errorf("name %q must be %d characters or less of dot-separated a-z, 0-9, '-' or '_' segments", m.Name, maxNameLength)
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not a semantic version: %w", m.Version, err)
	}

	switch m.Type {
	case TypeLua:
		return m.validateLua()
	case TypePackage:
		return m.validatePackage()
	default:
		return fmt.Errorf("type must be 'lua' or 'package', got %q", m.Type)
	}
}

func (m *Manifest) validateLua() error {
	if m.LuaPlugin == nil {
		return fmt.Errorf("lua-plugin is required when type is lua")
	}
	if m.LuaPlugin.Entry == "" {
		return fmt.Errorf("lua-plugin.entry is required")
	}
	if m.Package != nil {
		return fmt.Errorf("package is not allowed when type is lua")
	}

	for i, t := range m.MessageTypes {
		if _, err := protocol.ParseMessageType(t); err != nil {
			return fmt.Errorf("message-types[%d]: %w", i, err)
		}
	}
	for i, r := range m.Routes {
		if !slices.Contains(allowedMethods, r.NormalizedMethod()) {
			return fmt.Errorf("routes[%d]: unsupported method %q", i, r.Method)
		}
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("routes[%d]: path %q must start with /", i, r.Path)
		}
	}
	for i, c := range m.Controllers {
		if c.Protocol == "" {
			return fmt.Errorf("controllers[%d]: protocol is required", i)
		}
		if _, _, err := protocol.ParseVersion(c.Version); err != nil {
			return fmt.Errorf("controllers[%d]: %w", i, err)
		}
	}
	return nil
}

func (m *Manifest) validatePackage() error {
	if m.Package == nil || len(m.Package.Plugins) == 0 {
		return fmt.Errorf("package.plugins is required when type is package")
	}
	if m.LuaPlugin != nil || len(m.MessageTypes) > 0 || len(m.Routes) > 0 || len(m.Controllers) > 0 {
		return fmt.Errorf("a package only lists plugins; message-types, routes, controllers and lua-plugin are not allowed")
	}

	seen := make(map[string]bool, len(m.Package.Plugins))
	for i, e := range m.Package.Plugins {
		if !ValidIdentifier(e.ID) {
			return fmt.Errorf("package.plugins[%d]: invalid id %q", i, e.ID)
		}
		if e.ID == m.Name {
			return fmt.Errorf("package.plugins[%d]: package cannot list itself", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("package.plugins[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
		if e.Major != nil {
			vr := VersionRange{Major: *e.Major, MinimumMinor: e.MinimumMinor, CurrentMinor: e.CurrentMinor}
			if err := vr.Validate(); err != nil {
				return fmt.Errorf("package.plugins[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// SubUnits converts the package entries into definition sub-units.
func (m *Manifest) SubUnits() []SubUnit {
	if m.Package == nil {
		return nil
	}
	subs := make([]SubUnit, 0, len(m.Package.Plugins))
	for _, e := range m.Package.Plugins {
		sub := SubUnit{ID: e.ID}
		if e.Major != nil {
			sub.Versions = &VersionRange{Major: *e.Major, MinimumMinor: e.MinimumMinor, CurrentMinor: e.CurrentMinor}
		}
		subs = append(subs, sub)
	}
	return subs
}

// NormalizedMethod returns the upper-cased method of the route.
func (r RouteSpec) NormalizedMethod() string {
	return strings.ToUpper(r.Method)
}
