// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package lua

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/ariesgo/agent/internal/plugin"
	"github.com/ariesgo/agent/internal/protocol"
)

// Compile-time interface check.
var _ plugin.Loader = (*Loader)(nil)

// Loader resolves plugin identifiers to manifests under a plugins root:
// identifier "acme.greeter" lives in <root>/acme.greeter/plugin.yaml.
type Loader struct {
	root     string
	factory  *StateFactory
	settings func(id string) plugin.Settings
	logger   *slog.Logger
}

// Option configures the Loader.
type Option func(*Loader)

// WithLogger sets the logger handed to scripts and used for warnings.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) {
		ld.logger = l
	}
}

// WithSettings sets the source of per-plugin settings exposed to scripts
// through agent.setting.
func WithSettings(fn func(id string) plugin.Settings) Option {
	return func(ld *Loader) {
		ld.settings = fn
	}
}

// NewLoader creates a loader rooted at dir. An empty dir resolves nothing.
func NewLoader(dir string, opts ...Option) *Loader {
	l := &Loader{
		root:    dir,
		factory: NewStateFactory(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.settings == nil {
		l.settings = func(string) plugin.Settings { return nil }
	}
	return l
}

// Root returns the plugins root directory.
func (l *Loader) Root() string {
	return l.root
}

// Load implements plugin.Loader. Identifiers that are malformed or have no
// manifest directory resolve to plugin.ErrNotFound.
func (l *Loader) Load(ctx context.Context, id string) (*plugin.Unit, error) {
	if l.root == "" || !plugin.ValidIdentifier(id) {
		return nil, plugin.ErrNotFound
	}

	dir := filepath.Join(l.root, id)
	m, err := readManifest(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, oops.In("lua").With("path", dir).Wrap(plugin.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if m.Name != id {
		return nil, oops.In("lua").
			With("plugin", id).
			With("manifest_name", m.Name).
			Hint("the manifest name must match the plugin directory").
			Errorf("manifest in %s declares plugin %q", dir, m.Name)
	}

	switch m.Type {
	case plugin.TypePackage:
		subs := m.SubUnits()
		return &plugin.Unit{
			Definition: func(context.Context) ([]plugin.SubUnit, error) {
				return subs, nil
			},
		}, nil
	case plugin.TypeLua:
		return l.luaUnit(ctx, dir, m)
	default:
		return nil, oops.In("lua").With("plugin", id).Errorf("unsupported plugin type %q", m.Type)
	}
}

// luaUnit compiles the entry script once and builds a unit whose message
// handlers and routes run it in fresh states.
func (l *Loader) luaUnit(ctx context.Context, dir string, m *plugin.Manifest) (*plugin.Unit, error) {
	if !filepath.IsLocal(m.LuaPlugin.Entry) {
		return nil, oops.In("lua").
			With("plugin", m.Name).
			With("entry", m.LuaPlugin.Entry).
			Errorf("entry must be a path inside the plugin directory")
	}
	entryPath := filepath.Join(dir, m.LuaPlugin.Entry)
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return nil, oops.In("lua").With("plugin", m.Name).With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	s := &script{
		id:      m.Name,
		code:    string(code),
		factory: l.factory,
		funcs:   newHostFunctions(m.Name, l.settings(m.Name), l.logger),
		logger:  l.logger,
	}
	if err := l.check(ctx, s, m); err != nil {
		return nil, err
	}

	unit := &plugin.Unit{}
	for _, t := range m.MessageTypes {
		unit.MessageTypes = append(unit.MessageTypes, plugin.MessageTypeDecl{Type: t, Handler: s})
	}
	for _, c := range m.Controllers {
		unit.Controllers = append(unit.Controllers, plugin.ControllerDecl{
			Protocol:   c.Protocol,
			Version:    c.Version,
			Controller: protocol.Roles(c.Roles),
		})
	}
	if len(m.Routes) > 0 {
		routes := m.Routes
		unit.Routes = func(_ context.Context, rc *plugin.RouteCollector) error {
			for _, r := range routes {
				if err := rc.Add(plugin.Route{
					Method:  r.NormalizedMethod(),
					Path:    r.Path,
					Summary: r.Summary,
					Handler: s,
				}); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return unit, nil
}

// check runs the code once to catch syntax errors and missing entry
// points before the plugin is registered.
func (l *Loader) check(ctx context.Context, s *script, m *plugin.Manifest) error {
	L, err := l.factory.NewState(ctx)
	if err != nil {
		return oops.In("lua").With("plugin", m.Name).Hint("failed to create validation state").Wrap(err)
	}
	defer L.Close()

	s.funcs.register(L)
	if err := L.DoString(s.code); err != nil {
		return oops.In("lua").With("plugin", m.Name).With("entry", m.LuaPlugin.Entry).Hint("syntax error").Wrap(err)
	}

	if len(m.MessageTypes) > 0 && L.GetGlobal(onMessage).Type() != lua.LTFunction {
		return oops.In("lua").With("plugin", m.Name).Errorf("plugin declares message-types but does not define %s", onMessage)
	}
	if len(m.Routes) > 0 && L.GetGlobal(onRequest).Type() != lua.LTFunction {
		return oops.In("lua").With("plugin", m.Name).Errorf("plugin declares routes but does not define %s", onRequest)
	}
	return nil
}

// Discovered is a manifest found under the plugins root.
type Discovered struct {
	Manifest *plugin.Manifest
	Dir      string
}

// Discover lists every valid manifest under the plugins root. Directories
// without a manifest or with an invalid one are logged and skipped. A
// missing root yields no plugins.
func (l *Loader) Discover(_ context.Context) ([]*Discovered, error) {
	if l.root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.In("lua").With("path", l.root).Wrapf(err, "read plugins directory")
	}

	var found []*Discovered
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(l.root, entry.Name())
		m, err := readManifest(dir)
		if err != nil {
			l.logger.Warn("skipping plugin directory", "dir", entry.Name(), "error", err)
			continue
		}
		found = append(found, &Discovered{Manifest: m, Dir: dir})
	}
	return found, nil
}

// readManifest reads and validates dir/plugin.yaml against the JSON schema
// and the manifest rules. A missing file is reported as fs.ErrNotExist.
func readManifest(dir string) (*plugin.Manifest, error) {
	path := filepath.Join(dir, plugin.ManifestFile)
	data, err := os.ReadFile(path) //nolint:gosec // path is built from the plugins root and a validated identifier
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, oops.In("lua").With("path", path).Wrapf(err, "read manifest")
	}

	if err := plugin.ValidateSchema(data); err != nil {
		return nil, oops.In("lua").
			With("path", path).
			Hint(plugin.FormatSchemaError(err)).
			Wrapf(err, "manifest does not match schema")
	}
	m, err := plugin.ParseManifest(data)
	if err != nil {
		return nil, oops.In("lua").With("path", path).Wrapf(err, "invalid manifest")
	}
	return m, nil
}
