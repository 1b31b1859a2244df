// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/ariesgo/agent/internal/protocol"
)

// MaxDefinitionDepth bounds how deeply plugin packages may nest.
const MaxDefinitionDepth = 8

// Blocker decides whether an identifier is blocked by the operator.
type Blocker interface {
	Blocked(id string) bool
}

// Registry holds plugin descriptors in registration order and drives the
// register -> init activation sequence.
//
// Register and InitContext are meant to run sequentially during startup.
// After InitContext the registry is sealed and only read; reads are safe
// for concurrent use.
type Registry struct {
	descriptors []*Descriptor
	index       map[string]*Descriptor
	blocker     Blocker
	settings    map[string]Settings
	logger      *slog.Logger
	sealed      bool
	mu          sync.RWMutex
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithBlocker sets the block-list consulted before any load attempt.
func WithBlocker(b Blocker) RegistryOption {
	return func(r *Registry) {
		r.blocker = b
	}
}

// WithSettings sets the per-plugin settings table. The table is copied.
func WithSettings(table map[string]Settings) RegistryOption {
	return func(r *Registry) {
		r.settings = make(map[string]Settings, len(table))
		for id, s := range table {
			r.settings[id] = s.Clone()
		}
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty plugin registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		index:    make(map[string]*Descriptor),
		settings: make(map[string]Settings),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Blocked reports whether id is on the block-list.
func (r *Registry) Blocked(id string) bool {
	return r.blocker != nil && r.blocker.Blocked(id)
}

// Register loads id through loader and adds its descriptor.
//
// A blocked identifier is skipped silently: Register returns nil, nil and
// never calls the loader. A plugin package registers itself and then each
// of its sub-units; if any of them fails, the whole package is rolled back.
func (r *Registry) Register(ctx context.Context, id string, loader Loader) (*Descriptor, error) {
	r.mu.RLock()
	mark := len(r.descriptors)
	r.mu.RUnlock()

	d, err := r.register(ctx, id, loader, nil, "", 0)
	if err != nil {
		r.rollback(mark)
		return nil, err
	}
	return d, nil
}

func (r *Registry) register(ctx context.Context, id string, loader Loader, versions *VersionRange, parent string, depth int) (*Descriptor, error) {
	if id == "" {
		return nil, oops.Code("PLUGIN_INVALID").With("package", parent).Errorf("plugin identifier cannot be empty")
	}
	if r.Blocked(id) {
		r.logger.Info("plugin blocked, skipping", "plugin", id)
		return nil, nil
	}
	if depth > MaxDefinitionDepth {
		return nil, oops.Code("PLUGIN_DEPTH_EXCEEDED").
			With("plugin", id).
			With("package", parent).
			With("max_depth", MaxDefinitionDepth).
			Errorf("plugin package nesting exceeds %d levels", MaxDefinitionDepth)
	}

	r.mu.RLock()
	sealed := r.sealed
	_, dup := r.index[id]
	r.mu.RUnlock()

	if sealed {
		return nil, oops.Code("REGISTRY_SEALED").With("plugin", id).Errorf("plugin registry is sealed after initialization")
	}
	if dup {
		return nil, oops.Code("PLUGIN_DUPLICATE").With("plugin", id).Errorf("plugin %s is already registered", id)
	}
	if loader == nil {
		return nil, oops.Code("PLUGIN_LOAD_FAILED").With("plugin", id).Errorf("no module loader configured")
	}

	unit, err := loader.Load(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, oops.Code("PLUGIN_NOT_FOUND").With("plugin", id).Wrapf(err, "module loader cannot resolve plugin %s", id)
	case err != nil:
		return nil, oops.Code("PLUGIN_LOAD_FAILED").With("plugin", id).Wrapf(err, "load plugin %s", id)
	}

	kind := Classify(unit)
	if kind == KindInvalid {
		return nil, oops.Code("PLUGIN_INVALID").
			With("plugin", id).
			Hint("a plugin must expose setup, routes, message_types or definition").
			Errorf("plugin %s exposes no recognized capability", id)
	}

	d := &Descriptor{
		id:       id,
		kind:     kind,
		caps:     unit.Capabilities(),
		settings: r.settings[id].Clone(),
		versions: versions,
		parent:   parent,
		unit:     unit,
	}

	r.mu.Lock()
	if _, dup := r.index[id]; dup {
		r.mu.Unlock()
		return nil, oops.Code("PLUGIN_DUPLICATE").With("plugin", id).Errorf("plugin %s is already registered", id)
	}
	r.descriptors = append(r.descriptors, d)
	r.index[id] = d
	r.mu.Unlock()

	r.logger.Debug("registered plugin",
		"plugin", id,
		"kind", kind.String(),
		"capabilities", d.caps,
		"parent", parent)

	if kind != KindDefinition {
		return d, nil
	}

	subs, err := unit.Definition(ctx)
	if err != nil {
		return nil, oops.Code("PLUGIN_LOAD_FAILED").With("plugin", id).Wrapf(err, "enumerate package %s", id)
	}
	for _, sub := range subs {
		if sub.Versions != nil {
			if err := sub.Versions.Validate(); err != nil {
				return nil, oops.Code("PLUGIN_INVALID").
					With("plugin", sub.ID).
					With("package", id).
					Wrapf(err, "package %s lists %s with an invalid version range", id, sub.ID)
			}
		}
		if _, err := r.register(ctx, sub.ID, loader, sub.Versions, id, depth+1); err != nil {
			return nil, oops.With("package", id).Wrap(err)
		}
	}
	return d, nil
}

// rollback drops descriptors registered after the first n.
func (r *Registry) rollback(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.descriptors[n:] {
		delete(r.index, d.id)
	}
	r.descriptors = r.descriptors[:n]
}

// InitContext activates every registered plugin in registration order and
// seals the registry.
//
// Setup plugins get their hook called exactly once. Convention plugins have
// their declared message types and controllers inserted into the host's
// protocol registry. Package descriptors are skipped; their sub-units are
// descriptors of their own.
func (r *Registry) InitContext(ctx context.Context, host Host) error {
	if host == nil || host.Protocols() == nil {
		return oops.Code("PLUGIN_SETUP_FAILED").Errorf("init requires a host with a protocol registry")
	}

	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		return oops.Code("REGISTRY_SEALED").Errorf("plugin registry is already initialized")
	}
	r.sealed = true
	ordered := slices.Clone(r.descriptors)
	r.mu.Unlock()

	for _, d := range ordered {
		switch d.kind {
		case KindSetup:
			if err := d.unit.Setup(ctx, host); err != nil {
				return oops.Code("PLUGIN_SETUP_FAILED").With("plugin", d.id).Wrapf(err, "setup plugin %s", d.id)
			}
		case KindConvention:
			if err := wireConvention(host.Protocols(), d); err != nil {
				return err
			}
		case KindDefinition, KindInvalid:
			continue
		}
		r.logger.Debug("initialized plugin", "plugin", d.id, "kind", d.kind.String())
	}

	r.logger.Info("plugins initialized", "count", len(ordered))
	return nil
}

// wireConvention registers a convention plugin's message types and
// controllers. When the plugin came from a package with a version range,
// each message type is also registered under every supported minor
// version of its major version.
func wireConvention(protocols *protocol.Registry, d *Descriptor) error {
	for _, decl := range d.unit.MessageTypes {
		mt, err := protocol.ParseMessageType(decl.Type)
		if err != nil {
			return oops.With("plugin", d.id).Wrap(err)
		}
		for _, typeID := range expandMinorVersions(mt, d.versions) {
			if err := protocols.RegisterMessageType(d.id, typeID, decl.Handler); err != nil {
				return oops.With("plugin", d.id).Wrap(err)
			}
		}
	}
	for _, c := range d.unit.Controllers {
		if err := protocols.RegisterController(c.Protocol, c.Version, c.Controller); err != nil {
			return oops.With("plugin", d.id).Wrap(err)
		}
	}
	return nil
}

func expandMinorVersions(mt protocol.MessageType, vr *VersionRange) []string {
	out := []string{mt.String()}
	if vr == nil || vr.Major != mt.Major {
		return out
	}
	for minor := vr.MinimumMinor; minor <= vr.CurrentMinor; minor++ {
		if minor != mt.Minor {
			out = append(out, mt.WithMinor(minor).String())
		}
		if minor == math.MaxUint64 {
			break
		}
	}
	return out
}

// RegisterAdminRoutes asks every plugin exposing routes, in registration
// order, to contribute into rc. It does not touch registry state, so
// concurrent calls with distinct collectors are safe.
//
// A failing plugin's partial contributions are discarded from rc.
func (r *Registry) RegisterAdminRoutes(ctx context.Context, rc *RouteCollector) error {
	if rc == nil {
		return oops.Code("ROUTE_REGISTRATION_FAILED").Errorf("route collector cannot be nil")
	}

	r.mu.RLock()
	ordered := slices.Clone(r.descriptors)
	r.mu.RUnlock()

	for _, d := range ordered {
		if d.unit.Routes == nil {
			continue
		}
		mark := rc.Len()
		rc.setOwner(d.id)
		err := d.unit.Routes(ctx, rc)
		rc.setOwner("")
		if err != nil {
			rc.truncate(mark)
			return oops.Code("ROUTE_REGISTRATION_FAILED").
				With("plugin", d.id).
				Wrapf(err, "plugin %s failed to contribute admin routes", d.id)
		}
	}
	return nil
}

// Get returns the descriptor registered under id.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.index[id]
	return d, ok
}

// Descriptors returns descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.descriptors)
}

// Identifiers returns registered identifiers in registration order.
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.descriptors))
	for i, d := range r.descriptors {
		ids[i] = d.id
	}
	return ids
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.descriptors)
}

// Sealed reports whether InitContext has run.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sealed
}
