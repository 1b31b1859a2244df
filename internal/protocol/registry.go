// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package protocol

import (
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// binding records which plugin owns a message type.
type binding struct {
	owner   string
	handler Handler
}

// Registry is the lookup table from message type to handler and from
// protocol version to controller.
//
// It is written during agent startup and read afterwards. Registry is safe
// for concurrent use.
type Registry struct {
	handlers    map[string]binding
	controllers map[string]map[string]Controller // protocol -> version -> controller
	versions    map[string]map[string]struct{}   // protocol -> versions with message types
	mu          sync.RWMutex
}

// NewRegistry creates an empty protocol registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:    make(map[string]binding),
		controllers: make(map[string]map[string]Controller),
		versions:    make(map[string]map[string]struct{}),
	}
}

// RegisterMessageType binds typeID to handler on behalf of owner.
//
// A type already bound by a different owner is a conflict and the existing
// binding is kept. The same owner may replace its own binding.
func (r *Registry) RegisterMessageType(owner, typeID string, handler Handler) error {
	if owner == "" {
		return oops.Code("MESSAGE_TYPE_INVALID").With("message_type", typeID).Errorf("owner cannot be empty")
	}
	if handler == nil {
		return oops.Code("MESSAGE_TYPE_INVALID").
			With("message_type", typeID).
			With("plugin", owner).
			Errorf("handler cannot be nil")
	}
	mt, err := ParseMessageType(typeID)
	if err != nil {
		return oops.With("plugin", owner).Wrap(err)
	}
	key := mt.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handlers[key]; ok && existing.owner != owner {
		return oops.Code("MESSAGE_TYPE_CONFLICT").
			With("message_type", key).
			With("plugin", owner).
			With("owner", existing.owner).
			Errorf("message type %s is already registered by plugin %s", key, existing.owner)
	}
	r.handlers[key] = binding{owner: owner, handler: handler}

	vs, ok := r.versions[mt.Protocol]
	if !ok {
		vs = make(map[string]struct{})
		r.versions[mt.Protocol] = vs
	}
	vs[mt.Version()] = struct{}{}
	return nil
}

// RegisterController binds controller to a protocol version. Several
// versions of one protocol may coexist; registering the same version again
// replaces the controller.
func (r *Registry) RegisterController(protocolName, version string, controller Controller) error {
	if protocolName == "" {
		return oops.Code("CONTROLLER_INVALID").Errorf("protocol name cannot be empty")
	}
	if controller == nil {
		return oops.Code("CONTROLLER_INVALID").With("protocol", protocolName).Errorf("controller cannot be nil")
	}
	if _, _, err := ParseVersion(version); err != nil {
		return oops.Code("CONTROLLER_INVALID").With("protocol", protocolName).Wrap(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byVersion, ok := r.controllers[protocolName]
	if !ok {
		byVersion = make(map[string]Controller)
		r.controllers[protocolName] = byVersion
	}
	byVersion[version] = controller
	return nil
}

// LookupHandler returns the handler bound to typeID. Qualified types are
// normalized first.
func (r *Registry) LookupHandler(typeID string) (Handler, bool) {
	mt, err := ParseMessageType(typeID)
	if err != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.handlers[mt.String()]
	if !ok {
		return nil, false
	}
	return b.handler, true
}

// Owner returns the plugin that registered typeID.
func (r *Registry) Owner(typeID string) (string, bool) {
	mt, err := ParseMessageType(typeID)
	if err != nil {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.handlers[mt.String()]
	return b.owner, ok
}

// LookupController returns the controller bound to a protocol version.
func (r *Registry) LookupController(protocolName, version string) (Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.controllers[protocolName][version]
	return c, ok
}

// MessageTypes returns all registered canonical message types, sorted.
func (r *Registry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Protocols returns every "protocol/version" that has message types or a
// controller, sorted.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for name, vs := range r.versions {
		for v := range vs {
			seen[name+"/"+v] = struct{}{}
		}
	}
	for name, cs := range r.controllers {
		for v := range cs {
			seen[name+"/"+v] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ProtocolsMatchingQuery returns the protocols matching a discover-features
// query. The query may be DIDComm-qualified and may use glob wildcards,
// e.g. "trust_ping/*" or "*".
func (r *Registry) ProtocolsMatchingQuery(query string) ([]string, error) {
	g, err := glob.Compile(Unqualify(query))
	if err != nil {
		return nil, oops.Code("PROTOCOL_QUERY_INVALID").With("query", query).Wrap(err)
	}

	var out []string
	for _, p := range r.Protocols() {
		if g.Match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}
