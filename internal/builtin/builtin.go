// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

// Package builtin assembles the plugins compiled into the agent.
package builtin

import (
	"context"

	"github.com/ariesgo/agent/internal/builtin/basicmessage"
	"github.com/ariesgo/agent/internal/builtin/discovery"
	"github.com/ariesgo/agent/internal/builtin/trustping"
	"github.com/ariesgo/agent/internal/plugin"
)

// Plugin identifiers.
const (
	DiscoveryID    = discovery.ID
	ProtocolsID    = "core.protocols"
	TrustPingID    = "core.protocols.trustping"
	BasicMessageID = basicmessage.ID
)

// Identifiers returns the built-in plugins registered on every agent, in
// registration order. Sub-plugins of the core.protocols package are
// registered through it.
func Identifiers() []string {
	return []string{DiscoveryID, ProtocolsID}
}

// NewCatalog returns a loader for every built-in plugin, including package
// sub-plugins.
func NewCatalog() *plugin.Catalog {
	return plugin.NewCatalog().
		MustAdd(DiscoveryID, discovery.New).
		MustAdd(ProtocolsID, protocols).
		MustAdd(TrustPingID, trustping.New).
		MustAdd(BasicMessageID, basicmessage.New)
}

// protocols is the core protocol package.
func protocols() *plugin.Unit {
	v1 := &plugin.VersionRange{Major: 1, MinimumMinor: 0, CurrentMinor: 0}
	return &plugin.Unit{
		Definition: func(context.Context) ([]plugin.SubUnit, error) {
			return []plugin.SubUnit{
				{ID: TrustPingID, Versions: v1},
				{ID: BasicMessageID, Versions: v1},
			}, nil
		},
	}
}
