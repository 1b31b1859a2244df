// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

// Package plugin discovers, validates and activates agent plugins.
//
// A module loader turns a plugin identifier into a Unit. The Registry
// classifies the unit once into a Descriptor, then activates descriptors in
// registration order: plugins with a setup hook wire themselves, the rest
// have their declared message types and controllers fed into the protocol
// registry.
package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ariesgo/agent/internal/protocol"
)

// Capability names an entry point a plugin may expose.
type Capability string

// Recognized capabilities, in canonical order.
const (
	CapSetup        Capability = "setup"
	CapRoutes       Capability = "routes"
	CapMessageTypes Capability = "message_types"
	CapDefinition   Capability = "definition"
)

// Host is the view of the running agent handed to setup hooks.
type Host interface {
	// Protocols returns the agent's protocol registry.
	Protocols() *protocol.Registry
	// Settings returns the operator settings for a plugin.
	Settings(id string) Settings
	// Logger returns the agent logger.
	Logger() *slog.Logger
}

// SetupFunc is a consolidated initialization hook. The plugin is fully
// responsible for its own wiring.
type SetupFunc func(ctx context.Context, host Host) error

// RoutesFunc contributes admin routes into a collector.
type RoutesFunc func(ctx context.Context, rc *RouteCollector) error

// DefinitionFunc enumerates the sub-units of a plugin package.
type DefinitionFunc func(ctx context.Context) ([]SubUnit, error)

// MessageTypeDecl declares a message type and the handler serving it.
type MessageTypeDecl struct {
	Type    string
	Handler protocol.Handler
}

// ControllerDecl binds a controller to a protocol version.
type ControllerDecl struct {
	Protocol   string
	Version    string
	Controller protocol.Controller
}

// VersionRange is the span of minor versions a protocol package supports
// for one major version.
type VersionRange struct {
	Major        uint64
	MinimumMinor uint64
	CurrentMinor uint64
}

// MaxMinorSpan bounds CurrentMinor - MinimumMinor. Each minor version in
// the range becomes a registered message type alias.
const MaxMinorSpan = 64

// Validate checks that the range is ordered and no wider than MaxMinorSpan.
func (v VersionRange) Validate() error {
	if v.CurrentMinor < v.MinimumMinor {
		return fmt.Errorf("current-minor %d is below minimum-minor %d", v.CurrentMinor, v.MinimumMinor)
	}
	if v.CurrentMinor-v.MinimumMinor > MaxMinorSpan {
		return fmt.Errorf("minor version range %d..%d spans more than %d versions", v.MinimumMinor, v.CurrentMinor, MaxMinorSpan)
	}
	return nil
}

// SubUnit is one entry of a plugin package definition.
type SubUnit struct {
	ID       string
	Versions *VersionRange
}

// Unit is what a module loader produces for an identifier. Every field is
// optional; which ones are set decides the plugin's Kind.
type Unit struct {
	Setup        SetupFunc
	Routes       RoutesFunc
	MessageTypes []MessageTypeDecl
	Controllers  []ControllerDecl
	Definition   DefinitionFunc
}

// Capabilities lists the capabilities u exposes, in canonical order.
func (u *Unit) Capabilities() []Capability {
	if u == nil {
		return nil
	}
	var caps []Capability
	if u.Setup != nil {
		caps = append(caps, CapSetup)
	}
	if u.Routes != nil {
		caps = append(caps, CapRoutes)
	}
	if len(u.MessageTypes) > 0 {
		caps = append(caps, CapMessageTypes)
	}
	if u.Definition != nil {
		caps = append(caps, CapDefinition)
	}
	return caps
}

// Kind is the activation strategy of a registered plugin.
type Kind int

// Plugin kinds.
const (
	KindInvalid Kind = iota
	// KindSetup plugins expose a setup hook and wire themselves.
	KindSetup
	// KindConvention plugins expose routes and/or message types that the
	// registry wires on their behalf.
	KindConvention
	// KindDefinition plugins enumerate sub-units registered in their place.
	KindDefinition
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSetup:
		return "setup"
	case KindConvention:
		return "convention"
	case KindDefinition:
		return "definition"
	default:
		return "invalid"
	}
}

// Classify decides the Kind of u. A setup hook takes precedence over
// routes and message types, which take precedence over a definition.
func Classify(u *Unit) Kind {
	switch {
	case u == nil:
		return KindInvalid
	case u.Setup != nil:
		return KindSetup
	case u.Routes != nil || len(u.MessageTypes) > 0:
		return KindConvention
	case u.Definition != nil:
		return KindDefinition
	default:
		return KindInvalid
	}
}
