// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package plugin

import "slices"

// Descriptor is a registered plugin. It is immutable once registered.
type Descriptor struct {
	id       string
	kind     Kind
	caps     []Capability
	settings Settings
	versions *VersionRange
	parent   string
	unit     *Unit
}

// ID returns the plugin identifier.
func (d *Descriptor) ID() string { return d.id }

// Kind returns the activation strategy resolved at registration.
func (d *Descriptor) Kind() Kind { return d.kind }

// Capabilities returns the declared capabilities in canonical order.
func (d *Descriptor) Capabilities() []Capability { return slices.Clone(d.caps) }

// Has reports whether the plugin declares c.
func (d *Descriptor) Has(c Capability) bool { return slices.Contains(d.caps, c) }

// Settings returns a copy of the operator settings for the plugin.
func (d *Descriptor) Settings() Settings { return d.settings.Clone() }

// Versions returns the version range inherited from a package definition.
func (d *Descriptor) Versions() (VersionRange, bool) {
	if d.versions == nil {
		return VersionRange{}, false
	}
	return *d.versions, true
}

// Parent returns the identifier of the package that enumerated this plugin.
func (d *Descriptor) Parent() string { return d.parent }
