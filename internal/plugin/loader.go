// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package plugin

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/oops"
)

// ErrNotFound is returned by a Loader that cannot resolve an identifier.
var ErrNotFound = errors.New("plugin not found")

// Loader resolves a plugin identifier into a loadable unit.
type Loader interface {
	Load(ctx context.Context, id string) (*Unit, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, id string) (*Unit, error)

// Load calls f(ctx, id).
func (f LoaderFunc) Load(ctx context.Context, id string) (*Unit, error) {
	return f(ctx, id)
}

// Factory builds a fresh unit. Catalog calls it once per Load so every
// agent context gets its own plugin state.
type Factory func() *Unit

// Catalog is an in-process table of plugins compiled into the binary.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	factories map[string]Factory
	order     []string
	mu        sync.RWMutex
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Add registers a factory under id. Adding an id twice is an error.
func (c *Catalog) Add(id string, f Factory) error {
	if id == "" {
		return oops.Code("PLUGIN_INVALID").Errorf("plugin identifier cannot be empty")
	}
	if f == nil {
		return oops.Code("PLUGIN_INVALID").With("plugin", id).Errorf("factory cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.factories[id]; ok {
		return oops.Code("PLUGIN_DUPLICATE").With("plugin", id).Errorf("plugin %s is already in the catalog", id)
	}
	c.factories[id] = f
	c.order = append(c.order, id)
	return nil
}

// MustAdd is Add for static catalogs; it panics on error.
func (c *Catalog) MustAdd(id string, f Factory) *Catalog {
	if err := c.Add(id, f); err != nil {
		panic(err)
	}
	return c
}

// IDs returns catalog identifiers in insertion order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Load builds the unit registered under id.
func (c *Catalog) Load(_ context.Context, id string) (*Unit, error) {
	c.mu.RLock()
	f, ok := c.factories[id]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return f(), nil
}

// Chain tries each loader in order. The first answer other than
// ErrNotFound wins.
type Chain []Loader

// Load implements Loader.
func (ch Chain) Load(ctx context.Context, id string) (*Unit, error) {
	for _, l := range ch {
		if l == nil {
			continue
		}
		u, err := l.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return u, err
	}
	return nil, ErrNotFound
}
