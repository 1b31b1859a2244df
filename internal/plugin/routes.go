// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package plugin

import (
	"net/http"
	"slices"
	"strings"

	"github.com/samber/oops"
)

// Route is one admin endpoint contributed by a plugin.
type Route struct {
	Plugin  string
	Method  string
	Path    string
	Summary string
	Handler http.Handler
}

var allowedMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// RouteCollector accumulates admin routes during one route-setup pass.
// A collector belongs to a single pass and is not safe for concurrent use.
type RouteCollector struct {
	routes []Route
	owner  string
}

// NewRouteCollector creates an empty collector.
func NewRouteCollector() *RouteCollector {
	return &RouteCollector{}
}

// Add appends r. The method is upper-cased; the path must be absolute and
// not already taken for the same method.
func (c *RouteCollector) Add(r Route) error {
	r.Method = strings.ToUpper(r.Method)
	if r.Plugin == "" {
		r.Plugin = c.owner
	}

	if !slices.Contains(allowedMethods, r.Method) {
		return oops.With("method", r.Method).With("path", r.Path).Errorf("unsupported HTTP method %q", r.Method)
	}
	if !strings.HasPrefix(r.Path, "/") {
		return oops.With("method", r.Method).With("path", r.Path).Errorf("route path must start with /")
	}
	if r.Handler == nil {
		return oops.With("method", r.Method).With("path", r.Path).Errorf("route handler cannot be nil")
	}
	for _, existing := range c.routes {
		if existing.Method == r.Method && existing.Path == r.Path {
			return oops.With("method", r.Method).
				With("path", r.Path).
				With("owner", existing.Plugin).
				Errorf("route %s %s is already registered by plugin %s", r.Method, r.Path, existing.Plugin)
		}
	}

	c.routes = append(c.routes, r)
	return nil
}

// Handle adds a route for method and path.
func (c *RouteCollector) Handle(method, path string, h http.Handler) error {
	return c.Add(Route{Method: method, Path: path, Handler: h})
}

// HandleFunc adds a route backed by a handler function.
func (c *RouteCollector) HandleFunc(method, path string, f http.HandlerFunc) error {
	if f == nil {
		return c.Handle(method, path, nil)
	}
	return c.Handle(method, path, f)
}

// Routes returns the collected routes in contribution order.
func (c *RouteCollector) Routes() []Route {
	return slices.Clone(c.routes)
}

// Len returns the number of collected routes.
func (c *RouteCollector) Len() int {
	return len(c.routes)
}

func (c *RouteCollector) setOwner(id string) {
	c.owner = id
}

// truncate drops routes added after the first n.
func (c *RouteCollector) truncate(n int) {
	c.routes = c.routes[:n]
}
