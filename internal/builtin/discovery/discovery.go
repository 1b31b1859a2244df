// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

// Package discovery answers discover-features queries from the agent's
// protocol registry, both as messages and on the admin server.
package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ariesgo/agent/internal/plugin"
	"github.com/ariesgo/agent/internal/protocol"
)

// ID is the plugin identifier.
const ID = "core.discovery"

// Message types.
const (
	QueryType    = "discover-features/1.0/query"
	DiscloseType = "discover-features/1.0/disclose"
)

// Feature is one disclosed protocol.
type Feature struct {
	PID   string   `json:"pid"`
	Roles []string `json:"roles,omitempty"`
}

type discovery struct {
	protocols atomic.Pointer[protocol.Registry]
}

// New builds the plugin unit.
func New() *plugin.Unit {
	d := &discovery{}
	return &plugin.Unit{
		Setup:  d.setup,
		Routes: d.routes,
	}
}

func (d *discovery) setup(_ context.Context, host plugin.Host) error {
	reg := host.Protocols()
	d.protocols.Store(reg)

	if err := reg.RegisterMessageType(ID, QueryType, protocol.HandlerFunc(d.handleQuery)); err != nil {
		return err
	}
	return reg.RegisterMessageType(ID, DiscloseType, protocol.HandlerFunc(handleDisclose))
}

// Features lists the protocols matching query with their controller roles.
// An empty query matches everything.
func Features(ctx context.Context, reg *protocol.Registry, query string) ([]Feature, error) {
	if strings.TrimSpace(query) == "" {
		query = "*"
	}
	matches, err := reg.ProtocolsMatchingQuery(query)
	if err != nil {
		return nil, err
	}

	features := make([]Feature, 0, len(matches))
	for _, p := range matches {
		f := Feature{PID: protocol.PrefixNew + p}
		if name, version, ok := strings.Cut(p, "/"); ok {
			if c, ok := reg.LookupController(name, version); ok {
				f.Roles = c.Roles(ctx)
			}
		}
		features = append(features, f)
	}
	return features, nil
}

func (d *discovery) handleQuery(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	reg := d.protocols.Load()
	if reg == nil {
		return nil, oops.With("plugin", ID).Errorf("discovery is not initialized")
	}
	query, _ := msg.Body["query"].(string)

	features, err := Features(ctx, reg, query)
	if err != nil {
		return nil, err
	}
	protocols := make([]any, len(features))
	for i, f := range features {
		entry := map[string]any{"pid": f.PID}
		if len(f.Roles) > 0 {
			entry["roles"] = f.Roles
		}
		protocols[i] = entry
	}
	return &protocol.Message{
		ID:   ulid.Make().String(),
		Type: DiscloseType,
		Body: map[string]any{
			"protocols": protocols,
			"~thread":   map[string]any{"thid": msg.ID},
		},
	}, nil
}

func handleDisclose(context.Context, *protocol.Message) (*protocol.Message, error) {
	return nil, nil
}

func (d *discovery) routes(_ context.Context, rc *plugin.RouteCollector) error {
	return rc.Add(plugin.Route{
		Method:  http.MethodGet,
		Path:    "/features",
		Summary: "Query supported protocols",
		Handler: http.HandlerFunc(d.serveFeatures),
	})
}

func (d *discovery) serveFeatures(w http.ResponseWriter, r *http.Request) {
	reg := d.protocols.Load()
	if reg == nil {
		http.Error(w, "agent is not initialized", http.StatusServiceUnavailable)
		return
	}
	features, err := Features(r.Context(), reg, r.URL.Query().Get("query"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"results": features})
}
