// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

// Package trustping implements the trust ping protocol as a convention
// plugin: it only declares message types and a controller.
package trustping

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/ariesgo/agent/internal/plugin"
	"github.com/ariesgo/agent/internal/protocol"
)

// Protocol identifiers.
const (
	Protocol     = "trust_ping"
	Version      = "1.0"
	PingType     = "trust_ping/1.0/ping"
	ResponseType = "trust_ping/1.0/ping_response"
)

// Roles played by this agent.
var Roles = protocol.Roles{"sender", "receiver"}

// New builds the plugin unit.
func New() *plugin.Unit {
	return &plugin.Unit{
		MessageTypes: []plugin.MessageTypeDecl{
			{Type: PingType, Handler: protocol.HandlerFunc(handlePing)},
			{Type: ResponseType, Handler: protocol.HandlerFunc(handleResponse)},
		},
		Controllers: []plugin.ControllerDecl{
			{Protocol: Protocol, Version: Version, Controller: Roles},
		},
	}
}

// handlePing answers with a ping_response threaded to the ping unless the
// sender set response_requested to false.
func handlePing(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	if requested, ok := msg.Body["response_requested"].(bool); ok && !requested {
		slog.DebugContext(ctx, "trust ping without response requested", "message_id", msg.ID)
		return nil, nil
	}

	body := map[string]any{
		"~thread": map[string]any{"thid": msg.ID},
	}
	if comment, ok := msg.Body["comment"].(string); ok && comment != "" {
		body["comment"] = "pong: " + comment
	}
	return &protocol.Message{
		ID:   ulid.Make().String(),
		Type: ResponseType,
		Body: body,
	}, nil
}

func handleResponse(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	slog.DebugContext(ctx, "trust ping response received", "message_id", msg.ID)
	return nil, nil
}
