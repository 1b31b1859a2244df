// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

// Package protocol maps agent message types to handlers and protocol
// versions to controllers.
package protocol

import "context"

// Message is an inbound agent message after decoding. The wire format is
// owned by the transport layer; handlers only see this in-memory form.
type Message struct {
	ID   string
	Type string
	Body map[string]any
}

// Handler processes one message type. A non-nil reply is handed back to the
// caller for delivery.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// HandleMessage calls f(ctx, msg).
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// Controller is bound to a protocol name and version. It reports the roles
// this agent can play in the protocol, which feature discovery discloses.
type Controller interface {
	Roles(ctx context.Context) []string
}

// Roles is a static Controller.
type Roles []string

// Roles returns a copy of r.
func (r Roles) Roles(_ context.Context) []string {
	out := make([]string, len(r))
	copy(out, r)
	return out
}
