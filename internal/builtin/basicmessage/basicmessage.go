// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

// Package basicmessage stores incoming basic messages and lists them on the
// admin server.
//
// The plugin wires itself in a setup hook because its inbox is sized from
// operator settings.
package basicmessage

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/ariesgo/agent/internal/plugin"
	"github.com/ariesgo/agent/internal/protocol"
)

// ID is the plugin identifier.
const ID = "core.protocols.basicmessage"

// MessageType is the only message type served.
const MessageType = "basicmessage/1.0/message"

// Settings keys.
const (
	SettingInboxSize = "inbox-size"
	DefaultInboxSize = 100
)

type basicMessages struct {
	inbox atomic.Pointer[Inbox]
	now   func() time.Time
}

// New builds the plugin unit.
func New() *plugin.Unit {
	p := &basicMessages{now: time.Now}
	return &plugin.Unit{
		Setup:  p.setup,
		Routes: p.routes,
	}
}

func (p *basicMessages) setup(_ context.Context, host plugin.Host) error {
	size := host.Settings(ID).Int(SettingInboxSize, DefaultInboxSize)
	if size < 1 {
		return oops.With(SettingInboxSize, size).Errorf("%s must be positive", SettingInboxSize)
	}
	p.inbox.Store(NewInbox(size))

	if err := host.Protocols().RegisterMessageType(ID, MessageType, protocol.HandlerFunc(p.handle)); err != nil {
		return err
	}
	host.Logger().Debug("basic message inbox ready", "plugin", ID, "capacity", size)
	return nil
}

func (p *basicMessages) handle(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	inbox := p.inbox.Load()
	if inbox == nil {
		return nil, oops.With("plugin", ID).Errorf("basic message inbox is not initialized")
	}
	content, ok := msg.Body["content"].(string)
	if !ok {
		return nil, oops.With("plugin", ID).With("message_id", msg.ID).Errorf("basic message has no content")
	}
	sent, _ := msg.Body["sent_time"].(string)

	inbox.Add(Entry{ID: msg.ID, Content: content, SentTime: sent, ReceivedAt: p.now().UTC()})
	return nil, nil
}

func (p *basicMessages) routes(_ context.Context, rc *plugin.RouteCollector) error {
	return rc.Add(plugin.Route{
		Method:  http.MethodGet,
		Path:    "/basicmessages",
		Summary: "List received basic messages",
		Handler: http.HandlerFunc(p.list),
	})
}

func (p *basicMessages) list(w http.ResponseWriter, _ *http.Request) {
	results := []Entry{}
	if inbox := p.inbox.Load(); inbox != nil {
		results = inbox.List()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
}
