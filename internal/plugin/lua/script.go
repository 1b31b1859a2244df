// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package lua

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/ariesgo/agent/internal/protocol"
)

// Script entry points.
const (
	onMessage = "on_message"
	onRequest = "on_request"
)

// maxRequestBody caps the request body handed to on_request.
const maxRequestBody = 1 << 20

// script is the compiled-once, run-fresh code of one Lua plugin.
type script struct {
	id      string
	code    string
	factory *StateFactory
	funcs   *hostFunctions
	logger  *slog.Logger
}

// withEntry runs fn against a fresh state with the plugin code loaded and
// the named global function resolved.
func (s *script) withEntry(ctx context.Context, entry string, fn func(L *lua.LState, entry lua.LValue) error) error {
	L, err := s.factory.NewState(ctx)
	if err != nil {
		return oops.In("lua").With("plugin", s.id).With("operation", entry).Hint("failed to create state").Wrap(err)
	}
	defer L.Close()

	s.funcs.register(L)

	if err := L.DoString(s.code); err != nil {
		return oops.In("lua").With("plugin", s.id).With("operation", entry).Hint("failed to load code").Wrap(err)
	}

	f := L.GetGlobal(entry)
	if f.Type() != lua.LTFunction {
		return oops.In("lua").With("plugin", s.id).Errorf("plugin does not define %s", entry)
	}
	return fn(L, f)
}

// HandleMessage calls on_message(msg). A nil return means no reply; a
// table return is the reply, with "type" required and "id" defaulting to a
// fresh ULID.
func (s *script) HandleMessage(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	var reply *protocol.Message
	err := s.withEntry(ctx, onMessage, func(L *lua.LState, entry lua.LValue) error {
		t := L.NewTable()
		L.SetField(t, "id", lua.LString(msg.ID))
		L.SetField(t, "type", lua.LString(msg.Type))
		L.SetField(t, "body", toLua(L, msg.Body))

		if err := L.CallByParam(lua.P{Fn: entry, NRet: 1, Protect: true}, t); err != nil {
			return oops.In("lua").With("plugin", s.id).With("operation", onMessage).With("message_type", msg.Type).Wrap(err)
		}
		ret := L.Get(-1)
		L.Pop(1)

		var err error
		reply, err = s.parseReply(ret)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *script) parseReply(ret lua.LValue) (*protocol.Message, error) {
	if ret.Type() == lua.LTNil {
		return nil, nil
	}
	t, ok := ret.(*lua.LTable)
	if !ok {
		return nil, oops.In("lua").With("plugin", s.id).Errorf("%s returned %s, want table or nil", onMessage, ret.Type())
	}

	typ := t.RawGetString("type")
	if typ.Type() != lua.LTString || typ.String() == "" {
		return nil, oops.In("lua").With("plugin", s.id).Errorf("%s reply is missing 'type'", onMessage)
	}
	if _, err := protocol.ParseMessageType(typ.String()); err != nil {
		return nil, oops.In("lua").With("plugin", s.id).Wrap(err)
	}

	reply := &protocol.Message{Type: typ.String(), Body: map[string]any{}}
	if id := t.RawGetString("id"); id.Type() == lua.LTString {
		reply.ID = id.String()
	} else {
		reply.ID = ulid.Make().String()
	}
	if body, ok := t.RawGetString("body").(*lua.LTable); ok {
		reply.Body = tableToMap(body)
	}
	return reply, nil
}

// ServeHTTP calls on_request(req). The script returns a status code and a
// body; a table body is encoded as JSON, anything else is sent as text.
func (s *script) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	err = s.withEntry(r.Context(), onRequest, func(L *lua.LState, entry lua.LValue) error {
		req := L.NewTable()
		L.SetField(req, "method", lua.LString(r.Method))
		L.SetField(req, "path", lua.LString(r.URL.Path))
		L.SetField(req, "query", queryTable(L, r.URL.Query()))
		L.SetField(req, "vars", toLua(L, mux.Vars(r)))
		L.SetField(req, "body", lua.LString(body))

		if err := L.CallByParam(lua.P{Fn: entry, NRet: 2, Protect: true}, req); err != nil {
			return oops.In("lua").With("plugin", s.id).With("operation", onRequest).With("path", r.URL.Path).Wrap(err)
		}
		status := L.Get(-2)
		payload := L.Get(-1)
		L.Pop(2)

		return writeResponse(w, status, payload)
	})
	if err != nil {
		s.logger.Error("lua route failed", "plugin", s.id, "path", r.URL.Path, "error", err)
		http.Error(w, "plugin request failed", http.StatusInternalServerError)
	}
}

func writeResponse(w http.ResponseWriter, status, payload lua.LValue) error {
	code := http.StatusOK
	if n, ok := status.(lua.LNumber); ok {
		code = int(n)
	}
	if code < 100 || code > 599 {
		return oops.In("lua").Errorf("invalid status code %d", code)
	}

	switch p := payload.(type) {
	case *lua.LTable:
		data, err := json.Marshal(fromLua(p))
		if err != nil {
			return oops.In("lua").Wrap(err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write(data)
	case *lua.LNilType:
		w.WriteHeader(code)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, p.String())
	}
	return nil
}
