// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package lua

import (
	"log/slog"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/ariesgo/agent/internal/plugin"
)

// moduleName is the global table exposing host functions to scripts.
const moduleName = "agent"

// hostFunctions are the agent.* functions available to one plugin.
type hostFunctions struct {
	plugin   string
	settings plugin.Settings
	logger   *slog.Logger
}

func newHostFunctions(id string, settings plugin.Settings, logger *slog.Logger) *hostFunctions {
	return &hostFunctions{
		plugin:   id,
		settings: settings.Clone(),
		logger:   logger.With("plugin", id),
	}
}

// register installs the agent module into L.
func (f *hostFunctions) register(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "log", L.NewFunction(f.logFn))
	L.SetField(mod, "new_id", L.NewFunction(f.newIDFn))
	L.SetField(mod, "setting", L.NewFunction(f.settingFn))
	L.SetField(mod, "plugin_id", lua.LString(f.plugin))
	L.SetGlobal(moduleName, mod)
}

// agent.log(level, message)
func (f *hostFunctions) logFn(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch level {
	case "debug":
		f.logger.Debug(message)
	case "warn":
		f.logger.Warn(message)
	case "error":
		f.logger.Error(message)
	default:
		f.logger.Info(message)
	}
	return 0
}

// agent.new_id() returns a fresh ULID string.
func (f *hostFunctions) newIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

// agent.setting(key [, default]) returns the operator setting for key.
func (f *hostFunctions) settingFn(L *lua.LState) int {
	key := L.CheckString(1)
	v, ok := f.settings[key]
	if !ok || v == nil {
		L.Push(L.Get(2))
		return 1
	}
	L.Push(toLua(L, v))
	return 1
}
