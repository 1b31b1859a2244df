// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

//go:build integration

package plugins_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/ariesgo/agent/internal/admin"
	"github.com/ariesgo/agent/internal/agent"
	"github.com/ariesgo/agent/internal/builtin/basicmessage"
	"github.com/ariesgo/agent/internal/config"
	"github.com/ariesgo/agent/internal/plugin"
	"github.com/ariesgo/agent/internal/protocol"
	"github.com/ariesgo/agent/pkg/errutil"
)

const routesOnlyManifest = `name: acme.plugin-a
version: 1.0.0
type: lua
routes:
  - method: GET
    path: /plugin-a/status
lua-plugin:
  entry: main.lua
`

const routesOnlyCode = `
function on_request(req)
  return 200, { plugin = agent.plugin_id }
end
`

const offerCode = `
function on_message(msg)
  return nil
end
`

func offerManifest(name string) string {
	return `name: ` + name + `
version: 1.0.0
type: lua
message-types:
  - issue-credential/1.0/offer
lua-plugin:
  entry: main.lua
`
}

// pluginOf returns the plugin identifier an error is attributed to.
func pluginOf(err error) any {
	v, _ := errutil.ContextValue(err, "plugin")
	return v
}

var _ = Describe("Agent context build", func() {
	var (
		ctx  context.Context
		root string
	)

	BeforeEach(func() {
		ctx = context.Background()
		root = GinkgoT().TempDir()
	})

	build := func(cfg *config.Config) (*agent.Context, error) {
		cfg.PluginsDir = root
		return agent.Build(ctx, cfg, agent.WithBuiltins(nil, nil))
	}

	Describe("a routes-only plugin on the allow-list", func() {
		It("contributes exactly its declared routes", func() {
			writeLuaPlugin(root, "acme.plugin-a", routesOnlyManifest, routesOnlyCode)

			c, err := build(&config.Config{Plugins: []string{"acme.plugin-a"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Plugins().Identifiers()).To(Equal([]string{"acme.plugin-a"}))
			Expect(c.Protocols().MessageTypes()).To(BeEmpty())

			rc := plugin.NewRouteCollector()
			Expect(c.RegisterAdminRoutes(ctx, rc)).To(Succeed())
			Expect(rc.Routes()).To(HaveLen(1))
			Expect(rc.Routes()[0].Plugin).To(Equal("acme.plugin-a"))
			Expect(rc.Routes()[0].Method).To(Equal(http.MethodGet))
			Expect(rc.Routes()[0].Path).To(Equal("/plugin-a/status"))
		})
	})

	Describe("a plugin on both the allow-list and the block-list", func() {
		It("is absent and never loaded", func() {
			// A broken manifest proves the loader never reads it.
			writeLuaPlugin(root, "acme.plugin-b", "name: [broken", "")

			c, err := build(&config.Config{
				Plugins:      []string{"acme.plugin-b"},
				BlockPlugins: []string{"acme.plugin-b"},
			})
			Expect(err).NotTo(HaveOccurred())
			_, ok := c.Plugins().Get("acme.plugin-b")
			Expect(ok).To(BeFalse())
			Expect(c.Plugins().Len()).To(BeZero())
		})
	})

	Describe("a plugin exposing no capability", func() {
		It("fails the build naming the plugin", func() {
			writeLuaPlugin(root, "acme.plugin-c", `name: acme.plugin-c
version: 1.0.0
type: lua
lua-plugin:
  entry: main.lua
`, "-- nothing here\n")

			c, err := build(&config.Config{Plugins: []string{"acme.plugin-c"}})
			Expect(err).To(HaveOccurred())
			Expect(c).To(BeNil())
			Expect(errutil.Code(err)).To(Equal("PLUGIN_INVALID"))
			Expect(pluginOf(err)).To(Equal("acme.plugin-c"))
		})
	})

	Describe("two plugins declaring the same message type", func() {
		It("fails the build with a message type conflict", func() {
			writeLuaPlugin(root, "acme.offer-one", offerManifest("acme.offer-one"), offerCode)
			writeLuaPlugin(root, "acme.offer-two", offerManifest("acme.offer-two"), offerCode)

			c, err := build(&config.Config{Plugins: []string{"acme.offer-one", "acme.offer-two"}})
			Expect(err).To(HaveOccurred())
			Expect(c).To(BeNil())
			Expect(errutil.Code(err)).To(Equal("MESSAGE_TYPE_CONFLICT"))
			Expect(pluginOf(err)).To(Equal("acme.offer-two"))
		})
	})
})

var _ = Describe("Admin server over a built agent", func() {
	var (
		ctx    context.Context
		c      *agent.Context
		server *admin.Server
		base   string
	)

	BeforeEach(func() {
		ctx = context.Background()
		root := GinkgoT().TempDir()
		writeLuaPlugin(root, "acme.plugin-a", routesOnlyManifest, routesOnlyCode)

		var err error
		c, err = agent.Build(ctx, &config.Config{
			Plugins:    []string{"acme.plugin-a"},
			PluginsDir: root,
		})
		Expect(err).NotTo(HaveOccurred())

		server = admin.NewServer("127.0.0.1:0", c)
		_, err = server.Start()
		Expect(err).NotTo(HaveOccurred())
		base = "http://" + server.Addr()
	})

	AfterEach(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(server.Stop(stopCtx)).To(Succeed())
	})

	get := func(path string) (int, []byte) {
		resp, err := http.Get(base + path)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, body
	}

	It("serves built-in and external plugin routes", func() {
		status, body := get("/plugin-a/status")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"plugin":"acme.plugin-a"}`))

		status, body = get("/features?query=trust_ping/*")
		Expect(status).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring("trust_ping/1.0"))
	})

	It("lists registered plugins in order", func() {
		status, body := get("/plugins")
		Expect(status).To(Equal(http.StatusOK))

		var listing struct {
			Plugins []struct {
				ID string `json:"id"`
			} `json:"plugins"`
		}
		Expect(json.Unmarshal(body, &listing)).To(Succeed())
		ids := make([]string, 0, len(listing.Plugins))
		for _, p := range listing.Plugins {
			ids = append(ids, p.ID)
		}
		Expect(ids).To(Equal([]string{
			"core.discovery",
			"core.protocols",
			"core.protocols.trustping",
			"core.protocols.basicmessage",
			"acme.plugin-a",
		}))
	})

	It("shows dispatched basic messages on the admin API", func() {
		_, err := c.Dispatch(ctx, &protocol.Message{
			ID:   "msg-1",
			Type: basicmessage.MessageType,
			Body: map[string]any{"content": "hello there"},
		})
		Expect(err).NotTo(HaveOccurred())

		status, body := get("/basicmessages")
		Expect(status).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring("hello there"))
	})
})
