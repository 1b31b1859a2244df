// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package admin_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ariesgo/agent/internal/admin"
	"github.com/ariesgo/agent/internal/plugin"
)

// fakeSource serves a fixed registry. failing makes every route pass fail
// with an error attributed to the named plugin.
type fakeSource struct {
	registry *plugin.Registry
	failing  atomic.Bool
	passes   atomic.Int64
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	src := &fakeSource{}
	catalog := plugin.NewCatalog().
		MustAdd("acme.hello", func() *plugin.Unit {
			return &plugin.Unit{
				Routes: func(_ context.Context, rc *plugin.RouteCollector) error {
					return rc.HandleFunc(http.MethodGet, "/hello/{name}", func(w http.ResponseWriter, _ *http.Request) {
						_, _ = w.Write([]byte("hello"))
					})
				},
			}
		}).
		MustAdd("acme.flaky", func() *plugin.Unit {
			return &plugin.Unit{
				Routes: func(_ context.Context, rc *plugin.RouteCollector) error {
					if src.failing.Load() {
						return errors.New("backing store unavailable")
					}
					return rc.HandleFunc(http.MethodPost, "/flaky", func(w http.ResponseWriter, _ *http.Request) {
						w.WriteHeader(http.StatusAccepted)
					})
				},
			}
		})

	src.registry = plugin.NewRegistry()
	for _, id := range []string{"acme.hello", "acme.flaky"} {
		_, err := src.registry.Register(context.Background(), id, catalog)
		require.NoError(t, err)
	}
	return src
}

func (f *fakeSource) RegisterAdminRoutes(ctx context.Context, rc *plugin.RouteCollector) error {
	f.passes.Add(1)
	return f.registry.RegisterAdminRoutes(ctx, rc)
}

func (f *fakeSource) Plugins() *plugin.Registry { return f.registry }

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_PluginRoutes(t *testing.T) {
	src := newFakeSource(t)
	s := admin.NewServer("127.0.0.1:0", src)
	h := s.Handler()

	rec := serve(t, h, http.MethodGet, "/hello/alice")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())

	rec = serve(t, h, http.MethodPost, "/flaky")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(t, h, http.MethodGet, "/nowhere")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, h, http.MethodGet, "/flaky")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Equal(t, int64(4), src.passes.Load(), "one route pass per request")
	assert.InDelta(t, 2, testutil.ToFloat64(s.Metrics().RoutesContributed), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(s.Metrics().RequestsTotal.WithLabelValues("2xx")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(s.Metrics().RequestsTotal.WithLabelValues("4xx")), 0)
}

func TestServer_RouteSetupFailureIsScopedToRequest(t *testing.T) {
	src := newFakeSource(t)
	s := admin.NewServer("127.0.0.1:0", src)
	h := s.Handler()

	src.failing.Store(true)
	rec := serve(t, h, http.MethodGet, "/hello/bob")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(s.Metrics().RouteSetupFailures.WithLabelValues("acme.flaky")), 0)

	// Built-in endpoints do not run a route pass.
	rec = serve(t, h, http.MethodGet, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, rec.Code)

	src.failing.Store(false)
	rec = serve(t, h, http.MethodGet, "/hello/bob")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ConcurrentRequests(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := newFakeSource(t)
	h := admin.NewServer("127.0.0.1:0", src).Handler()

	const n = 32
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hello/x", nil))
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusOK, code, "request %d", i)
	}
	assert.Equal(t, int64(n), src.passes.Load())
}

func TestServer_PluginListing(t *testing.T) {
	src := newFakeSource(t)
	h := admin.NewServer("127.0.0.1:0", src).Handler()

	rec := serve(t, h, http.MethodGet, "/plugins")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Plugins []struct {
			ID           string   `json:"id"`
			Kind         string   `json:"kind"`
			Capabilities []string `json:"capabilities"`
		} `json:"plugins"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Plugins, 2)
	assert.Equal(t, "acme.hello", body.Plugins[0].ID)
	assert.Equal(t, "convention", body.Plugins[0].Kind)
	assert.Equal(t, []string{"routes"}, body.Plugins[0].Capabilities)
	assert.Equal(t, "acme.flaky", body.Plugins[1].ID)
	assert.Zero(t, src.passes.Load())
}

func TestServer_Readiness(t *testing.T) {
	src := newFakeSource(t)
	var ready atomic.Bool
	h := admin.NewServer("127.0.0.1:0", src, admin.WithReadiness(ready.Load)).Handler()

	rec := serve(t, h, http.MethodGet, "/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready\n", rec.Body.String())

	ready.Store(true)
	rec = serve(t, h, http.MethodGet, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	src := newFakeSource(t)
	h := admin.NewServer("127.0.0.1:0", src).Handler()

	rec := serve(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "ariesd_plugins_registered 2")
	assert.Contains(t, body, "ariesd_admin_routes_contributed 0")
}

func TestServer_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := newFakeSource(t)
	s := admin.NewServer("127.0.0.1:0", src)

	errCh, err := s.Start()
	require.NoError(t, err)
	require.NotEmpty(t, s.Addr())

	_, err = s.Start()
	require.Error(t, err)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + s.Addr() + "/hello/carol")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "hello"))
	client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stopping twice is a no-op")

	for serveErr := range errCh {
		t.Fatalf("unexpected serve error: %v", serveErr)
	}
}

func TestServer_StartInvalidAddr(t *testing.T) {
	s := admin.NewServer("not-an-address", newFakeSource(t))
	_, err := s.Start()
	require.Error(t, err)
	assert.Empty(t, s.Addr())
}
