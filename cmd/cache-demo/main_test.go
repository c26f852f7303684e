package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/santoshvandari/go-redis-cache/cache"
	"github.com/santoshvandari/go-redis-cache/logger"
	"github.com/santoshvandari/go-redis-cache/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeConfig(mr *miniredis.Miniredis) cache.Config {
	cfg := cache.DefaultConfig()
	cfg.URL = "redis://" + mr.Addr()
	cfg.Timeout = time.Second
	cfg.Breaker = resilience.CircuitBreakerConfig{}
	return cfg
}

func newTestRouter(t *testing.T) (*miniredis.Miniredis, *directory, http.Handler) {
	t.Helper()
	mr := miniredis.RunT(t)
	log := logger.NewTestLogger()
	reg := prometheus.NewRegistry()
	c := cache.New(log, cache.WithMetrics(cache.NewMetrics(reg)))
	h := cache.Initialize(context.Background(), log, storeConfig(mr))
	require.NotNil(t, h)
	t.Cleanup(func() { h.Close() })
	c.SetStore(h)
	dir := &directory{size: 10}
	return mr, dir, newRouter(c, dir, reg, log)
}

func get(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestRouterGetUser(t *testing.T) {
	mr, dir, r := newTestRouter(t)

	for i := 0; i < 2; i++ {
		w := get(t, r, http.MethodGet, "/users/1")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user_id":1,"name":"User_1"}`, w.Body.String())
	}
	assert.Equal(t, int64(1), dir.lookups.Load())
	assert.True(t, mr.Exists("users:get_user:user_id=1"))
	assert.Equal(t, 300*time.Second, mr.TTL("users:get_user:user_id=1"))

	w := get(t, r, http.MethodDelete, "/admin/cache/?namespace=users")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1,"namespace":"users"}`, w.Body.String())

	get(t, r, http.MethodGet, "/users/1")
	assert.Equal(t, int64(2), dir.lookups.Load())
}

func TestRouterErrors(t *testing.T) {
	mr, _, r := newTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, get(t, r, http.MethodGet, "/users/abc").Code)
	w := get(t, r, http.MethodGet, "/users/99")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "user not found")
	assert.False(t, mr.Exists("users:get_user:user_id=99"))
}

func TestRouterStatsAndList(t *testing.T) {
	mr, _, r := newTestRouter(t)

	first := get(t, r, http.MethodGet, "/stats").Body.String()
	second := get(t, r, http.MethodGet, "/stats").Body.String()
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists("global_stats"))

	w := get(t, r, http.MethodGet, "/users?limit=3")
	var users []User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	assert.Len(t, users, 3)
	assert.True(t, mr.Exists("users:list_users:limit=3"))
}

func TestRouterPages(t *testing.T) {
	mr, _, r := newTestRouter(t)

	assert.Equal(t, "MISS", get(t, r, http.MethodGet, "/pages/users/2").Header().Get("X-Cache"))
	w := get(t, r, http.MethodGet, "/pages/users/2")
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, "<h1>User_2</h1>", w.Body.String())
	assert.Len(t, mr.Keys(), 1)
	assert.True(t, strings.HasPrefix(mr.Keys()[0], "pages:http:"))
}

func TestRouterMetrics(t *testing.T) {
	_, _, r := newTestRouter(t)
	get(t, r, http.MethodGet, "/users/1")
	get(t, r, http.MethodGet, "/users/1")

	w := get(t, r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `rediscache_hits_total{namespace="users"} 1`)
	assert.Contains(t, w.Body.String(), `rediscache_misses_total{namespace="users"} 1`)
}

func TestServeLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)

	ready := make(chan string, 1)
	shutdown := make(chan os.Signal, 1)
	log := logger.NewTestLogger()
	done := make(chan error, 1)
	go func() {
		done <- serve(context.Background(), serveOptions{
			listen:    "127.0.0.1:0",
			users:     5,
			store:     storeConfig(mr),
			log:       log,
			onReady:   func(addr string) { ready <- addr },
			shutdownC: shutdown,
		})
	}()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	res, err := http.Get("http://" + addr + "/users/1")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"user_id":1,"name":"User_1"}`, string(body))
	assert.True(t, mr.Exists("users:get_user:user_id=1"))

	shutdown <- syscall.SIGTERM
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Len(t, log.Find("INFO", "redis cache connection closed"), 1)
}

func TestServeWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := storeConfig(mr)
	mr.Close()

	ready := make(chan string, 1)
	shutdown := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serve(context.Background(), serveOptions{
			listen:    "127.0.0.1:0",
			users:     5,
			store:     cfg,
			log:       logger.NewTestLogger(),
			onReady:   func(addr string) { ready <- addr },
			shutdownC: shutdown,
		})
	}()

	addr := <-ready
	for i := 0; i < 2; i++ {
		res, err := http.Get("http://" + addr + "/users/2")
		require.NoError(t, err)
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		assert.JSONEq(t, `{"user_id":2,"name":"User_2"}`, string(body))
	}

	shutdown <- syscall.SIGINT
	assert.NoError(t, <-done)
}

func TestClearCommand(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Set("users:get_user:user_id=1", "{}")
	mr.Set("users:get_user:user_id=2", "{}")
	mr.Set("global_stats", "{}")

	run := func(args ...string) (string, error) {
		root := newRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(append([]string{"clear", "--redis-url", "redis://" + mr.Addr(), "--log-level", "error"}, args...))
		err := root.Execute()
		return out.String(), err
	}

	out, err := run("--key", "get_user:user_id=1", "--namespace", "users")
	require.NoError(t, err)
	assert.Equal(t, "cleared 1 keys\n", out)

	out, err = run("--namespace", "users")
	require.NoError(t, err)
	assert.Equal(t, "cleared 1 keys\n", out)

	out, err = run()
	require.NoError(t, err)
	assert.Equal(t, "cleared 1 keys\n", out)
	assert.Empty(t, mr.Keys())
}

func TestClearCommandUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	root := newRootCommand()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"clear", "--redis-url", "redis://" + addr, "--redis-timeout", "200ms", "--log-level", "none"})
	err := root.Execute()
	assert.Error(t, err)
}
