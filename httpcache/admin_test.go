package httpcache

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/santoshvandari/go-redis-cache/cache"
	"github.com/santoshvandari/go-redis-cache/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminClear(t *testing.T) {
	mr, c := newCacher(t)
	users := &userHandler{}
	r := chi.NewRouter()
	r.With(Middleware(c, cache.WithNamespace("users"))).Get("/users/{user_id}", users.ServeHTTP)
	r.Mount("/admin/cache", AdminRouter(c, logger.NewTestLogger()))
	mr.Set("orders:1", "x")

	serve(t, r, http.MethodGet, "/users/1")
	serve(t, r, http.MethodGet, "/users/2")
	assert.Equal(t, "HIT", serve(t, r, http.MethodGet, "/users/1").Header().Get(HeaderCache))

	w := serve(t, r, http.MethodDelete, "/admin/cache/?namespace=users")
	require.Equal(t, http.StatusOK, w.Code)
	var res ClearResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, ClearResponse{Deleted: 2, Namespace: "users"}, res)
	assert.NotEmpty(t, w.Header().Get("Cache-Control"))

	assert.Equal(t, "MISS", serve(t, r, http.MethodGet, "/users/1").Header().Get(HeaderCache))
	assert.Equal(t, 3, users.calls)

	w = serve(t, r, http.MethodDelete, "/admin/cache/?key=1&namespace=orders")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(1), res.Deleted)

	w = serve(t, r, http.MethodDelete, "/admin/cache/")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(1), res.Deleted)
	assert.Empty(t, mr.Keys())
}

func TestAdminStatus(t *testing.T) {
	mr, c := newCacher(t)
	admin := AdminRouter(c, logger.NewTestLogger())

	w := serve(t, admin, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var st cache.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Connected)
	assert.True(t, st.Available)
	assert.Equal(t, mr.Addr(), st.Addr)

	offline := AdminRouter(cache.New(logger.NewTestLogger()), logger.NewTestLogger())
	w = serve(t, offline, http.MethodGet, "/status")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.False(t, st.Connected)
	assert.False(t, st.Available)

	w = serve(t, offline, http.MethodDelete, "/")
	var res ClearResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Zero(t, res.Deleted)
}
