package httpcache

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/santoshvandari/go-redis-cache/cache"
	"github.com/santoshvandari/go-redis-cache/logger"
)

// ClearResponse is the body returned by the clear route.
type ClearResponse struct {
	Deleted   int64  `json:"deleted"`
	Key       string `json:"key,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// AdminRouter serves cache administration, usually mounted under /admin/cache:
//
//	DELETE /?key=&namespace=  clears one key, a namespace, or everything
//	GET    /status            store availability and breaker state
func AdminRouter(c *cache.Cacher, log logger.Logger) chi.Router {
	log = log.WithPrefix("[cache-admin]")
	r := chi.NewRouter()
	r.Use(middleware.NoCache)

	r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		key, namespace := q.Get("key"), q.Get("namespace")
		n := c.Clear(r.Context(), key, namespace)
		writeJSON(w, log, http.StatusOK, ClearResponse{Deleted: n, Key: key, Namespace: namespace})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, http.StatusOK, c.Status())
	})

	return r
}

func writeJSON(w http.ResponseWriter, log logger.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %s", err)
	}
}
