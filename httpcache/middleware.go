// Package httpcache caches rendered HTTP responses with a cache.Cacher.
package httpcache

import (
	"bytes"
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/santoshvandari/go-redis-cache/cache"
)

// HeaderCache reports whether a response was served from the cache.
const HeaderCache = "X-Cache"

// Response is the stored form of a rendered response.
type Response struct {
	Status int         `json:"status" msgpack:"status"`
	Header http.Header `json:"header,omitempty" msgpack:"header,omitempty"`
	Body   []byte      `json:"body" msgpack:"body"`

	// set when the handler ran for this request
	fresh bool
}

// uncacheable carries a rendered response that must not be stored. Returning
// it as an error keeps Cached from writing it.
type uncacheable struct {
	resp Response
}

func (e *uncacheable) Error() string {
	return "httpcache: response with status " + strconv.Itoa(e.resp.Status) + " is not cacheable"
}

// recorder buffers a handler's response.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (rw *recorder) Header() http.Header { return rw.header }

func (rw *recorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
}

func (rw *recorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	return rw.body.Write(b)
}

func (rw *recorder) response() Response {
	status := rw.status
	if status == 0 {
		status = http.StatusOK
	}
	return Response{Status: status, Header: rw.header, Body: rw.body.Bytes(), fresh: true}
}

func cacheable(resp Response) bool {
	if resp.Status < 200 || resp.Status > 299 {
		return false
	}
	if len(resp.Header.Values("Set-Cookie")) > 0 {
		return false
	}
	cc := strings.ToLower(resp.Header.Get("Cache-Control"))
	return !strings.Contains(cc, "no-store") && !strings.Contains(cc, "private")
}

// Middleware caches GET and HEAD responses. Only 2xx responses without
// Set-Cookie, no-store or private are stored. Every response through the
// middleware carries X-Cache: HIT or MISS.
//
// The key comes from RequestKey under the name "http" unless opts override it,
// so WithNamespace is usually all that is needed:
//
//	r.With(httpcache.Middleware(c, cache.WithNamespace("users"))).Get("/users/{user_id}", getUser)
func Middleware(c *cache.Cacher, opts ...cache.Option) func(http.Handler) http.Handler {
	opts = append([]cache.Option{cache.WithName("http"), cache.WithKeyBuilder(RequestKey)}, opts...)

	return func(next http.Handler) http.Handler {
		render := cache.Cached(c, func(ctx context.Context, r *http.Request) (Response, error) {
			rec := &recorder{header: make(http.Header)}
			next.ServeHTTP(rec, r.WithContext(ctx))
			resp := rec.response()
			if !cacheable(resp) {
				return resp, &uncacheable{resp: resp}
			}
			return resp, nil
		}, opts...)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			resp, err := render(r.Context(), r)
			var skip *uncacheable
			if errors.As(err, &skip) {
				resp = skip.resp
			}
			state := "HIT"
			if resp.fresh {
				state = "MISS"
			}
			resp.write(w, r, state)
		})
	}
}

func (resp Response) write(w http.ResponseWriter, r *http.Request, state string) {
	h := w.Header()
	for k, v := range resp.Header {
		h[k] = slices.Clone(v)
	}
	h.Set(HeaderCache, state)
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		w.Write(resp.Body)
	}
}

// RequestKey is the KeyBuilder installed by Middleware. Parameters are the
// method, the chi route pattern and its URL parameters (the raw path outside
// a routed chi handler) and the encoded query string. An explicit key or
// arguments that are not a request fall back to cache.BuildKey.
func RequestKey(in cache.KeyInput) (string, error) {
	r, ok := in.Args.(*http.Request)
	if !ok || in.Key != "" {
		return cache.BuildKey(in)
	}

	params := []cache.Param{{Name: "method", Value: r.Method}}
	route := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		route = rctx.RoutePattern()
		for i, k := range rctx.URLParams.Keys {
			if k == "" || i >= len(rctx.URLParams.Values) {
				continue
			}
			params = append(params, cache.Param{Name: k, Value: rctx.URLParams.Values[i]})
		}
	}
	params = append(params, cache.Param{Name: "route", Value: route})
	if q := r.URL.Query(); len(q) > 0 {
		params = append(params, cache.Param{Name: "query", Value: q.Encode()})
	}

	in.Params = cache.FilterParams(params)
	return cache.BuildKey(in)
}
