package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santoshvandari/go-redis-cache/cache"
	"github.com/santoshvandari/go-redis-cache/env"
	"github.com/santoshvandari/go-redis-cache/httpcache"
	"github.com/santoshvandari/go-redis-cache/logger"
	"github.com/santoshvandari/go-redis-cache/sys"
	"github.com/santoshvandari/go-redis-cache/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	listen    string
	latency   time.Duration
	users     int
	store     cache.Config
	log       logger.Logger
	onReady   func(addr string)
	shutdownC <-chan os.Signal
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo HTTP server with caching enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, log, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			latency, err := env.ParseDuration(env.FlagOrEnv(cmd, "latency", "DEMO_LATENCY", "200ms"))
			if err != nil {
				return errors.Wrap(err, "latency")
			}
			users, _ := cmd.Flags().GetInt("users")
			sampleRate, _ := cmd.Flags().GetFloat64("trace-sample-rate")

			shutdownTracing, err := telemetry.NewTracing(cmd.Context(), telemetry.TracingConfig{
				ServiceName:  "cache-demo",
				URL:          env.FlagOrEnv(cmd, "otlp-url", "OTLP_URL", ""),
				SharedSecret: env.FlagOrEnv(cmd, "otlp-shared-secret", "OTLP_SHARED_SECRET", ""),
				SampleRate:   sampleRate,
			})
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownTracing(ctx); err != nil {
					log.Warn("failed to flush traces: %s", err)
				}
			}()

			shutdown := sys.CreateShutdownChannel()
			defer signal.Stop(shutdown)

			return serve(cmd.Context(), serveOptions{
				listen:    env.FlagOrEnv(cmd, "listen", "LISTEN_ADDR", orDefault(f.Listen, ":8080")),
				latency:   latency,
				users:     users,
				store:     cfg,
				log:       log,
				shutdownC: shutdown,
			})
		},
	}
	cmd.Flags().String("listen", "", "HTTP listen address (LISTEN_ADDR)")
	cmd.Flags().String("latency", "", "simulated backend latency (DEMO_LATENCY)")
	cmd.Flags().Int("users", 100, "number of users in the demo directory")
	cmd.Flags().String("otlp-url", "", "OTLP/HTTP collector URL, tracing is off when empty (OTLP_URL)")
	cmd.Flags().String("otlp-shared-secret", "", "shared secret for the collector bearer token (OTLP_SHARED_SECRET)")
	cmd.Flags().Float64("trace-sample-rate", 1, "fraction of requests traced")
	return cmd
}

// serve initializes the store, runs the HTTP server until a shutdown signal
// arrives or the server fails, and closes the store on the way out.
func serve(ctx context.Context, opts serveOptions) error {
	log := opts.log
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := cache.New(log, cache.WithMetrics(cache.NewMetrics(reg)))
	handle := cache.Initialize(ctx, log, opts.store)
	c.SetStore(handle)
	defer handle.Close()

	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", opts.listen)
	}

	dir := &directory{size: opts.users, latency: opts.latency}
	srv := &http.Server{
		Handler:           newRouter(c, dir, reg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening on %s", ln.Addr())
		if opts.onReady != nil {
			opts.onReady(ln.Addr().String())
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		select {
		case sig := <-opts.shutdownC:
			log.Info("shutting down on %s", sig)
		case <-gctx.Done():
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()
	log.Info("server stopped")
	return err
}

func newRouter(c *cache.Cacher, dir *directory, reg *prometheus.Registry, log logger.Logger) http.Handler {
	getUser := cache.Cached(c, dir.getUser,
		cache.WithName("get_user"),
		cache.WithNamespace("users"),
		cache.WithExpire(300*time.Second),
	)
	listUsers := cache.Cached(c, dir.listUsers,
		cache.WithName("list_users"),
		cache.WithNamespace("users"),
	)
	globalStats := cache.Cached(c, dir.globalStats, cache.WithKey("global_stats"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/users/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "user_id"))
		if err != nil {
			writeJSON(w, log, http.StatusBadRequest, errorBody("user_id must be an integer"))
			return
		}
		u, err := getUser(r.Context(), GetUserArgs{UserID: id})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, log, http.StatusOK, u)
	})

	r.Get("/users", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		users, err := listUsers(r.Context(), ListUsersArgs{Limit: limit})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, log, http.StatusOK, users)
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := globalStats(r.Context(), struct{}{})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, log, http.StatusOK, stats)
	})

	// rendered pages are cached whole by the HTTP middleware
	r.With(httpcache.Middleware(c, cache.WithNamespace("pages"), cache.WithExpire(time.Minute))).
		Get("/pages/users/{user_id}", func(w http.ResponseWriter, r *http.Request) {
			id, _ := strconv.Atoi(chi.URLParam(r, "user_id"))
			u, err := dir.getUser(r.Context(), GetUserArgs{UserID: id})
			if err != nil {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<h1>" + u.Name + "</h1>"))
		})

	r.Mount("/admin/cache", httpcache.AdminRouter(c, log))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	switch {
	case errors.Is(err, errUserNotFound):
		writeJSON(w, log, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, log, http.StatusServiceUnavailable, errorBody("request canceled"))
	default:
		log.Error("request failed: %s", err)
		writeJSON(w, log, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, log logger.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %s", err)
	}
}

func orDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
