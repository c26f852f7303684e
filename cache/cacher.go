package cache

import (
	"sync"
	"time"

	"github.com/santoshvandari/go-redis-cache/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultExpire is the TTL of a decorated call when WithExpire is not given.
const DefaultExpire = 60 * time.Second

const tracerName = "github.com/santoshvandari/go-redis-cache/cache"

// Cacher holds the shared store reference used by decorated functions and Clear.
// The store is injected once at startup through SetStore; until then every
// decorated call goes straight to the wrapped function.
type Cacher struct {
	mu      sync.RWMutex
	store   Store
	log     logger.Logger
	codec   Codec
	metrics *Metrics
	tracer  trace.Tracer
}

// CacherOption configures a Cacher.
type CacherOption func(*Cacher)

// WithCodec sets the value codec. Defaults to JSONCodec.
func WithCodec(codec Codec) CacherOption {
	return func(c *Cacher) { c.codec = codec }
}

// WithMetrics records hits, misses, fallbacks and store errors.
func WithMetrics(m *Metrics) CacherOption {
	return func(c *Cacher) { c.metrics = m }
}

// WithTracer sets the tracer for per-call spans. Defaults to the global provider.
func WithTracer(tracer trace.Tracer) CacherOption {
	return func(c *Cacher) { c.tracer = tracer }
}

// New returns a Cacher without a store.
func New(log logger.Logger, opts ...CacherOption) *Cacher {
	c := &Cacher{
		log:   log.WithPrefix("[cache]"),
		codec: JSONCodec,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	return c
}

// SetStore injects the store. Passing nil, or a nil *Handle from a failed
// Initialize, disables caching.
func (c *Cacher) SetStore(store Store) {
	if h, ok := store.(*Handle); ok && h == nil {
		store = nil
	}
	c.mu.Lock()
	c.store = store
	c.mu.Unlock()
}

// Store returns the injected store, nil when none is set.
func (c *Cacher) Store() Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// Available reports whether decorated calls will currently consult the store.
func (c *Cacher) Available() bool {
	store := c.Store()
	return store != nil && store.Available()
}

// Status reports the state of the injected store.
func (c *Cacher) Status() Status {
	switch store := c.Store().(type) {
	case nil:
		return (*Handle)(nil).Status()
	case *Handle:
		return store.Status()
	default:
		return Status{Connected: true, Available: store.Available()}
	}
}

func (c *Cacher) event(key, namespace string) logger.Logger {
	return c.log.With(map[string]interface{}{"key": key, "namespace": namespace})
}

type config struct {
	expire     time.Duration
	key        string
	namespace  string
	name       string
	keyBuilder KeyBuilder
	exclude    []string
	hashArgs   bool
}

// Option configures a decorated function.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		expire:     DefaultExpire,
		keyBuilder: BuildKey,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.expire <= 0 {
		cfg.expire = DefaultExpire
	}
	if cfg.keyBuilder == nil {
		cfg.keyBuilder = BuildKey
	}
	return cfg
}

// WithExpire sets the TTL of stored results.
func WithExpire(d time.Duration) Option {
	return func(c *config) { c.expire = d }
}

// WithKey stores every call under the same explicit key instead of a derived one.
func WithKey(key string) Option {
	return func(c *config) { c.key = key }
}

// WithNamespace prefixes keys with "namespace:" so they can be cleared together.
func WithNamespace(namespace string) Option {
	return func(c *config) { c.namespace = namespace }
}

// WithName overrides the function identity used in derived keys.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithKeyBuilder replaces BuildKey.
func WithKeyBuilder(kb KeyBuilder) Option {
	return func(c *config) { c.keyBuilder = kb }
}

// WithExclude leaves the named parameters out of derived keys.
func WithExclude(names ...string) Option {
	return func(c *config) { c.exclude = append(c.exclude, names...) }
}

// WithHashedArgs shortens derived keys by hashing the argument list.
func WithHashedArgs() Option {
	return func(c *config) { c.hashArgs = true }
}
