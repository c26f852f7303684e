package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Func is the shape of a function that can be decorated: a context-aware call
// producing a serializable result.
type Func[A, R any] func(ctx context.Context, args A) (R, error)

// Cached wraps fn with read-through caching. Each call derives a key, returns
// the stored result on a hit, and otherwise calls fn and stores its result for
// the configured TTL. Errors returned by fn are passed through and never cached.
//
// Caching is best effort. When the store is unavailable, the key cannot be
// built or the lookup fails, fn is called directly. Encode and store failures
// are logged and the fresh result is still returned. Concurrent misses on the
// same key may each call fn.
func Cached[A, R any](c *Cacher, fn Func[A, R], opts ...Option) Func[A, R] {
	cfg := applyOptions(opts)
	if cfg.name == "" {
		cfg.name = FuncName(fn)
	}

	return func(ctx context.Context, args A) (R, error) {
		store := c.Store()
		if store == nil || !store.Available() {
			c.metrics.fallback(cfg.namespace, "unavailable")
			c.event("", cfg.namespace).Debug("store unavailable, calling %s directly", cfg.name)
			return fn(ctx, args)
		}

		ctx, span := c.tracer.Start(ctx, "cache "+cfg.name, trace.WithAttributes(
			attribute.String("cache.namespace", cfg.namespace),
		))
		defer span.End()

		key, err := buildKey(cfg, args)
		if err != nil {
			c.metrics.fallback(cfg.namespace, "key")
			c.event("", cfg.namespace).Warn("cache key derivation failed for %s, calling directly: %s", cfg.name, err)
			span.RecordError(err)
			return fn(ctx, args)
		}
		span.SetAttributes(attribute.String("cache.key", key))
		log := c.event(key, cfg.namespace)

		data, found, err := store.Get(ctx, key)
		if err != nil {
			c.metrics.storeError("get")
			c.metrics.fallback(cfg.namespace, "lookup")
			log.Error("cache lookup failed, calling %s directly: %s", cfg.name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "lookup failed")
			return fn(ctx, args)
		}
		if found {
			var cached R
			err := c.codec.Unmarshal(data, &cached)
			if err == nil {
				c.metrics.hit(cfg.namespace)
				span.SetAttributes(attribute.Bool("cache.hit", true))
				log.Debug("cache hit")
				return cached, nil
			}
			c.metrics.storeError("decode")
			log.Warn("cached value could not be decoded with %s, recomputing: %s", c.codec.Name(), err)
		}

		c.metrics.miss(cfg.namespace)
		span.SetAttributes(attribute.Bool("cache.hit", false))
		log.Debug("cache miss")

		result, err := fn(ctx, args)
		if err != nil {
			return result, err
		}

		encoded, err := c.codec.Marshal(result)
		if err != nil {
			c.metrics.storeError("encode")
			log.Warn("result of %s could not be encoded with %s, not caching: %s", cfg.name, c.codec.Name(), err)
			return result, nil
		}
		if err := store.Set(ctx, key, encoded, cfg.expire); err != nil {
			c.metrics.storeError("set")
			log.Error("cache store failed: %s", err)
			span.RecordError(err)
		}
		return result, nil
	}
}

// buildKey runs the configured KeyBuilder, turning panics from argument
// formatting or custom builders into errors.
func buildKey(cfg config, args any) (key string, err error) {
	defer func() {
		if r := recover(); r != nil {
			key, err = "", errors.Newf("cache: key builder panicked: %v", r)
		}
	}()
	in := KeyInput{
		Name:      cfg.name,
		Key:       cfg.key,
		Namespace: cfg.namespace,
		Args:      args,
		HashArgs:  cfg.hashArgs,
	}
	if cfg.key == "" {
		in.Params, err = BindParams(args, cfg.exclude...)
		if err != nil {
			return "", err
		}
	}
	key, err = cfg.keyBuilder(in)
	if err == nil && key == "" {
		err = ErrEmptyKey
	}
	return key, err
}
