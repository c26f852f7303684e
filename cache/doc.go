// Package cache adds read-through response caching backed by Redis to
// ordinary Go functions.
//
// # Store Handle
//
// [Initialize] opens a [github.com/redis/go-redis/v9] client and verifies it
// with a PING bounded by [Config.Timeout]. When Redis cannot be reached the
// failure is logged and Initialize returns nil; a nil [*Handle] is a valid
// value that reports itself unavailable, so the application keeps serving
// without caching. [Handle.Close] is idempotent and safe on nil.
//
// After startup the Handle feeds every operation through a circuit breaker
// (see package resilience). Consecutive failures flip [Handle.Available] to
// false for a cooldown so callers stop paying for round trips to a dead server.
//
// # Decorating Functions
//
// A [Cacher] holds the shared store. It is created once and the Handle is
// injected with [Cacher.SetStore] during startup:
//
//	c := cache.New(log)
//	h := cache.Initialize(ctx, log, cache.DefaultConfig())
//	c.SetStore(h)
//	defer h.Close()
//
// [Cached] wraps any [Func] with the same signature:
//
//	type GetUserArgs struct {
//	    UserID int     `json:"user_id"`
//	    DB     *sql.DB `cache:"-"`
//	}
//
//	getUser := cache.Cached(c, loadUser,
//	    cache.WithName("get_user"),
//	    cache.WithNamespace("users"),
//	    cache.WithExpire(5*time.Minute),
//	)
//
// Calling getUser(ctx, GetUserArgs{UserID: 1}) reads or writes the key
// "users:get_user:user_id=1".
//
// # Keys
//
// [BuildKey] composes "namespace:name:p1=v1,p2=v2" with parameters sorted by
// name, so the same logical call always maps to the same key and namespaces
// never collide. [WithKey] replaces the derived part with a fixed key and
// [WithKeyBuilder] replaces BuildKey altogether. Arguments are bound by
// [BindParams]; injected collaborators such as [context.Context],
// [*net/http.Request], functions and channels never take part, nor do fields
// tagged `cache:"-"` or names passed to [WithExclude].
//
// # Failure Handling
//
// No failure inside the caching layer reaches the caller. An unavailable
// store, a key that cannot be built or a failed lookup results in a direct
// call. A stored value that cannot be decoded is treated as a miss. A result
// that cannot be encoded or stored is still returned. Errors returned by the
// wrapped function itself are passed through and nothing is cached.
//
// Concurrent misses on one key each call the wrapped function and each store
// the result; the last write wins.
//
// # Clearing
//
// [Cacher.Clear] removes one key, every key of a namespace (SCAN + DEL), or
// the whole cache. It never fails; errors are logged and reported as zero
// keys removed.
//
// # Serialization
//
// Results are stored as JSON text by default. [MsgpackCodec] can be selected
// with [WithCodec] when every reader agrees on it.
package cache
