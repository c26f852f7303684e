package cache

import (
	"context"
)

// Clear deletes cached entries and returns how many keys were removed.
//
//   - key set: deletes JoinKey(namespace, key), matching the keys Cached derives
//   - namespace only: deletes every key under "namespace:"
//   - neither: deletes every key the store owns
//
// Clear never fails. An unavailable store or a failed delete is logged and
// reported as zero keys removed.
func (c *Cacher) Clear(ctx context.Context, key, namespace string) int64 {
	log := c.event(key, namespace)
	store := c.Store()
	if store == nil || !store.Available() {
		log.Warn("cache clear skipped, store unavailable")
		return 0
	}

	var (
		n   int64
		err error
	)
	switch {
	case key != "":
		n, err = store.Delete(ctx, JoinKey(namespace, key))
	case namespace != "":
		n, err = store.DeletePattern(ctx, EscapePattern(namespace)+":*")
	default:
		n, err = store.Flush(ctx)
	}
	if err != nil {
		c.metrics.storeError("clear")
		log.Error("cache clear failed: %s", err)
		return 0
	}
	c.metrics.cleared(n)
	log.Info("cleared %d cache keys", n)
	return n
}
