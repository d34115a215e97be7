// Package cache provides a generic, thread-safe LRU cache with optional
// time-based expiry.
//
// Entries are evicted when the cache exceeds its capacity (least recently
// used first) or, when a TTL is configured, once they are older than the TTL.
// Expired entries are dropped lazily on Get and eagerly on Purge.
//
//	c := cache.New[string, *Compiled](256,
//		cache.WithTTL[string, *Compiled](10*time.Minute),
//	)
//	c.Put("welcome:fr", compiled)
//	if v, ok := c.Get("welcome:fr"); ok {
//		// use v
//	}
//
// All operations are O(1) except RemoveFunc, Purge and Clear, which scan the
// cache.
package cache
