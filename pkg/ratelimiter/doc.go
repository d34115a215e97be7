// Package ratelimiter implements fixed-window rate limiting keyed by
// "scope:actor", where scope is usually a delivery channel.
//
// A window opens on the first request for a key and lasts Config.Window.
// Every request increments the shared counter; requests beyond
// Config.MaxRequests are refused with RetryAfter set to the time left until
// the window resets. Counters live in a Store: MemoryStore for a single
// process (with PurgeExpired for abandoned windows) or RedisStore for quotas
// shared by several processes.
//
//	limiter, err := ratelimiter.New(ratelimiter.NewMemoryStore(),
//		ratelimiter.Config{MaxRequests: 100, Window: time.Hour},
//		ratelimiter.WithScope("sms", ratelimiter.Config{MaxRequests: 20, Window: time.Hour}),
//	)
//	res, err := limiter.Check(ctx, "sms", userID)
//	if !res.Allowed {
//		// retry after res.RetryAfterSeconds()
//	}
package ratelimiter
