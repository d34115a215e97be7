// Package redis connects the notification service to Redis.
//
// The client returned by Connect backs the durable queue storage
// (queue.RedisStorage) and the shared rate-limit windows
// (ratelimiter.RedisStore). Healthcheck plugs into the daemon's readiness
// endpoint.
package redis
