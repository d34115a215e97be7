// Package httpserver runs the daemon's HTTP surface: a net/http server with
// graceful shutdown tied to a context, plus liveness and readiness handlers.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	r := chi.NewRouter()
//	r.Get("/health/live", httpserver.LivenessHandler())
//	r.Get("/health/ready", httpserver.ReadinessHandler(log, 2*time.Second,
//		httpserver.Check{Name: "postgres", Fn: pool.Ping},
//	))
//	err := srv.Run(ctx, r)
//
// Run returns nil after a clean shutdown and wraps listen failures with
// ErrStart.
package httpserver
