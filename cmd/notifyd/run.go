package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/events"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/httpserver"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/requestid"
)

func run(ctx context.Context) error {
	s, err := loadSettings()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(
		logger.WithEnvironment(s.App.Env, s.App.Service),
		logger.WithLevelName(s.App.LogLevel),
		logger.WithFormat(logger.Format(s.App.LogFormat)),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	c, err := build(ctx, s, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Error("shutdown", logger.Error(err))
		}
	}()

	srv := httpserver.NewFromConfig(s.HTTP, httpserver.WithLogger(log.With(logger.Component("http"))))
	router := c.router(s.HTTP)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(c.queue.Run(gctx))
	g.Go(func() error { return c.sweeper.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx, router) })
	g.Go(func() error { return logEvents(gctx, c.bus, log.With(logger.Component("events"))) })

	log.Info("notifyd started", slog.String("addr", s.HTTP.Addr))
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("notifyd stopped")
	return nil
}

func (c *components) router(cfg httpserver.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware())
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	checks := make([]httpserver.Check, 0, len(c.checks))
	for _, ch := range c.checks {
		checks = append(checks, httpserver.Check{Name: ch.name, Fn: ch.fn})
	}

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(c.log, cfg.ReadinessTimeout, checks...))
	r.Handle("/metrics", c.metrics.Handler())
	r.Mount("/webhooks", c.webhooks.Routes())

	a := &api{orch: c.orch, reminders: c.reminders, repo: c.repo, log: c.log.With(logger.Component("api"))}
	r.Mount("/api", a.routes())
	return r
}

// logEvents drains the in-process bus into the debug log until ctx ends.
func logEvents(ctx context.Context, bus *events.MemoryBus, log *slog.Logger) error {
	sub := bus.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			log.DebugContext(ctx, "notification event",
				logger.Event(string(ev.Type)),
				logger.NotificationID(ev.NotificationID),
			)
		}
	}
}
