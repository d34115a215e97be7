package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/breaker"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/events"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/logger"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/metrics"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/orchestrator"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/pg"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/provider"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/queue"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/ratelimiter"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/redis"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/reminder"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/template"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/webhook"
)

// components is the assembled daemon. closers run in reverse order.
type components struct {
	log       *slog.Logger
	metrics   *metrics.Collector
	repo      notification.Repository
	queue     *queue.Queue
	orch      *orchestrator.Orchestrator
	sweeper   *orchestrator.Sweeper
	reminders *reminder.Scheduler
	webhooks  *webhook.Handler
	bus       *events.MemoryBus
	checks    []check

	closers []func() error
}

type check struct {
	name string
	fn   func(context.Context) error
}

func (c *components) onClose(fn func() error) { c.closers = append(c.closers, fn) }

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

func build(ctx context.Context, s settings, log *slog.Logger) (_ *components, err error) {
	c := &components{log: log, metrics: metrics.New(s.App.MetricsNamespace, true)}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if err := c.openRepository(ctx, s); err != nil {
		return nil, err
	}
	rdb, err := c.openRedis(ctx, s)
	if err != nil {
		return nil, err
	}

	storage, store := c.stores(rdb, s)

	c.queue, err = queue.New(storage,
		queue.WithConfig(s.Queue),
		queue.WithBackoff(s.Queue.Backoff()),
		queue.WithLogger(log.With(logger.Component("queue"))),
	)
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}

	limiter, err := ratelimiter.New(store, s.RateLimit.Default(), s.RateLimit.Options()...)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	breakers := breaker.NewRegistry(s.Breaker,
		breaker.WithObserver(c.metrics.ObserveBreaker),
		breaker.WithLogger(log.With(logger.Component("breaker"))),
	)
	breakers.Configure(orchestrator.DBBreaker, s.DBBreaker)

	templates, err := c.templates(s)
	if err != nil {
		return nil, err
	}

	emitter, err := c.emitter(s)
	if err != nil {
		return nil, err
	}

	adapters, err := c.adapters(ctx, s)
	if err != nil {
		return nil, err
	}

	common := []orchestrator.Option{
		orchestrator.WithConfig(s.Orchestrator),
		orchestrator.WithLogger(log.With(logger.Component("orchestrator"))),
		orchestrator.WithMetrics(c.metrics),
		orchestrator.WithEmitter(emitter),
		orchestrator.WithBreakers(breakers),
		orchestrator.WithLimiter(limiter),
		orchestrator.WithTemplates(templates),
	}
	if c.orch, err = orchestrator.New(c.repo, c.queue, common...); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	dispatcher, err := orchestrator.NewDispatcher(c.repo, adapters, common...)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	if c.sweeper, err = orchestrator.NewSweeper(c.repo, c.queue, limiter, common...); err != nil {
		return nil, fmt.Errorf("sweeper: %w", err)
	}

	reminderOpts, err := s.Reminder.Options()
	if err != nil {
		return nil, err
	}
	c.reminders, err = reminder.New(c.queue, append(reminderOpts,
		reminder.WithLogger(log.With(logger.Component("reminder"))),
		reminder.WithMetrics(c.metrics),
	)...)
	if err != nil {
		return nil, fmt.Errorf("reminders: %w", err)
	}
	reminderProc, err := c.reminders.Processor(c.orch)
	if err != nil {
		return nil, err
	}

	workers := []struct {
		queue       string
		concurrency int
		proc        queue.Processor
	}{
		{notification.ChannelEmail.Queue(), s.Queue.EmailConcurrency, dispatcher},
		{notification.ChannelSMS.Queue(), s.Queue.SMSConcurrency, dispatcher},
		{notification.ChannelWhatsApp.Queue(), s.Queue.WhatsAppConcurrency, dispatcher},
		{reminder.QueueName, s.Queue.ReminderConcurrency, reminderProc},
	}
	for _, w := range workers {
		if err := c.queue.RegisterWorker(w.queue, w.concurrency, w.proc); err != nil {
			return nil, fmt.Errorf("register %s worker: %w", w.queue, err)
		}
	}

	c.webhooks, err = webhook.NewHandler(c.repo, append(webhook.ProviderChannels(s.Webhook),
		webhook.WithLogger(log.With(logger.Component("webhook"))),
		webhook.WithMetrics(c.metrics),
		webhook.WithEmitter(emitter),
	)...)
	if err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}

	c.checks = append(c.checks, check{name: "pipeline", fn: func(ctx context.Context) error {
		h := c.orch.Health(ctx)
		if h.Healthy {
			return nil
		}
		return fmt.Errorf("unhealthy: %v", h.Errors)
	}})
	return c, nil
}

func (c *components) openRepository(ctx context.Context, s settings) error {
	if !s.Postgres.Enabled() {
		c.log.Warn("PG_CONN_URL not set, notifications are kept in memory")
		c.repo = notification.NewMemoryRepository()
		return nil
	}
	pool, err := pg.Connect(ctx, s.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	c.onClose(func() error { pool.Close(); return nil })
	if err := pg.Migrate(ctx, pool, notification.Migrations, s.Postgres, c.log); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	c.repo = notification.NewPostgresRepository(pool)
	c.checks = append(c.checks, check{name: "postgres", fn: pg.Healthcheck(pool)})
	return nil
}

func (c *components) openRedis(ctx context.Context, s settings) (*goredis.Client, error) {
	if !s.Redis.Enabled() {
		c.log.Warn("REDIS_URL not set, queue and rate limits are kept in memory")
		return nil, nil
	}
	rdb, err := redis.Connect(ctx, s.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	c.onClose(rdb.Close)
	c.checks = append(c.checks, check{name: "redis", fn: redis.Healthcheck(rdb)})
	return rdb, nil
}

// stores picks the queue and rate limit stores. With Redis every key lives
// under one prefix p: the queue owns p:job:* and p:q:*, rate limits p:rl:*.
func (c *components) stores(rdb *goredis.Client, s settings) (queue.Storage, ratelimiter.Store) {
	if rdb == nil {
		mem := ratelimiter.NewMemoryStore()
		c.onClose(func() error { mem.Close(); return nil })
		return queue.NewMemoryStorage(queue.WithMemoryRetention(s.Queue.Retention())), mem
	}
	return queue.NewRedisStorage(rdb, s.Redis.KeyPrefix, queue.WithRedisRetention(s.Queue.Retention())),
		ratelimiter.NewRedisStore(rdb, s.Redis.KeyPrefix+":rl:")
}

func (c *components) templates(s settings) (*template.Service, error) {
	defaults, err := template.Defaults()
	if err != nil {
		return nil, fmt.Errorf("default templates: %w", err)
	}
	var src template.Source = defaults
	if s.Templates.Dir != "" {
		custom, err := template.LoadYAML(os.DirFS(s.Templates.Dir))
		if err != nil {
			return nil, fmt.Errorf("templates %s: %w", s.Templates.Dir, err)
		}
		src = template.ChainSource{custom, defaults}
	}
	return template.NewService(src,
		template.WithConfig(s.Templates),
		template.WithLogger(c.log.With(logger.Component("template"))),
	)
}

func (c *components) emitter(s settings) (*events.Emitter, error) {
	c.bus = events.NewMemoryBus(256)
	c.onClose(c.bus.Close)
	publishers := []events.Publisher{c.bus}

	if s.Kafka.Enabled() {
		kp, err := events.NewKafkaPublisher(s.Kafka)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		c.onClose(kp.Close)
		publishers = append(publishers, kp)
	}
	return events.NewEmitter(publishers, events.WithLogger(c.log.With(logger.Component("events")))), nil
}

// adapters wires the configured providers; channels without credentials
// get a log adapter so local runs still exercise the pipeline.
func (c *components) adapters(ctx context.Context, s settings) (*provider.Registry, error) {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	var list []provider.Adapter

	if s.Postmark.Enabled() {
		a, err := provider.NewPostmarkEmail(s.Postmark, httpClient)
		if err != nil {
			return nil, fmt.Errorf("postmark: %w", err)
		}
		list = append(list, a)
	} else {
		list = append(list, provider.NewLogAdapter(notification.ChannelEmail, c.log))
	}

	if s.SNS.Enabled {
		client, err := provider.NewSNSClient(ctx, s.SNS)
		if err != nil {
			return nil, fmt.Errorf("sns: %w", err)
		}
		a, err := provider.NewSNSSMS(client, s.SNS)
		if err != nil {
			return nil, fmt.Errorf("sns: %w", err)
		}
		list = append(list, a)
	} else {
		list = append(list, provider.NewLogAdapter(notification.ChannelSMS, c.log))
	}

	if s.WhatsApp.Enabled() {
		a, err := provider.NewHTTPWhatsApp(s.WhatsApp, httpClient)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: %w", err)
		}
		list = append(list, a)
	} else {
		list = append(list, provider.NewLogAdapter(notification.ChannelWhatsApp, c.log))
	}

	for _, a := range list {
		c.log.Info("provider adapter ready", logger.Channel(string(a.Channel())), slog.String("provider", a.Name()))
	}
	return provider.NewRegistry(list...), nil
}
