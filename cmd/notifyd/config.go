package main

import (
	"errors"
	"os"
	"strings"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/breaker"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/config"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/events"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/httpserver"
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

type appConfig struct {
	Env              string `env:"APP_ENV" envDefault:"development"`
	Service          string `env:"SERVICE_NAME" envDefault:"notifyd"`
	LogLevel         string `env:"LOG_LEVEL"`
	LogFormat        string `env:"LOG_FORMAT"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"notify"`
}

// settings is every env-driven section the daemon reads.
type settings struct {
	App          appConfig
	HTTP         httpserver.Config
	Postgres     pg.Config
	Redis        redis.Config
	Queue        queue.Config
	Breaker      breaker.Config
	DBBreaker    breaker.Config
	RateLimit    ratelimiter.ChannelConfig
	Templates    template.Config
	Orchestrator orchestrator.Config
	Webhook      webhook.Config
	Kafka        events.KafkaConfig
	Postmark     provider.PostmarkConfig
	SNS          provider.SNSConfig
	WhatsApp     provider.WhatsAppConfig
	Reminder     reminder.Config
}

// loadSettings reads every section from the environment. ENV_FILE may name
// a comma-separated list of dotenv files applied first, later ones winning.
func loadSettings() (settings, error) {
	var s settings
	if files := os.Getenv("ENV_FILE"); files != "" {
		if err := config.LoadEnv(strings.Split(files, ",")...); err != nil {
			return s, err
		}
	}
	err := errors.Join(
		config.Load(&s.App),
		config.Load(&s.HTTP),
		config.Load(&s.Postgres),
		config.Load(&s.Redis),
		config.Load(&s.Queue),
		config.LoadPrefixed("BREAKER_", &s.Breaker),
		config.LoadPrefixed("DB_BREAKER_", &s.DBBreaker),
		config.Load(&s.RateLimit),
		config.Load(&s.Templates),
		config.Load(&s.Orchestrator),
		config.Load(&s.Webhook),
		config.Load(&s.Kafka),
		config.Load(&s.Postmark),
		config.Load(&s.SNS),
		config.Load(&s.WhatsApp),
		config.Load(&s.Reminder),
	)
	return s, err
}
