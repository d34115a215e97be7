package queue

import "time"

// Config holds queue tuning parameters.
type Config struct {
	PollInterval   time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	LockTimeout    time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	MaxAttempts    int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`
	BackoffInitial time.Duration `env:"QUEUE_BACKOFF_INITIAL" envDefault:"2s"`
	BackoffMax     time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"5m"`
	KeepCompleted  int           `env:"QUEUE_KEEP_COMPLETED" envDefault:"100"`
	KeepDead       int           `env:"QUEUE_KEEP_DEAD" envDefault:"1000"`

	EmailConcurrency    int `env:"QUEUE_EMAIL_CONCURRENCY" envDefault:"3"`
	SMSConcurrency      int `env:"QUEUE_SMS_CONCURRENCY" envDefault:"2"`
	WhatsAppConcurrency int `env:"QUEUE_WHATSAPP_CONCURRENCY" envDefault:"2"`
	ReminderConcurrency int `env:"QUEUE_REMINDER_CONCURRENCY" envDefault:"1"`
}

// Retention returns the configured completed/dead bounds.
func (c Config) Retention() Retention {
	return Retention{Completed: c.KeepCompleted, Dead: c.KeepDead}
}

// Backoff returns the retry schedule described by the config.
func (c Config) Backoff() Backoff {
	return ExponentialBackoff{InitialInterval: c.BackoffInitial, MaxInterval: c.BackoffMax, Multiplier: 2, JitterFactor: 0.1}
}
