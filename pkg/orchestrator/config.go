package orchestrator

import "time"

// Config tunes the orchestrator, the dispatcher and the sweeper.
type Config struct {
	BulkBatchSize  int           `env:"NOTIFY_BULK_BATCH_SIZE" envDefault:"50"`
	BulkDelay      time.Duration `env:"NOTIFY_BULK_DELAY" envDefault:"1s"`
	PersistTimeout time.Duration `env:"NOTIFY_PERSIST_TIMEOUT" envDefault:"5s"`

	// Provider throughput per channel in messages per second. Zero disables
	// throttling for the channel.
	EmailRPS    float64 `env:"NOTIFY_EMAIL_RPS" envDefault:"10"`
	SMSRPS      float64 `env:"NOTIFY_SMS_RPS" envDefault:"5"`
	WhatsAppRPS float64 `env:"NOTIFY_WHATSAPP_RPS" envDefault:"5"`

	ExpireInterval    time.Duration `env:"NOTIFY_EXPIRE_INTERVAL" envDefault:"1m"`
	ScheduledInterval time.Duration `env:"NOTIFY_SCHEDULED_INTERVAL" envDefault:"1m"`
	CleanupInterval   time.Duration `env:"NOTIFY_CLEANUP_INTERVAL" envDefault:"1h"`
	PurgeInterval     time.Duration `env:"NOTIFY_PURGE_INTERVAL" envDefault:"5m"`
	RecoverInterval   time.Duration `env:"NOTIFY_RECOVER_INTERVAL" envDefault:"5m"`
	// RecoverAfter is how long an undelivered row may sit untouched before
	// the recovery sweep checks its job. Keep it above the queue lock timeout.
	RecoverAfter time.Duration `env:"NOTIFY_RECOVER_AFTER" envDefault:"15m"`
	Retention    time.Duration `env:"NOTIFY_RETENTION" envDefault:"720h"`
	SweepBatch   int           `env:"NOTIFY_SWEEP_BATCH" envDefault:"500"`
}

// DefaultConfig mirrors the envDefault values.
func DefaultConfig() Config {
	return Config{
		BulkBatchSize:     50,
		BulkDelay:         time.Second,
		PersistTimeout:    5 * time.Second,
		EmailRPS:          10,
		SMSRPS:            5,
		WhatsAppRPS:       5,
		ExpireInterval:    time.Minute,
		ScheduledInterval: time.Minute,
		CleanupInterval:   time.Hour,
		PurgeInterval:     5 * time.Minute,
		RecoverInterval:   5 * time.Minute,
		RecoverAfter:      15 * time.Minute,
		Retention:         30 * 24 * time.Hour,
		SweepBatch:        500,
	}
}
