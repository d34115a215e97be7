package ratelimiter

import (
	"fmt"
	"math"
	"time"
)

// Config is a fixed-window quota: at most MaxRequests per Window.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

func (c Config) validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidConfig, c.MaxRequests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, c.Window)
	}
	return nil
}

// Result reports the outcome of a single check.
type Result struct {
	Key        string
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds is RetryAfter rounded up to whole seconds, 0 when allowed.
func (r *Result) RetryAfterSeconds() int {
	if r.Allowed || r.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

// ChannelConfig holds the per-channel quotas. SMS is the strictest because
// each message has a per-unit provider cost.
type ChannelConfig struct {
	EmailMax       int           `env:"RATE_LIMIT_EMAIL_MAX" envDefault:"100"`
	EmailWindow    time.Duration `env:"RATE_LIMIT_EMAIL_WINDOW" envDefault:"1h"`
	SMSMax         int           `env:"RATE_LIMIT_SMS_MAX" envDefault:"20"`
	SMSWindow      time.Duration `env:"RATE_LIMIT_SMS_WINDOW" envDefault:"1h"`
	WhatsAppMax    int           `env:"RATE_LIMIT_WHATSAPP_MAX" envDefault:"50"`
	WhatsAppWindow time.Duration `env:"RATE_LIMIT_WHATSAPP_WINDOW" envDefault:"1h"`
	DefaultMax     int           `env:"RATE_LIMIT_DEFAULT_MAX" envDefault:"100"`
	DefaultWindow  time.Duration `env:"RATE_LIMIT_DEFAULT_WINDOW" envDefault:"1h"`
	PurgeInterval  time.Duration `env:"RATE_LIMIT_PURGE_INTERVAL" envDefault:"5m"`
}

// DefaultChannelConfig mirrors the envDefault values.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		EmailMax: 100, EmailWindow: time.Hour,
		SMSMax: 20, SMSWindow: time.Hour,
		WhatsAppMax: 50, WhatsAppWindow: time.Hour,
		DefaultMax: 100, DefaultWindow: time.Hour,
		PurgeInterval: 5 * time.Minute,
	}
}

// Options turns the channel quotas into limiter options keyed by channel name.
func (c ChannelConfig) Options() []Option {
	return []Option{
		WithScope("email", Config{MaxRequests: c.EmailMax, Window: c.EmailWindow}),
		WithScope("sms", Config{MaxRequests: c.SMSMax, Window: c.SMSWindow}),
		WithScope("whatsapp", Config{MaxRequests: c.WhatsAppMax, Window: c.WhatsAppWindow}),
	}
}

// Default returns the fallback quota for unknown scopes.
func (c ChannelConfig) Default() Config {
	return Config{MaxRequests: c.DefaultMax, Window: c.DefaultWindow}
}
