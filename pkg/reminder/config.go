package reminder

import (
	"fmt"
	"time"
)

// Config is the env-driven setup of the scheduler.
type Config struct {
	Timezone     string        `env:"REMINDER_TIMEZONE" envDefault:"Europe/Paris"`
	SafetyMargin time.Duration `env:"REMINDER_SAFETY_MARGIN" envDefault:"60s"`
	Types        []string      `env:"REMINDER_TYPES" envDefault:"7d,24h,1h" envSeparator:","`

	// BookingAPIURL enables Reschedule and the pre-send booking check.
	BookingAPIURL     string        `env:"REMINDER_BOOKING_API_URL"`
	BookingAPIToken   string        `env:"REMINDER_BOOKING_API_TOKEN"`
	BookingAPITimeout time.Duration `env:"REMINDER_BOOKING_API_TIMEOUT" envDefault:"5s"`
}

// Options turns cfg into scheduler options. It fails on an unknown zone
// or reminder type.
func (cfg Config) Options() ([]Option, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("reminder timezone %q: %w", cfg.Timezone, err)
	}
	types := make([]Type, 0, len(cfg.Types))
	for _, name := range cfg.Types {
		t, err := ParseType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	opts := []Option{
		WithLocation(loc),
		WithSafetyMargin(cfg.SafetyMargin),
		WithTypes(types...),
	}
	if cfg.BookingAPIURL != "" {
		f, err := NewHTTPFetcher(cfg.BookingAPIURL, cfg.BookingAPIToken, cfg.BookingAPITimeout, nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithFetcher(f))
	}
	return opts, nil
}
