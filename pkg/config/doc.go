// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv (optional .env files) and
// github.com/caarlos0/env/v11 (struct tag parsing). Every component of the
// notification service declares its own Config struct with `env` tags; the
// daemon loads them here:
//
//	var q queue.Config
//	if err := config.Load(&q); err != nil {
//		return err
//	}
//
//	var smsBreaker breaker.Config
//	if err := config.LoadPrefixed("BREAKER_SMS_", &smsBreaker); err != nil {
//		return err
//	}
//
// Parsed values are cached per type and prefix. Use ResetCache or Reload in
// tests after changing the environment.
package config
