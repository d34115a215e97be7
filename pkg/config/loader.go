package config

import (
	"errors"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type cacheKey struct {
	typ    reflect.Type
	prefix string
}

var (
	cacheMu sync.RWMutex
	cache   = make(map[cacheKey]any)

	dotenvOnce sync.Once
)

// LoadEnv loads one or more .env files into the process environment.
// Later files override earlier ones. Variables already present in the
// environment keep their value only when no file sets them.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	if err := godotenv.Overload(paths...); err != nil {
		return errors.Join(ErrEnvFile, err)
	}
	return nil
}

// Load parses environment variables into v using `env` struct tags.
// Each configuration type is parsed once; later calls are served from cache.
//
//	type QueueConfig struct {
//		PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
//	}
//
//	var cfg QueueConfig
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T) error {
	return LoadPrefixed("", v)
}

// LoadPrefixed is Load with every variable name prefixed, so the same struct
// can be loaded for several components (e.g. "SMS_" and "EMAIL_" breakers).
func LoadPrefixed[T any](prefix string, v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	dotenvOnce.Do(func() {
		// A missing default .env file is fine.
		_ = godotenv.Load()
	})

	key := cacheKey{typ: reflect.TypeFor[T](), prefix: prefix}

	cacheMu.RLock()
	cached, ok := cache[key]
	cacheMu.RUnlock()
	if ok {
		*v = cached.(T)
		return nil
	}

	var parsed T
	if err := env.ParseWithOptions(&parsed, env.Options{Prefix: prefix}); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	cacheMu.Lock()
	if existing, ok := cache[key]; ok {
		parsed = existing.(T)
	} else {
		cache[key] = parsed
	}
	cacheMu.Unlock()

	*v = parsed
	return nil
}

// Reload drops any cached value for T (unprefixed) and parses it again.
func Reload[T any](v *T) error {
	cacheMu.Lock()
	delete(cache, cacheKey{typ: reflect.TypeFor[T]()})
	cacheMu.Unlock()
	return Load(v)
}

// ResetCache clears every cached configuration. Intended for tests.
func ResetCache() {
	cacheMu.Lock()
	cache = make(map[cacheKey]any)
	cacheMu.Unlock()
}
