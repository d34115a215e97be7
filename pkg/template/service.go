package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/cache"
)

const maxFallbackDepth = 2

// Config holds template service settings.
type Config struct {
	Dir           string        `env:"TEMPLATE_DIR"`
	DefaultLocale string        `env:"TEMPLATE_DEFAULT_LOCALE" envDefault:"fr"`
	CacheSize     int           `env:"TEMPLATE_CACHE_SIZE" envDefault:"256"`
	CacheTTL      time.Duration `env:"TEMPLATE_CACHE_TTL" envDefault:"10m"`
}

// PlainFallback builds the last-resort content used when a template and its
// secondary both fail to render.
type PlainFallback func(id string, vars map[string]any) Rendered

// Service resolves template ids into rendered content. Compiled templates
// are cached per id.
type Service struct {
	source        Source
	cache         *cache.LRU[string, []*compiled]
	defaultLocale language.Tag
	plain         PlainFallback
	log           *slog.Logger
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	cfg   Config
	plain PlainFallback
	log   *slog.Logger
}

// WithConfig sets cache and locale settings.
func WithConfig(cfg Config) Option {
	return func(o *serviceOptions) { o.cfg = cfg }
}

// WithPlainFallback overrides the last-resort content builder.
func WithPlainFallback(fn PlainFallback) Option {
	return func(o *serviceOptions) {
		if fn != nil {
			o.plain = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *serviceOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// NewService creates a Service reading from src.
func NewService(src Source, opts ...Option) (*Service, error) {
	if src == nil {
		return nil, ErrSourceNil
	}
	o := serviceOptions{
		cfg:   Config{DefaultLocale: "fr", CacheSize: 256, CacheTTL: 10 * time.Minute},
		plain: DefaultPlainFallback,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	def, err := language.Parse(o.cfg.DefaultLocale)
	if err != nil {
		def = language.French
	}
	return &Service{
		source: src,
		cache: cache.New(max(o.cfg.CacheSize, 1),
			cache.WithTTL[string, []*compiled](o.cfg.CacheTTL),
		),
		defaultLocale: def,
		plain:         o.plain,
		log:           o.log,
	}, nil
}

// Render renders template id with vars in the best matching locale. An
// unknown id returns ErrNotFound. A template that fails to render falls back
// to its secondary template and then to plain text; the result is marked
// with Fallback.
func (s *Service) Render(ctx context.Context, id string, vars map[string]any, locale string) (*Rendered, error) {
	out, err := s.render(ctx, id, vars, locale, 0)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrRender) {
		return nil, err
	}

	s.log.WarnContext(ctx, "template render failed, using plain text fallback",
		slog.String("template_id", id),
		slog.String("error", err.Error()),
	)
	plain := s.plain(id, vars)
	plain.TemplateID = id
	plain.Fallback = true
	if plain.Format == "" {
		plain.Format = FormatText
	}
	return &plain, nil
}

// Invalidate drops the cached compilation of id, or of every id when id is
// empty.
func (s *Service) Invalidate(id string) {
	if id == "" {
		s.cache.Clear()
		return
	}
	s.cache.Remove(id)
}

func (s *Service) render(ctx context.Context, id string, vars map[string]any, locale string, depth int) (*Rendered, error) {
	variants, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	c := s.pick(variants, locale)
	out, err := c.execute(vars)
	if err == nil {
		return out, nil
	}

	if fb := c.tmpl.Fallback; fb != "" && fb != id && depth < maxFallbackDepth {
		s.log.WarnContext(ctx, "template render failed, trying secondary template",
			slog.String("template_id", id),
			slog.String("fallback_id", fb),
			slog.String("error", err.Error()),
		)
		fout, ferr := s.render(ctx, fb, vars, locale, depth+1)
		if ferr == nil {
			fout.Fallback = true
			return fout, nil
		}
		err = errors.Join(err, ferr)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrRender, id, err)
}

func (s *Service) load(ctx context.Context, id string) ([]*compiled, error) {
	if v, ok := s.cache.Get(id); ok {
		return v, nil
	}
	templates, err := s.source.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	variants := make([]*compiled, len(templates))
	for i, t := range templates {
		variants[i] = compile(t)
	}
	s.cache.Put(id, variants)
	return variants, nil
}

// pick returns the variant that best matches locale, preferring the default
// locale and then the first variant when nothing matches.
func (s *Service) pick(variants []*compiled, locale string) *compiled {
	if len(variants) == 1 {
		return variants[0]
	}

	ordered := slices.Clone(variants)
	slices.SortStableFunc(ordered, func(a, b *compiled) int {
		ad, bd := s.isDefault(a), s.isDefault(b)
		switch {
		case ad && !bd:
			return -1
		case bd && !ad:
			return 1
		}
		return 0
	})

	tags := make([]language.Tag, len(ordered))
	for i, c := range ordered {
		tags[i] = language.Make(c.tmpl.Locale)
	}
	want := s.defaultLocale
	if locale != "" {
		if t, err := language.Parse(locale); err == nil {
			want = t
		}
	}
	_, idx, _ := language.NewMatcher(tags).Match(want)
	return ordered[idx]
}

func (s *Service) isDefault(c *compiled) bool {
	t, err := language.Parse(c.tmpl.Locale)
	if err != nil {
		return false
	}
	base, _ := t.Base()
	defBase, _ := s.defaultLocale.Base()
	return base == defBase
}

// DefaultPlainFallback uses the "subject" and "message" variables when
// present.
func DefaultPlainFallback(_ string, vars map[string]any) Rendered {
	out := Rendered{Subject: "Notification", Body: "You have a new notification.", Format: FormatText}
	if v, ok := vars["subject"].(string); ok && strings.TrimSpace(v) != "" {
		out.Subject = v
	}
	if v, ok := vars["message"].(string); ok && strings.TrimSpace(v) != "" {
		out.Body = v
	}
	return out
}
