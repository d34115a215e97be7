package template

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Source looks up every locale variant of a template id. It returns
// ErrNotFound when the id is unknown.
type Source interface {
	Lookup(ctx context.Context, id string) ([]Template, error)
}

// MemorySource holds templates in a map. It is safe for concurrent use.
type MemorySource struct {
	mu        sync.RWMutex
	templates map[string][]Template
}

// NewMemorySource creates a source holding the given templates.
func NewMemorySource(templates ...Template) (*MemorySource, error) {
	s := &MemorySource{templates: make(map[string][]Template)}
	for _, t := range templates {
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add stores t, replacing the variant with the same id and locale.
func (s *MemorySource) Add(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	variants := s.templates[t.ID]
	for i, v := range variants {
		if strings.EqualFold(v.Locale, t.Locale) {
			variants[i] = t
			return nil
		}
	}
	s.templates[t.ID] = append(variants, t)
	return nil
}

func (s *MemorySource) Lookup(ctx context.Context, id string) ([]Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	variants, ok := s.templates[id]
	if !ok || len(variants) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]Template(nil), variants...), nil
}

// IDs lists the known template ids.
func (s *MemorySource) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.templates))
	for id := range s.templates {
		ids = append(ids, id)
	}
	return ids
}

type yamlFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadYAML reads every .yaml/.yml file under fsys into a MemorySource. Each
// file holds a top-level "templates" list.
func LoadYAML(fsys fs.FS) (*MemorySource, error) {
	src, _ := NewMemorySource()
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(path.Ext(p)) {
		case ".yaml", ".yml":
		default:
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		var f yamlFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		for _, t := range f.Templates {
			if err := src.Add(t); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Join(ErrLoadFiles, err)
	}
	return src, nil
}

// ChainSource consults each source in order and returns the first hit.
type ChainSource []Source

func (c ChainSource) Lookup(ctx context.Context, id string) ([]Template, error) {
	for _, s := range c {
		variants, err := s.Lookup(ctx, id)
		if err == nil {
			return variants, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}
