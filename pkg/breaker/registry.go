package breaker

import (
	"slices"
	"sync"
)

// Registry holds one breaker per dependency name ("email", "sms",
// "whatsapp", "db"). Breakers are created on first use with the
// per-name config when one was registered, the default otherwise.
type Registry struct {
	mu       sync.Mutex
	defaults Config
	configs  map[string]Config
	opts     []Option
	breakers map[string]*Breaker
}

// NewRegistry creates a registry. opts are applied to every breaker.
func NewRegistry(defaults Config, opts ...Option) *Registry {
	return &Registry{
		defaults: defaults,
		configs:  make(map[string]Config),
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// Configure sets the config used when name is first requested.
func (r *Registry) Configure(name string, cfg Config) {
	r.mu.Lock()
	r.configs[name] = cfg
	r.mu.Unlock()
}

// Get returns the breaker for name, creating it when needed.
func (r *Registry) Get(name string, extra ...Option) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.defaults
	}
	b := New(name, cfg, append(slices.Clone(r.opts), extra...)...)
	r.breakers[name] = b
	return b
}

// Stats returns a snapshot of every breaker created so far, sorted by name.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(list))
	for _, b := range list {
		out = append(out, b.Stats())
	}
	slices.SortFunc(out, func(a, b Stats) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}
