package provider

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// Envelope is the rendered message handed to an adapter.
type Envelope struct {
	NotificationID string
	Channel        notification.Channel
	Recipient      string
	Subject        string
	Body           string
	TextBody       string
	HTML           bool
	Tag            string
	Metadata       map[string]any
}

// Adapter performs the provider call for one channel. Send returns a
// receipt on acceptance. Failures are wrapped with Transient or Terminal;
// an unwrapped error is treated as transient.
type Adapter interface {
	Name() string
	Channel() notification.Channel
	Send(ctx context.Context, env Envelope) (notification.Receipt, error)
}

// Registry maps each channel to its adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[notification.Channel]Adapter
}

// NewRegistry registers the given adapters by their channel.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[notification.Channel]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register sets the adapter for a.Channel(), replacing any previous one.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Channel()] = a
}

// Get returns the adapter for ch.
func (r *Registry) Get(ch notification.Channel) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, ch)
	}
	return a, nil
}

// Channels lists the channels that have an adapter.
func (r *Registry) Channels() []notification.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.adapters))
}

func checkChannel(a Adapter, env Envelope) error {
	if env.Channel != "" && env.Channel != a.Channel() {
		return Terminal(fmt.Errorf("%w: %s adapter got %s", ErrWrongChannel, a.Channel(), env.Channel))
	}
	return nil
}
