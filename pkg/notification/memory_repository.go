package notification

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository for tests and single-node runs.
type MemoryRepository struct {
	marker

	mu         sync.RWMutex
	items      map[string]*Notification
	byExternal map[string]string
	now        func() time.Time
}

// MemoryOption configures a MemoryRepository.
type MemoryOption func(*MemoryRepository)

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(r *MemoryRepository) {
		if now != nil {
			r.now = now
		}
	}
}

func NewMemoryRepository(opts ...MemoryOption) *MemoryRepository {
	r := &MemoryRepository{
		items:      make(map[string]*Notification),
		byExternal: make(map[string]string),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.marker = marker{t: r, now: r.now}
	return r
}

func (r *MemoryRepository) Create(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[n.ID]; ok {
		return ErrDuplicateID
	}
	if n.ExternalID != "" {
		if _, ok := r.byExternal[n.ExternalID]; ok {
			return ErrDuplicateExternalID
		}
		r.byExternal[n.ExternalID] = n.ID
	}
	r.items[n.ID] = n.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

func (r *MemoryRepository) FindByExternalID(_ context.Context, externalID string) (*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExternal[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.items[id].Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]*Notification, error) {
	r.mu.RLock()
	out := make([]*Notification, 0)
	for _, n := range r.items {
		if matches(n, f) {
			out = append(out, n.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return paginate(out, f.Offset, f.Limit), nil
}

// Transition applies c to the stored notification under the repository lock.
func (r *MemoryRepository) Transition(_ context.Context, id string, c Change) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := stored.Clone()
	if err := Apply(next, c); err != nil {
		return nil, err
	}
	if next.ExternalID != "" && next.ExternalID != stored.ExternalID {
		if owner, taken := r.byExternal[next.ExternalID]; taken && owner != id {
			return nil, ErrDuplicateExternalID
		}
		r.byExternal[next.ExternalID] = id
	}
	r.items[id] = next
	return next.Clone(), nil
}

func (r *MemoryRepository) RecordClick(_ context.Context, id, url string, at time.Time) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	RecordClick(stored, url, orNow(at, r.now))
	return stored.Clone(), nil
}

func (r *MemoryRepository) FindScheduledReady(_ context.Context, now time.Time, limit int) ([]*Notification, error) {
	return r.collect(limit, func(n *Notification) bool {
		return n.Status == StatusScheduled && n.ScheduledAt != nil && !n.ScheduledAt.After(now)
	}), nil
}

func (r *MemoryRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]*Notification, error) {
	return r.collect(limit, func(n *Notification) bool {
		return CanApply(n.Status, EventExpire) && n.IsExpired(now)
	}), nil
}

func (r *MemoryRepository) DeleteOlderThan(_ context.Context, cutoff time.Time, statuses ...Status) (int, error) {
	if len(statuses) == 0 {
		statuses = RetentionStatuses
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, n := range r.items {
		if n.UpdatedAt.Before(cutoff) && slices.Contains(statuses, n.Status) {
			delete(r.items, id)
			if n.ExternalID != "" {
				delete(r.byExternal, n.ExternalID)
			}
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemoryRepository) GetStats(_ context.Context, since time.Time) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := newStats()
	for _, n := range r.items {
		if n.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.ByStatus[n.Status]++
		stats.ByChannel[n.Channel]++
		if n.Cost != nil {
			stats.TotalCost += *n.Cost
		}
	}
	return stats, nil
}

func (r *MemoryRepository) collect(limit int, keep func(*Notification) bool) []*Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Notification, 0)
	for _, n := range r.items {
		if keep(n) {
			out = append(out, n.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *Notification) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return paginate(out, 0, limit)
}

func matches(n *Notification, f Filter) bool {
	if f.Channel != "" && n.Channel != f.Channel {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, n.Status) {
		return false
	}
	if f.Recipient != "" && n.Recipient != f.Recipient {
		return false
	}
	if !f.CreatedAfter.IsZero() && n.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !n.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !n.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

func paginate(items []*Notification, offset, limit int) []*Notification {
	if offset > 0 {
		if offset >= len(items) {
			return []*Notification{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
