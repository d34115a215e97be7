package queue

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStorage keeps jobs in process memory. It is intended for tests and
// single-instance deployments without Redis.
type MemoryStorage struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	seq       map[string]uint64
	next      uint64
	completed map[string][]string
	dead      map[string][]string
	retention Retention
}

// MemoryStorageOption configures a MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithMemoryRetention bounds the completed and dead sets.
func WithMemoryRetention(r Retention) MemoryStorageOption {
	return func(s *MemoryStorage) { s.retention = r }
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		jobs:      make(map[string]*Job),
		seq:       make(map[string]uint64),
		completed: make(map[string][]string),
		dead:      make(map[string][]string),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStorage) Add(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[job.ID]; ok {
		if existing.State == StateActive {
			return ErrJobActive
		}
		s.detach(existing)
	}

	s.next++
	s.seq[job.ID] = s.next
	s.jobs[job.ID] = job.clone()
	return nil
}

func (s *MemoryStorage) Claim(_ context.Context, queue, workerID string, lock time.Duration, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recoverExpired(queue, now)

	var best *Job
	for _, j := range s.jobs {
		if j.Queue != queue || !j.pending() || j.RunAt.After(now) {
			continue
		}
		if best == nil || s.before(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, ErrNoJob
	}

	until := now.Add(lock)
	best.State = StateActive
	best.Attempts++
	best.LockedBy = workerID
	best.LockedUntil = &until
	best.UpdatedAt = now
	return best.clone(), nil
}

func (s *MemoryStorage) Complete(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.active(id)
	if err != nil {
		return err
	}
	j.State = StateCompleted
	j.FinishedAt = &now
	j.UpdatedAt = now
	j.LockedBy, j.LockedUntil = "", nil
	s.completed[j.Queue] = s.trim(append(s.completed[j.Queue], id), s.retention.Completed)
	return nil
}

func (s *MemoryStorage) Retry(_ context.Context, id string, runAt time.Time, errMsg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.active(id)
	if err != nil {
		return err
	}
	s.delay(j, runAt, errMsg, now)
	return nil
}

func (s *MemoryStorage) Snooze(_ context.Context, id string, runAt time.Time, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.active(id)
	if err != nil {
		return err
	}
	s.delay(j, runAt, reason, now)
	j.Attempts = max(j.Attempts-1, 0)
	return nil
}

func (s *MemoryStorage) Bury(_ context.Context, id, errMsg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.active(id)
	if err != nil {
		return err
	}
	s.bury(j, errMsg, now)
	return nil
}

func (s *MemoryStorage) Remove(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	if !j.pending() {
		if j.State == StateActive {
			return false, ErrJobActive
		}
		return false, nil
	}
	delete(s.jobs, id)
	delete(s.seq, id)
	return true, nil
}

func (s *MemoryStorage) Requeue(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.State != StateDead {
		return ErrJobNotDead
	}
	s.dead[j.Queue] = slices.DeleteFunc(s.dead[j.Queue], func(v string) bool { return v == id })
	j.State = StateWaiting
	j.Attempts = 0
	j.RunAt = now
	j.FinishedAt = nil
	j.UpdatedAt = now
	s.next++
	s.seq[id] = s.next
	return nil
}

func (s *MemoryStorage) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.clone(), nil
}

func (s *MemoryStorage) Jobs(_ context.Context, queue string, states ...State) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		if len(states) > 0 && !slices.Contains(states, j.State) {
			continue
		}
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b *Job) int {
		if s.before(a, b) {
			return -1
		}
		if s.before(b, a) {
			return 1
		}
		return 0
	})
	for i, j := range out {
		out[i] = j.clone()
	}
	return out, nil
}

func (s *MemoryStorage) Stats(_ context.Context, queue string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Queue: queue}
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.State {
		case StateWaiting:
			st.Waiting++
		case StateDelayed:
			st.Delayed++
		case StateActive:
			st.Active++
		case StateCompleted:
			st.Completed++
		case StateDead:
			st.Dead++
		}
	}
	return st, nil
}

// before orders by priority, then run time, then insertion.
func (s *MemoryStorage) before(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	return s.seq[a.ID] < s.seq[b.ID]
}

func (s *MemoryStorage) active(id string) (*Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.State != StateActive {
		return nil, ErrJobNotFound
	}
	return j, nil
}

func (s *MemoryStorage) recoverExpired(queue string, now time.Time) {
	for _, j := range s.jobs {
		if j.Queue != queue || j.State != StateActive || j.LockedUntil == nil || j.LockedUntil.After(now) {
			continue
		}
		if j.Attempts >= j.MaxAttempts {
			s.bury(j, "lock expired", now)
			continue
		}
		j.State = StateWaiting
		j.LastError = "lock expired"
		j.LockedBy, j.LockedUntil = "", nil
		j.UpdatedAt = now
	}
}

func (s *MemoryStorage) delay(j *Job, runAt time.Time, errMsg string, now time.Time) {
	j.State = StateDelayed
	j.RunAt = runAt
	j.LastError = errMsg
	j.UpdatedAt = now
	j.LockedBy, j.LockedUntil = "", nil
}

func (s *MemoryStorage) bury(j *Job, errMsg string, now time.Time) {
	j.State = StateDead
	j.LastError = errMsg
	j.FinishedAt = &now
	j.UpdatedAt = now
	j.LockedBy, j.LockedUntil = "", nil
	s.dead[j.Queue] = s.trim(append(s.dead[j.Queue], j.ID), s.retention.Dead)
}

// detach removes a finished job from its retention list before replacement.
func (s *MemoryStorage) detach(j *Job) {
	match := func(v string) bool { return v == j.ID }
	switch j.State {
	case StateCompleted:
		s.completed[j.Queue] = slices.DeleteFunc(s.completed[j.Queue], match)
	case StateDead:
		s.dead[j.Queue] = slices.DeleteFunc(s.dead[j.Queue], match)
	}
}

// trim drops the oldest ids beyond keep, deleting their jobs.
func (s *MemoryStorage) trim(ids []string, keep int) []string {
	keep = max(keep, 0)
	if len(ids) <= keep {
		return ids
	}
	drop := len(ids) - keep
	for _, id := range ids[:drop] {
		delete(s.jobs, id)
		delete(s.seq, id)
	}
	return slices.Clone(ids[drop:])
}
