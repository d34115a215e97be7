package queue

import (
	"encoding/json"
	"time"
)

// State is the position of a job in its queue.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateDead      State = "dead"
)

// Priority values used across the service. Lower values are dequeued first.
const (
	PriorityUrgent  = 1
	PriorityHigh    = 5
	PriorityDefault = 10
	PriorityLow     = 15
)

// Job is one unit of work on a named queue.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	State       State           `json:"state"`
	RunAt       time.Time       `json:"runAt"`
	LockedUntil *time.Time      `json:"lockedUntil,omitempty"`
	LockedBy    string          `json:"lockedBy,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

func (j *Job) clone() *Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.LockedUntil != nil {
		t := *j.LockedUntil
		c.LockedUntil = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// pending reports whether the job may still be removed or replaced.
func (j *Job) pending() bool {
	return j.State == StateWaiting || j.State == StateDelayed
}

// JobHandle identifies an enqueued job.
type JobHandle struct {
	ID       string    `json:"id"`
	Queue    string    `json:"queue"`
	Priority int       `json:"priority"`
	RunAt    time.Time `json:"runAt"`
}

// Stats counts jobs per state for one queue.
type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int    `json:"waiting"`
	Delayed   int    `json:"delayed"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Dead      int    `json:"dead"`
}

// Retention bounds the completed and dead sets per queue. Oldest entries are
// dropped first; zero keeps nothing.
type Retention struct {
	Completed int
	Dead      int
}

// DefaultRetention keeps the last 100 completed and 1000 dead jobs per queue.
var DefaultRetention = Retention{Completed: 100, Dead: 1000}
