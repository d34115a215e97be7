package breaker

import "time"

// State is the circuit state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Transition is passed to observers on every state change.
type Transition struct {
	Name   string
	From   State
	To     State
	Reason string
	At     time.Time
}

// Observer receives transitions. It is called outside the breaker lock and
// must not block for long.
type Observer func(Transition)

// Stats is a point-in-time health snapshot.
type Stats struct {
	Name                string        `json:"name"`
	State               string        `json:"state"`
	Calls               int64         `json:"calls"`
	Successes           int64         `json:"successes"`
	Failures            int64         `json:"failures"`
	ShortCircuits       int64         `json:"shortCircuits"`
	WindowFailures      int           `json:"windowFailures"`
	SuccessRate         float64       `json:"successRate"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	LastError           string        `json:"lastError,omitempty"`
	LastErrorAt         time.Time     `json:"lastErrorAt,omitzero"`
	LastSuccessAt       time.Time     `json:"lastSuccessAt,omitzero"`
	OpenedAt            time.Time     `json:"openedAt,omitzero"`
}
