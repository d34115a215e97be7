package breaker

import (
	"errors"
	"fmt"
)

var (
	// ErrOpen is returned without calling the wrapped function while the circuit is open.
	ErrOpen = errors.New("breaker: circuit open")

	// ErrTooManyTrials is returned in half-open state once the trial slots are taken.
	// It matches ErrOpen with errors.Is.
	ErrTooManyTrials = fmt.Errorf("%w: half-open trial limit reached", ErrOpen)
)

// IsShortCircuit reports whether err came from the breaker rather than the call.
func IsShortCircuit(err error) bool {
	return errors.Is(err, ErrOpen)
}
