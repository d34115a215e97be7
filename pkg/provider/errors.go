package provider

import (
	"errors"
	"fmt"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

var (
	ErrInvalidConfig = errors.New("provider: invalid configuration")
	ErrNoAdapter     = errors.New("provider: no adapter registered for channel")
	ErrWrongChannel  = errors.New("provider: envelope channel does not match adapter")
)

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", notification.ErrAdapterTransient, err)
}

// Terminal marks err as not retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", notification.ErrAdapterTerminal, err)
}

// IsTerminal reports whether a send failure must not be retried.
// Unclassified errors count as transient.
func IsTerminal(err error) bool {
	return errors.Is(err, notification.ErrAdapterTerminal)
}
