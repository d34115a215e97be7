package orchestrator

import "errors"

var (
	ErrRepositoryNil  = errors.New("orchestrator: repository is required")
	ErrQueueNil       = errors.New("orchestrator: queue is required")
	ErrAdaptersNil    = errors.New("orchestrator: adapter registry is required")
	ErrNoTemplates    = errors.New("orchestrator: message references a template but no template service is configured")
	ErrInvalidPayload = errors.New("orchestrator: invalid job payload")
	ErrInFlight       = errors.New("orchestrator: notification is being sent and cannot be cancelled")
	ErrNotCancellable = errors.New("orchestrator: notification is in a final state")
	ErrEmptyBatch     = errors.New("orchestrator: no messages to send")
)
