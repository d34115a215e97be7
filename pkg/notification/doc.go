// Package notification defines the notification record, its lifecycle and
// its persistence.
//
// A Notification moves through the statuses below. Transitions are driven by
// Events and validated by Apply; repositories call Apply inside their own
// critical section (a mutex for MemoryRepository, SELECT ... FOR UPDATE for
// PostgresRepository) so concurrent workers and webhook callbacks never
// interleave on one row.
//
//	SCHEDULED --activate--> PENDING --start_sending--> SENDING
//	SENDING --sent--> SENT --deliver--> DELIVERED --read--> READ
//	SENDING --fail--> RETRYING (attempts left) | FAILED
//	RETRYING --start_sending--> SENDING
//	SENT/DELIVERED --bounce--> FAILED
//	SCHEDULED/PENDING/RETRYING --cancel--> CANCELLED, --expire--> EXPIRED
//	FAILED --requeue--> PENDING
//
// READ has no outgoing transition, so late delivery callbacks cannot regress
// it. Attempts is only incremented by start_sending and never passes
// MaxAttempts.
//
// The package also carries the failure taxonomy (ErrValidation,
// ErrRateLimited, ErrAdapterTransient, ...) shared by every other component.
package notification
