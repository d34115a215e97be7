package reminder

import "errors"

var (
	ErrQueueNil        = errors.New("reminder: queue is required")
	ErrSenderNil       = errors.New("reminder: sender is required")
	ErrNoFetcher       = errors.New("reminder: no booking fetcher configured")
	ErrBookingID       = errors.New("reminder: booking id is required")
	ErrInvalidDateTime = errors.New("reminder: service datetime cannot be parsed")
	ErrServiceInPast   = errors.New("reminder: service datetime is not in the future")
	ErrNoContact       = errors.New("reminder: booking has neither phone nor email")
	ErrUnknownType     = errors.New("reminder: unknown reminder type")
	ErrInvalidPayload  = errors.New("reminder: invalid job payload")
	ErrBookingNotFound = errors.New("reminder: booking not found")
	ErrBookingAPIURL   = errors.New("reminder: booking api url is required")
)
