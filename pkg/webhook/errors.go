package webhook

import "errors"

var (
	ErrRepositoryNil  = errors.New("webhook: repository is required")
	ErrMissingSecret  = errors.New("webhook: secret is required")
	ErrMissingHeader  = errors.New("webhook: signature header missing")
	ErrSignature      = errors.New("webhook: signature mismatch")
	ErrStaleTimestamp = errors.New("webhook: timestamp outside tolerance")
	ErrBadTimestamp   = errors.New("webhook: timestamp cannot be parsed")
	ErrEmptyBody      = errors.New("webhook: empty body")
	ErrBodyTooLarge   = errors.New("webhook: body too large")
	ErrInvalidPayload = errors.New("webhook: invalid payload")
	ErrUnknownChannel = errors.New("webhook: channel not configured")
)
