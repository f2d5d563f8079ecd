package notify

import "errors"

var (
	ErrNoRecipient     = errors.New("notifier: recipient is empty")
	ErrNilEntry        = errors.New("notifier: schedule entry is nil")
	ErrDeliveryFailed  = errors.New("notifier: delivery failed")
	ErrUnknownDriver   = errors.New("notifier: unknown driver")
	ErrMissingSettings = errors.New("notifier: missing settings")
)
