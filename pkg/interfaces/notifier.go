package interfaces

import (
	"context"

	"campus/pkg/types"
)

// Notifier delivers a class reminder to a user. Transport is up to the
// implementation (email, push, console).
type Notifier interface {
	Send(ctx context.Context, recipient string, entry *types.ScheduleEntry) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, recipient string, entry *types.ScheduleEntry) error

func (f NotifierFunc) Send(ctx context.Context, recipient string, entry *types.ScheduleEntry) error {
	return f(ctx, recipient, entry)
}
