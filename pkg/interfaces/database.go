package interfaces

import (
	"context"

	"campus/pkg/types"
)

// UserStore covers account lookup and creation.
type UserStore interface {
	// CreateUser returns ErrUserExists when the email is taken.
	CreateUser(ctx context.Context, user *types.User) error

	// GetUser returns ErrUserNotFound for unknown emails.
	GetUser(ctx context.Context, email string) (*types.User, error)
}

// MessageStore is the append-only chat log.
type MessageStore interface {
	AppendMessage(ctx context.Context, message *types.ChatMessage) error

	// RecentMessages returns at most limit messages, oldest first.
	RecentMessages(ctx context.Context, limit int) ([]*types.ChatMessage, error)
}

// ScheduleStore is the contract the reminder scheduler depends on.
// FUNCTIONAL DISCOVERY: MutateScheduleEntry is a read-modify-write executed
// atomically with respect to concurrent CRUD edits on the same entry
type ScheduleStore interface {
	// ListUsersWithSchedules returns every user that has at least one entry,
	// entries in timetable order.
	ListUsersWithSchedules(ctx context.Context) ([]*types.UserSchedule, error)

	// MutateScheduleEntry loads the entry, applies fn and writes it back.
	// found is false, with a nil error, when the entry no longer exists.
	MutateScheduleEntry(ctx context.Context, entryID string, fn func(entry *types.ScheduleEntry)) (found bool, err error)
}

// TimetableStore covers timetable CRUD.
type TimetableStore interface {
	// ReplaceTimetable drops the user's entries and inserts the given ones
	// in order, with cleared watermarks.
	ReplaceTimetable(ctx context.Context, email string, entries []*types.ScheduleEntry) error
	GetTimetable(ctx context.Context, email string) ([]*types.ScheduleEntry, error)
	AddScheduleEntry(ctx context.Context, email string, entry *types.ScheduleEntry) error
	GetScheduleEntry(ctx context.Context, entryID string) (*types.ScheduleEntry, error)
	DeleteScheduleEntry(ctx context.Context, email, entryID string) error
}

// TaskStore covers to-do CRUD.
type TaskStore interface {
	AddTask(ctx context.Context, task *types.Task) error
	ListTasks(ctx context.Context, email string) ([]*types.Task, error)
	UpdateTask(ctx context.Context, task *types.Task) error
	DeleteTask(ctx context.Context, email, taskID string) error
}

// Store is everything the SQLite manager provides.
type Store interface {
	UserStore
	MessageStore
	ScheduleStore
	TimetableStore
	TaskStore

	// HealthCheck verifies database connectivity.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and closes the database.
	Close() error
}
