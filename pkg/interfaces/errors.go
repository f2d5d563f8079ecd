package interfaces

import "errors"

// Store errors shared by every implementation.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("email already registered")
	ErrEntryNotFound = errors.New("schedule entry not found")
	ErrTaskNotFound  = errors.New("task not found")
)
