package types

import "errors"

var (
	ErrInvalidClock   = errors.New("time must be in HH:MM format")
	ErrInvalidWeekday = errors.New("unknown day of week")
	ErrInvalidDate    = errors.New("date must be in YYYY-MM-DD format")
	ErrValidation     = errors.New("validation failed")
)
