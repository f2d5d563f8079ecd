package api

import (
	"strings"

	"campus/pkg/types"
)

// Request bodies. Tags are checked through types.ValidateStruct.

type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type VideoRegisterRequest struct {
	Username string `json:"username" validate:"required,max=100"`
	PeerID   string `json:"peer_id" validate:"required,max=200"`
}

type VideoUnregisterRequest struct {
	Username string `json:"username" validate:"required"`
}

// EntryRequest adds or edits one timetable slot.
type EntryRequest struct {
	Email      string `json:"email" validate:"required,max=254"`
	CourseName string `json:"course_name"`
	DayOfWeek  string `json:"day_of_week"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Location   string `json:"location"`
}

func (r *EntryRequest) entry() *types.ScheduleEntry {
	return &types.ScheduleEntry{
		CourseName: r.CourseName,
		DayOfWeek:  r.DayOfWeek,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Location:   r.Location,
	}
}

// TaskForm is the form body of the task endpoints. ID is empty on add.
type TaskForm struct {
	Email       string `json:"email" validate:"required,max=254"`
	ID          string `json:"task_id"`
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=2000"`
	DueDate     string `json:"due_date" validate:"required"`
}

func trimAll(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}
