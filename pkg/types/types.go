package types

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Layouts shared by the store, the scheduler and the HTTP layer.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// User is an account keyed by email.
type User struct {
	Email        string    `json:"email" db:"email"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password"` // bcrypt
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword returns nil when pwd matches the stored hash.
func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(pwd))
}

// ChatMessage is one entry of the chat log.
// ARCHITECTURAL DISCOVERY: messages are appended before they are fanned out,
// so the log is the source of truth for history replay
type ChatMessage struct {
	ID          string    `json:"id" db:"id"`
	SenderEmail string    `json:"sender_email" db:"sender_email"`
	Username    string    `json:"username" db:"username"`
	Content     string    `json:"content" db:"content"`
	Timestamp   time.Time `json:"timestamp" db:"created_at"`
}

// ChatInbound is the frame a client sends over the chat socket.
type ChatInbound struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// ChatOutbound is the frame the server fans out to every connection.
type ChatOutbound struct {
	Username string `json:"username"`
	Content  string `json:"content"`
	Time     string `json:"time"`
	IsSelf   bool   `json:"isSelf"`
}

// SystemEvent is a server-originated frame (errors, history markers).
type SystemEvent struct {
	Type      string    `json:"type"`
	Event     string    `json:"event"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSystemEvent builds a "system" frame.
func NewSystemEvent(event, message string) SystemEvent {
	return SystemEvent{
		Type:      "system",
		Event:     event,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// ScheduleEntry is one weekly timetable slot of a user.
// FUNCTIONAL DISCOVERY: LastNotified is a suppression watermark holding the local
// calendar date (DateLayout) of the last reminder, empty when none fired yet
type ScheduleEntry struct {
	ID           string `json:"id" db:"id"`
	UserEmail    string `json:"-" db:"user_email"`
	Position     int    `json:"-" db:"position"`
	CourseName   string `json:"course_name" db:"course_name" validate:"required,max=200"`
	DayOfWeek    string `json:"day_of_week" db:"day_of_week" validate:"required,weekday"`
	StartTime    string `json:"start_time" db:"start_time" validate:"required,clock"`
	EndTime      string `json:"end_time" db:"end_time" validate:"required,clock"`
	Location     string `json:"location" db:"location" validate:"max=200"`
	LastNotified string `json:"last_notified,omitempty" db:"last_notified"`
}

// StartOn combines the entry's start time with the calendar date of day,
// in day's location.
func (e *ScheduleEntry) StartOn(day time.Time) (time.Time, error) {
	hour, minute, err := ParseClock(e.StartTime)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, day.Location()), nil
}

// NotifiedOn reports whether the watermark equals the calendar date of day.
func (e *ScheduleEntry) NotifiedOn(day time.Time) bool {
	return e.LastNotified != "" && e.LastNotified == day.Format(DateLayout)
}

// SameSlot reports whether e and o name the same weekday and start time,
// comparing parsed values so "周三 8:00" equals "Wednesday 08:00".
// Unparseable labels fall back to exact string comparison.
func (e *ScheduleEntry) SameSlot(o *ScheduleEntry) bool {
	return sameWeekday(e.DayOfWeek, o.DayOfWeek) && sameClock(e.StartTime, o.StartTime)
}

func sameWeekday(a, b string) bool {
	wa, errA := ParseWeekday(a)
	wb, errB := ParseWeekday(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return wa == wb
}

func sameClock(a, b string) bool {
	ha, ma, errA := ParseClock(a)
	hb, mb, errB := ParseClock(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ha == hb && ma == mb
}

// UserSchedule groups a user's entries in timetable order.
type UserSchedule struct {
	Email    string
	Username string
	Entries  []*ScheduleEntry
}

// Task is a to-do item with a due date.
type Task struct {
	ID          string    `json:"id" db:"id"`
	UserEmail   string    `json:"-" db:"user_email"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	DueDate     string    `json:"due_date" db:"due_date"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// VideoUser is a participant currently present in the video room.
type VideoUser struct {
	Username string    `json:"username"`
	PeerID   string    `json:"peer_id"`
	JoinedAt time.Time `json:"-"`
}
