package notify

import (
	"fmt"
	"strings"
	"time"

	"campus/pkg/types"
)

// ReminderSubject is the subject line of every class reminder.
const ReminderSubject = "Course reminder"

// Message is a rendered reminder ready for any transport.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Render builds the reminder for entry. lead is the notification window,
// mentioned in the body so the student knows how soon the class starts.
func Render(recipient string, entry *types.ScheduleEntry, lead time.Duration) (Message, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return Message{}, ErrNoRecipient
	}
	if entry == nil {
		return Message{}, ErrNilEntry
	}

	location := strings.TrimSpace(entry.Location)
	if location == "" {
		location = "TBA"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have a class starting within %d minutes: %s\n", int(lead.Minutes()), entry.CourseName)
	fmt.Fprintf(&b, "Time: %s", entry.StartTime)
	if entry.EndTime != "" {
		fmt.Fprintf(&b, "-%s", entry.EndTime)
	}
	fmt.Fprintf(&b, "  Location: %s\n", location)

	return Message{
		To:      recipient,
		Subject: ReminderSubject,
		Text:    b.String(),
	}, nil
}
