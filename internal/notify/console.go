package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"campus/pkg/interfaces"
	"campus/pkg/types"
)

var _ interfaces.Notifier = (*ConsoleNotifier)(nil)

// ConsoleNotifier writes reminders to the log instead of delivering them.
// Used in development and as the default driver.
type ConsoleNotifier struct {
	lead time.Duration
	log  zerolog.Logger

	mu   sync.Mutex
	sent []Message
}

func NewConsoleNotifier(lead time.Duration, log zerolog.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{
		lead: lead,
		log:  log.With().Str("component", "notifier").Str("driver", "console").Logger(),
	}
}

func (n *ConsoleNotifier) Send(ctx context.Context, recipient string, entry *types.ScheduleEntry) error {
	msg, err := Render(recipient, entry, n.lead)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n.log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("course", entry.CourseName).
		Str("start_time", entry.StartTime).
		Msg(msg.Text)

	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
	return nil
}

// Sent returns a copy of every message logged so far.
func (n *ConsoleNotifier) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.sent...)
}
