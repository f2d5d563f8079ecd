package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"campus/pkg/interfaces"
	"campus/pkg/types"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

var _ interfaces.Notifier = (*SendGridNotifier)(nil)

// SendGridNotifier delivers reminders through the SendGrid v3 mail API.
type SendGridNotifier struct {
	key  string
	host string
	from *sgmail.Email
	lead time.Duration
	log  zerolog.Logger
}

func NewSendGridNotifier(key, fromName, fromAddress string, lead time.Duration, log zerolog.Logger) *SendGridNotifier {
	return &SendGridNotifier{
		key:  key,
		host: sendgridHost,
		from: sgmail.NewEmail(fromName, fromAddress),
		lead: lead,
		log:  log.With().Str("component", "notifier").Str("driver", "sendgrid").Logger(),
	}
}

func (n *SendGridNotifier) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail("", msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(n.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	return m
}

// Send posts one mail. The call is abandoned, not cancelled, when ctx ends first.
func (n *SendGridNotifier) Send(ctx context.Context, recipient string, entry *types.ScheduleEntry) error {
	msg, err := Render(recipient, entry, n.lead)
	if err != nil {
		return err
	}

	req := sendgrid.GetRequest(n.key, sendgridEndpoint, n.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(n.prepare(msg))

	type result struct {
		res *rest.Response
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := sendgrid.API(req)
		done <- result{res, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, r.err)
		}
		if r.res.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%w: status %d: %s", ErrDeliveryFailed, r.res.StatusCode, r.res.Body)
		}
		n.log.Debug().Str("to", msg.To).Int("status", r.res.StatusCode).Msg("reminder sent")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, ctx.Err())
	}
}
