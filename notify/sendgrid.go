package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type SendgridNotifier struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

func NewSendgridNotifier(apiKey, from, fromName string) *SendgridNotifier {
	return &SendgridNotifier{
		client:   sendgrid.NewSendClient(apiKey),
		from:     from,
		fromName: fromName,
	}
}

func (s *SendgridNotifier) Name() string { return "sendgrid" }

func (s *SendgridNotifier) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(s.fromName, s.from)
	for _, to := range msg.To {
		email := mail.NewSingleEmail(from, msg.Subject, mail.NewEmail("", to), "", msg.HTML)
		resp, err := s.client.SendWithContext(ctx, email)
		if err != nil {
			return fmt.Errorf("sendgrid send: %w", err)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
		}
	}
	return nil
}
