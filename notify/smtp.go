package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

type SMTPNotifier struct {
	host     string
	port     string
	from     string
	password string
	fromName string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(host, port, from, password, fromName string) *SMTPNotifier {
	return &SMTPNotifier{
		host:     host,
		port:     port,
		from:     from,
		password: password,
		fromName: fromName,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPNotifier) Name() string { return "smtp" }

func (s *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	body := buildMIME(s.fromName, s.from, msg)
	auth := smtp.PlainAuth("", s.from, s.password, s.host)

	// net/smtp has no context support; abandon the send when ctx expires.
	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(s.host+":"+s.port, auth, s.from, msg.To, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func buildMIME(fromName, from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n")
	fmt.Fprintf(&b, "From: %s <%s>\r\n", fromName, from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ","))
	fmt.Fprintf(&b, "Subject: %s\r\n\r\n", msg.Subject)
	b.WriteString(msg.HTML)
	return []byte(b.String())
}
