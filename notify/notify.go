// Package notify delivers verification emails through a pluggable transport.
// Delivery is best effort: callers dispatch and move on.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"certproof/config"
	"certproof/logger"
	"certproof/metrics"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindRequestCreated  Kind = "verification.requested"
	KindRequestApproved Kind = "verification.approved"
	KindRequestRejected Kind = "verification.rejected"

	KindCertificateIssued Kind = "certificate.issued"
)

type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Kind    Kind     `json:"kind"`

	// RequestID ties the message to a verification request for consumers of
	// the AMQP driver.
	RequestID string `json:"requestId,omitempty"`
}

type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// New builds the notifier selected by NOTIFY_DRIVER.
func New(cfg *config.Config) (Notifier, error) {
	switch strings.ToLower(cfg.NotifyDriver) {
	case "", "log":
		return NewLogNotifier(), nil
	case "smtp":
		return NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.EmailSender, cfg.Password, cfg.AppName), nil
	case "sendgrid":
		if cfg.SendgridAPIKey == "" {
			return nil, fmt.Errorf("notify: SENDGRID_API_KEY is required for the sendgrid driver")
		}
		return NewSendgridNotifier(cfg.SendgridAPIKey, cfg.EmailSender, cfg.AppName), nil
	case "amqp":
		return NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
	default:
		return nil, fmt.Errorf("notify: unknown driver %q", cfg.NotifyDriver)
	}
}

// Dispatcher sends messages in the background with a bounded timeout. A
// failed send is logged and counted, never returned.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
	log      zerolog.Logger
}

func NewDispatcher(n Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		notifier: n,
		timeout:  timeout,
		log:      logger.Component("notify").With().Str("driver", n.Name()).Logger(),
	}
}

func (d *Dispatcher) Dispatch(msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// detached from the request context: the HTTP response does not wait
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Send(ctx, msg); err != nil {
			metrics.Notifications.WithLabelValues(d.notifier.Name(), "failed").Inc()
			d.log.Warn().Err(err).Str("kind", string(msg.Kind)).Strs("to", msg.To).Msg("notification not delivered")
			return
		}
		metrics.Notifications.WithLabelValues(d.notifier.Name(), "sent").Inc()
		d.log.Debug().Str("kind", string(msg.Kind)).Strs("to", msg.To).Msg("notification sent")
	}()
}

// Wait blocks until every dispatched message has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
