package notify

import (
	"context"

	"certproof/logger"

	"github.com/rs/zerolog"
)

// LogNotifier writes messages to the log instead of delivering them. Used in
// development when no mail transport is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.Component("notify.log")}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.log.Info().
		Str("kind", string(msg.Kind)).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Str("requestId", msg.RequestID).
		Msg("email")
	return nil
}
