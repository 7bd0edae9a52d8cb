package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes messages to an exchange; a separate mailer consumes
// them and performs delivery.
type AMQPNotifier struct {
	mu         sync.Mutex
	Conn       *amqp.Connection
	Channel    *amqp.Channel
	Exchange   string
	RoutingKey string
}

func NewAMQPNotifier(amqpURL, exchange, routingKey string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp declare exchange %s: %w", exchange, err)
	}

	return &AMQPNotifier{
		Conn:       conn,
		Channel:    ch,
		Exchange:   exchange,
		RoutingKey: routingKey,
	}, nil
}

func (a *AMQPNotifier) Name() string { return "amqp" }

func (a *AMQPNotifier) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Channel.PublishWithContext(ctx,
		a.Exchange,
		a.RoutingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         string(msg.Kind),
			MessageId:    msg.RequestID,
			Body:         body,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
		},
	)
}

func (a *AMQPNotifier) Close() {
	a.Channel.Close()
	a.Conn.Close()
}
