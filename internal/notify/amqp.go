package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	exchangeName = "riscambio.transactions"
	exchangeKind = "topic"
)

// AMQPNotifier publishes status events to a durable topic exchange with the
// routing key "transaction.<kind>.<next_status>".
type AMQPNotifier struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewAMQPNotifier dials the broker with a bounded timeout and declares the
// exchange.
func NewAMQPNotifier(amqpURL string) (*AMQPNotifier, error) {
	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, exchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPNotifier{conn: conn, channel: ch}, nil
}

func (n *AMQPNotifier) PublishStatusEvent(ctx context.Context, event StatusEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}

	routingKey := fmt.Sprintf("transaction.%s.%s", event.Kind, event.NextStatus)
	err = n.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		// One reopen attempt before giving up; callers swallow the error
		// anyway, this just heals a dropped channel.
		ch, chErr := n.conn.Channel()
		if chErr != nil {
			return fmt.Errorf("publish status event: %w", err)
		}
		n.channel = ch
		if err := n.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    event.OccurredAt,
			Body:         body,
		}); err != nil {
			return fmt.Errorf("publish status event after reopen: %w", err)
		}
	}
	return nil
}

func (n *AMQPNotifier) Close() {
	if n.channel != nil {
		if err := n.channel.Close(); err != nil {
			zap.L().Warn("close amqp channel", zap.Error(err))
		}
	}
	if n.conn != nil {
		if err := n.conn.Close(); err != nil {
			zap.L().Warn("close amqp connection", zap.Error(err))
		}
	}
}
