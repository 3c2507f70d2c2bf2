package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// Publisher is the part of *amqp.Channel the notifier uses
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes notifications to a topic exchange with routing
// key "toolcrib.<kind>"
type AMQPNotifier struct {
	pub      Publisher
	exchange string
	log      Logger
	closers  []func() error
}

// NewAMQPNotifier wraps an already configured channel
func NewAMQPNotifier(pub Publisher, exchange string, log Logger) *AMQPNotifier {
	return &AMQPNotifier{pub: pub, exchange: exchange, log: log}
}

// DialAMQP connects, opens a channel and declares a durable topic exchange
func DialAMQP(url, exchange string, log Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	log.Info("amqp notifier connected", "exchange", exchange)

	n := NewAMQPNotifier(ch, exchange, log)
	n.closers = []func() error{ch.Close, conn.Close}
	return n, nil
}

// Notify publishes a persistent JSON message
func (n *AMQPNotifier) Notify(ctx context.Context, kind Kind, payload map[string]any) {
	ev := newEvent(kind, payload)
	body, err := json.Marshal(ev)
	if err != nil {
		n.log.Error("failed to encode notification", "kind", kind, "error", err)
		return
	}

	err = n.pub.Publish(n.exchange, "toolcrib."+string(kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.At,
		Headers: amqp.Table{
			"kind": string(kind),
		},
	})
	if err != nil {
		n.log.Warn("notification not delivered", "kind", kind, "exchange", n.exchange, "error", err)
	}
}

// Close closes the channel and connection opened by DialAMQP
func (n *AMQPNotifier) Close() error {
	var firstErr error
	for _, c := range n.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
