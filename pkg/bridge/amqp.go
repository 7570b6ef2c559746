package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/inconshreveable/log15"

	"github.com/sufficit/asterisk-manager-go/pkg/ami"
)

// AMQPBridge publishes to a topic exchange, using the same
// "<prefix>.event.<provider>.<name>" scheme as NATSBridge but as a
// routing key.
type AMQPBridge struct {
	channel  *amqp.Channel
	exchange string
	prefix   string
	log      log15.Logger

	mu     sync.Mutex
	closed bool
}

// NewAMQPBridge declares exchange as a topic exchange on ch and
// returns a bridge ready to publish to it. prefix defaults to "ami".
func NewAMQPBridge(ch *amqp.Channel, exchange, prefix string, logger log15.Logger) (*AMQPBridge, error) {
	if prefix == "" {
		prefix = "ami"
	}
	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, newBridgeError("declare exchange", err)
	}
	return &AMQPBridge{channel: ch, exchange: exchange, prefix: prefix, log: logger}, nil
}

// Deliver implements ami.Sink.
func (b *AMQPBridge) Deliver(providerTitle string, rec ami.Record) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}

	routingKey := fmt.Sprintf("%s.event.%s.%s", b.prefix, sanitize(providerTitle), recordName(rec))
	payload, err := json.Marshal(recordPayload(providerTitle, rec))
	if err != nil {
		b.log.Warn("failed to marshal record for amqp publish", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = b.channel.PublishWithContext(ctx, b.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		b.log.Warn("amqp publish failed", "routing_key", routingKey, "error", err)
	}
}

// Close marks the bridge inactive. The underlying channel/connection
// remain the caller's responsibility.
func (b *AMQPBridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func newBridgeError(msg string, cause error) error {
	return fmt.Errorf("bridge: %s: %w", msg, cause)
}
