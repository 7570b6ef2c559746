// Package bridge supplies optional sinks that forward delivered
// records to an external message bus. Both bridges are pure
// subscribers — they hold no special position in the core, and must
// honor the same non-blocking-sink contract as any other ami.Sink.
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/inconshreveable/log15"
	"github.com/nats-io/nats.go"

	"github.com/sufficit/asterisk-manager-go/pkg/ami"
)

// NATSBridge publishes every delivered record as a subject
// "<prefix>.event.<provider>.<name>". It never blocks the caller: a
// publish failure is logged and dropped, matching the bus's own
// drop-and-log policy for a misbehaving subscriber.
type NATSBridge struct {
	conn   *nats.Conn
	prefix string
	log    log15.Logger

	mu     sync.Mutex
	closed bool
}

// NewNATSBridge wraps an already-connected *nats.Conn. prefix, if
// empty, defaults to "ami".
func NewNATSBridge(conn *nats.Conn, prefix string, logger log15.Logger) *NATSBridge {
	if prefix == "" {
		prefix = "ami"
	}
	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}
	return &NATSBridge{conn: conn, prefix: prefix, log: logger}
}

// Deliver implements ami.Sink.
func (b *NATSBridge) Deliver(providerTitle string, rec ami.Record) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}

	subject := fmt.Sprintf("%s.event.%s.%s", b.prefix, sanitize(providerTitle), recordName(rec))
	payload, err := json.Marshal(recordPayload(providerTitle, rec))
	if err != nil {
		b.log.Warn("failed to marshal record for nats publish", "error", err)
		return
	}
	if err := b.conn.Publish(subject, payload); err != nil {
		b.log.Warn("nats publish failed", "subject", subject, "error", err)
	}
}

// Close marks the bridge inactive and flushes the underlying
// connection; it does not close conn, which the caller owns.
func (b *NATSBridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.conn.Flush()
}

func sanitize(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_")
}

func recordName(rec ami.Record) string {
	switch v := rec.(type) {
	case *ami.Event:
		return sanitize(v.Name)
	case *ami.ActionResponse:
		return "response"
	default:
		return "unknown"
	}
}

func recordPayload(providerTitle string, rec ami.Record) map[string]interface{} {
	actionID, hasID := rec.ActionID()
	payload := map[string]interface{}{
		"provider": providerTitle,
		"extras":   rec.Extras(),
	}
	if hasID {
		payload["action_id"] = actionID
	}
	switch v := rec.(type) {
	case *ami.Event:
		payload["event"] = v.Name
	case *ami.ActionResponse:
		payload["response"] = string(v.Response)
		payload["message"] = v.Message
	}
	return payload
}
