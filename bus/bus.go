// Package bus carries lifecycle events from the action side of the hub
// to the delivery side over NATS. Delivery is fire-and-forget: no acks,
// no retries; a dropped event is recovered only by the next
// authoritative fetch.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/duochat/go-duo-chat-server/logger"
)

const subjectPrefix = "chat.deliver"

// Envelope is one lifecycle event addressed to a single user.
type Envelope struct {
	UserID string          `json:"userId"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Publisher is the hub's send-side dependency. Tests substitute an
// in-process double; production uses NATS.
type Publisher interface {
	Publish(env Envelope) error
}

// Bus is the NATS-backed event bus.
type Bus struct {
	nc *nats.Conn
}

// Connect dials the NATS server at url.
func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Log.Info("bus_connected", zap.String("url", url))
	return &Bus{nc: nc}, nil
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

func subject(userID string) string {
	return fmt.Sprintf("%s.%s", subjectPrefix, userID)
}

// Publish sends env to the target user's subject. Core NATS pub/sub is
// used deliberately: an event for a user nobody is serving vanishes,
// matching the offline-receiver contract.
func (b *Bus) Publish(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := b.nc.Publish(subject(env.UserID), data); err != nil {
		return fmt.Errorf("failed to publish to subject '%s': %w", subject(env.UserID), err)
	}
	return nil
}

// Subscribe consumes every deliverable envelope and hands it to handler.
// The handler runs on the NATS delivery goroutine and must not block.
func (b *Bus) Subscribe(handler func(Envelope)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(subjectPrefix+".>", func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			logger.Log.Warn("bad_envelope", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to '%s.>': %w", subjectPrefix, err)
	}
	return sub, nil
}
