// Package hub routes message lifecycle events between the two
// participants of a conversation. The action side decides the recipient
// set per event type and publishes one envelope per recipient; the
// delivery side resolves the live connection and writes the frame,
// fire-and-forget.
package hub

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/duochat/go-duo-chat-server/bus"
	"github.com/duochat/go-duo-chat-server/logger"
	"github.com/duochat/go-duo-chat-server/metrics"
	"github.com/duochat/go-duo-chat-server/models"
	"github.com/duochat/go-duo-chat-server/presence"
)

type Hub struct {
	registry *presence.Registry
	pub      bus.Publisher
}

func New(registry *presence.Registry, pub bus.Publisher) *Hub {
	return &Hub{registry: registry, pub: pub}
}

// Notify publishes one event toward userID. The boolean reports whether
// a live connection existed at publish time; false means the event was
// dropped, which is not an error. Implements typing.Notifier.
func (h *Hub) Notify(userID, event string, payload interface{}) bool {
	if _, ok := h.registry.Lookup(userID); !ok {
		metrics.EventsDropped.WithLabelValues(event).Inc()
		return false
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Error("notify_marshal_failed", zap.String("event", event), zap.Error(err))
		return false
	}
	if err := h.pub.Publish(bus.Envelope{UserID: userID, Event: event, Data: data}); err != nil {
		logger.Log.Warn("notify_publish_failed",
			zap.String("event", event),
			zap.String("user", userID),
			zap.Error(err))
		return false
	}
	return true
}

// MessageCreated forwards a freshly stored message to the receiver only.
// The sender already holds the authoritative record from the synchronous
// creation response and must not receive an echo.
func (h *Hub) MessageCreated(m *models.Message) {
	h.Notify(m.ReceiverID, models.EventNewMessage, m)
}

// Delivered sends a delivery receipt to the message's sender.
func (h *Hub) Delivered(m *models.Message, userID string, at time.Time) {
	h.Notify(m.SenderID, models.EventMessageDelivered, models.ReceiptPayload{
		MessageID: m.ID, UserID: userID, Timestamp: at,
	})
}

// Read sends a read receipt to the message's sender.
func (h *Hub) Read(m *models.Message, userID string, at time.Time) {
	h.Notify(m.SenderID, models.EventMessageRead, models.ReceiptPayload{
		MessageID: m.ID, UserID: userID, Timestamp: at,
	})
}

// ReactionAdded fans the updated record out to both participants so a
// sender's second tab and the counterpart converge.
func (h *Hub) ReactionAdded(m *models.Message)   { h.toBoth(models.EventReactionAdded, m) }
func (h *Hub) ReactionRemoved(m *models.Message) { h.toBoth(models.EventReactionRemoved, m) }
func (h *Hub) Edited(m *models.Message)          { h.toBoth(models.EventMessageEdited, m) }
func (h *Hub) Deleted(m *models.Message)         { h.toBoth(models.EventMessageDeleted, m) }

// DeletedForMe only concerns the requester's own view.
func (h *Hub) DeletedForMe(m *models.Message, requesterID string) {
	h.Notify(requesterID, models.EventMessageDeletedForMe, m)
}

func (h *Hub) toBoth(event string, m *models.Message) {
	h.Notify(m.SenderID, event, m)
	h.Notify(m.ReceiverID, event, m)
}

// Connect registers a connection and broadcasts the online set. A prior
// connection for the same identity is evicted and closed by the
// registry; the connection count only grows for a genuinely new entry.
func (h *Hub) Connect(userID string, conn presence.Conn) {
	evicted := h.registry.Register(userID, conn)
	if evicted == nil {
		metrics.Connections.Inc()
	} else {
		logger.Log.Info("connection_evicted", zap.String("user", userID))
	}
	h.broadcastOnline()
}

// Disconnect vacates the presence slot if conn still owns it, then
// broadcasts the shrunken online set.
func (h *Hub) Disconnect(userID string, conn presence.Conn) {
	if h.registry.Unregister(userID, conn) {
		metrics.Connections.Dec()
		h.broadcastOnline()
	}
}

// HandleEnvelope is the delivery side: wire it to the bus subscription.
// It must not block; socket writes behind presence.Conn are buffered.
func (h *Hub) HandleEnvelope(env bus.Envelope) {
	conn, ok := h.registry.Lookup(env.UserID)
	if !ok {
		metrics.EventsDropped.WithLabelValues(env.Event).Inc()
		return
	}
	if err := conn.WriteJSON(models.Event{Name: env.Event, Data: env.Data}); err != nil {
		metrics.EventsDropped.WithLabelValues(env.Event).Inc()
		logger.Log.Warn("event_write_failed",
			zap.String("event", env.Event),
			zap.String("user", env.UserID),
			zap.Error(err))
		return
	}
	metrics.EventsEmitted.WithLabelValues(env.Event).Inc()
}

// broadcastOnline pushes the current online user set to every live
// connection. Snapshot first so no write happens under the registry lock.
func (h *Hub) broadcastOnline() {
	ids := h.registry.Online()
	ev, err := models.NewEvent(models.EventOnlineUsers, ids)
	if err != nil {
		return
	}
	for id, conn := range h.registry.Snapshot() {
		if err := conn.WriteJSON(ev); err != nil {
			logger.Log.Debug("online_broadcast_failed", zap.String("user", id), zap.Error(err))
		}
	}
}
