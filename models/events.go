package models

import (
	"encoding/json"
	"time"
)

// Realtime channel event names. These are wire constants; clients match
// on them verbatim.
const (
	EventNewMessage          = "newMessage"
	EventUserTyping          = "userTyping"
	EventUserStoppedTyping   = "userStoppedTyping"
	EventMessageDelivered    = "messageDelivered"
	EventMessageRead         = "messageRead"
	EventReactionAdded       = "reactionAdded"
	EventReactionRemoved     = "reactionRemoved"
	EventMessageEdited       = "messageEdited"
	EventMessageDeleted      = "messageDeleted"
	EventMessageDeletedForMe = "messageDeletedForMe"
	EventOnlineUsers         = "getOnlineUsers"
)

// Event is the frame written to a websocket connection.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals payload into an Event frame.
func NewEvent(name string, payload interface{}) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: b}, nil
}

// TypingPayload is the userTyping payload.
type TypingPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// StoppedTypingPayload is the userStoppedTyping payload.
type StoppedTypingPayload struct {
	UserID string `json:"userId"`
}

// ReceiptPayload is the messageDelivered / messageRead payload.
type ReceiptPayload struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}
