package models

import (
	"time"
)

// MaxTextLen is the longest text body a message may carry, after trimming.
const MaxTextLen = 2000

// UserSummary is the denormalized identity shape attached to event
// payloads so clients never need a second lookup.
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Receipt records that a user delivered or read a message at a point in time.
type Receipt struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"timestamp"`
}

// Reaction is a single user's emoji on a message. A user holds at most
// one reaction per message; setting a new emoji replaces the old one.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message is the central entity exchanged between exactly two users.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`

	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
	Video string `json:"video,omitempty"`
	Audio string `json:"audio,omitempty"`

	// ReplyTo references another message in the same conversation.
	ReplyTo string `json:"replyTo,omitempty"`

	Edited   bool       `json:"edited"`
	EditedAt *time.Time `json:"editedAt,omitempty"`

	Reactions   []Reaction `json:"reactions"`
	ReadBy      []Receipt  `json:"readBy"`
	DeliveredTo []Receipt  `json:"deliveredTo"`

	// DeletedForMe lists users who hid the message from their own view.
	DeletedForMe []string `json:"deletedForMe,omitempty"`

	// DeletedForEveryone marks a tombstone: content cleared, record kept.
	DeletedForEveryone bool `json:"deletedForEveryone"`

	CreatedAt time.Time `json:"createdAt"`

	// Read-model fields assembled by the store before the record leaves
	// the adapter; never persisted under these names.
	Sender         *UserSummary `json:"sender,omitempty"`
	Receiver       *UserSummary `json:"receiver,omitempty"`
	ReplyToMessage *Message     `json:"replyToMessage,omitempty"`

	// IsOptimistic marks a client-local placeholder that has not been
	// confirmed by the server. Server-produced records never set it.
	IsOptimistic bool `json:"isOptimistic,omitempty"`
}

// HasContent reports whether the message carries any text or media.
func (m *Message) HasContent() bool {
	return m.Text != "" || m.Image != "" || m.Video != "" || m.Audio != ""
}

// IsParticipant reports whether userID is the sender or the receiver.
func (m *Message) IsParticipant(userID string) bool {
	return userID == m.SenderID || userID == m.ReceiverID
}

// Counterpart returns the other participant relative to userID.
func (m *Message) Counterpart(userID string) string {
	if userID == m.SenderID {
		return m.ReceiverID
	}
	return m.SenderID
}

// DeliveredToUser reports whether userID already has a delivery receipt.
func (m *Message) DeliveredToUser(userID string) bool {
	for _, r := range m.DeliveredTo {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// ReadByUser reports whether userID already has a read receipt.
func (m *Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// ReactionOf returns userID's reaction, if any.
func (m *Message) ReactionOf(userID string) (Reaction, bool) {
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return r, true
		}
	}
	return Reaction{}, false
}

// HiddenFor reports whether userID deleted the message for themselves.
func (m *Message) HiddenFor(userID string) bool {
	for _, id := range m.DeletedForMe {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate independently.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Reactions = append([]Reaction(nil), m.Reactions...)
	cp.ReadBy = append([]Receipt(nil), m.ReadBy...)
	cp.DeliveredTo = append([]Receipt(nil), m.DeliveredTo...)
	cp.DeletedForMe = append([]string(nil), m.DeletedForMe...)
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	if m.Sender != nil {
		s := *m.Sender
		cp.Sender = &s
	}
	if m.Receiver != nil {
		r := *m.Receiver
		cp.Receiver = &r
	}
	if m.ReplyToMessage != nil {
		cp.ReplyToMessage = m.ReplyToMessage.Clone()
	}
	return &cp
}
