// Package store holds the durable message adapter: the contract the
// delivery hub and REST surface depend on, plus the Pebble-backed
// implementation.
package store

import (
	"context"

	"github.com/duochat/go-duo-chat-server/models"
)

// Content is the creatable part of a message. Media fields are durable
// URLs returned by the blob store, never raw bytes.
type Content struct {
	Text  string
	Image string
	Video string
	Audio string
}

// MessageStore is the contract over durable message records. Every
// mutation returns the full updated record, already assembled with
// sender/receiver summaries, which is the exact shape the hub forwards.
type MessageStore interface {
	CreateMessage(ctx context.Context, senderID, receiverID string, content Content, replyTo string) (*models.Message, error)
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)

	// FindConversation returns every message between the two users,
	// ordered by creation time ascending.
	FindConversation(ctx context.Context, userA, userB string) ([]*models.Message, error)

	// MarkDelivered and MarkRead are idempotent set insertions.
	MarkDelivered(ctx context.Context, messageID, userID string) (*models.Message, error)
	MarkRead(ctx context.Context, messageID, userID string) (*models.Message, error)

	// SetReaction replaces any prior reaction by the same user.
	SetReaction(ctx context.Context, messageID, userID, emoji string) (*models.Message, error)
	ClearReaction(ctx context.Context, messageID, userID string) (*models.Message, error)

	Edit(ctx context.Context, messageID, editorID, newText string) (*models.Message, error)
	DeleteForMe(ctx context.Context, messageID, userID string) (*models.Message, error)
	DeleteForEveryone(ctx context.Context, messageID, requesterID string) (*models.Message, error)

	// User directory, fed by the identity boundary on connect.
	PutUser(ctx context.Context, u models.UserSummary) error
	GetUser(ctx context.Context, userID string) (*models.UserSummary, error)
	HasUser(ctx context.Context, userID string) (bool, error)
}
