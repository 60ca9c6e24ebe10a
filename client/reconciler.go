// Package client is the sending-side reconciliation layer: it maintains
// an optimistic local copy of a not-yet-confirmed message, reconciles it
// against the server record, and suppresses the duplicate insertion that
// would otherwise happen when the confirmation arrives both as the API
// response and as a replayed hub event.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duochat/go-duo-chat-server/models"
)

// Draft is what the user asked to send.
type Draft struct {
	Text    string
	ReplyTo string
	Image   []byte
	Video   []byte
	Audio   []byte
}

// SendFunc performs the durable creation request and returns the
// authoritative record.
type SendFunc func(ctx context.Context, draft Draft) (*models.Message, error)

// ReleaseFunc frees a fabricated local preview resource.
type ReleaseFunc func(url string)

// Conversation is the visible message list for one open two-party chat.
type Conversation struct {
	mu          sync.Mutex
	selfID      string
	counterpart string

	visible []*models.Message
	index   map[string]int // message id -> position in visible

	pending *pendingSet
	send    SendFunc
	release ReleaseFunc
}

// NewConversation opens a reconciling view of the chat with counterpart.
// pendingTTL bounds how long a confirmed id shields against hub replays.
func NewConversation(selfID, counterpart string, send SendFunc, release ReleaseFunc, pendingTTL time.Duration) *Conversation {
	if release == nil {
		release = func(string) {}
	}
	return &Conversation{
		selfID:      selfID,
		counterpart: counterpart,
		index:       make(map[string]int),
		pending:     newPendingSet(pendingTTL),
		send:        send,
		release:     release,
	}
}

// Load replaces the visible list with an authoritative fetch result.
func (c *Conversation) Load(msgs []*models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = c.visible[:0]
	c.index = make(map[string]int)
	for _, m := range msgs {
		c.appendLocked(m.Clone())
	}
}

// Send inserts an optimistic placeholder immediately, issues the durable
// creation request, and reconciles the result. On failure the
// placeholder is rolled back and the error returned; nothing is retried.
func (c *Conversation) Send(ctx context.Context, draft Draft) (*models.Message, error) {
	placeholder := c.placeholder(draft)

	c.mu.Lock()
	c.appendLocked(placeholder)
	c.mu.Unlock()

	m, err := c.send(ctx, draft)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.releasePreviews(placeholder)
	if err != nil {
		c.removeLocked(placeholder.ID)
		return nil, err
	}

	c.replaceLocked(placeholder.ID, m.Clone())
	c.pending.Add(m.ID)
	return m, nil
}

// AcceptIncoming applies a newMessage event. The message is inserted
// only when it belongs to this conversation, is not already visible,
// and is not a replay of a send we just confirmed ourselves.
func (c *Conversation) AcceptIncoming(m *models.Message) bool {
	if m.SenderID != c.counterpart {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[m.ID]; ok {
		return false
	}
	if c.pending.Contains(m.ID) {
		return false
	}
	c.appendLocked(m.Clone())
	return true
}

// ApplyDelivered merges a delivery receipt; duplicate receipts are
// no-ops, so out-of-order application commutes.
func (c *Conversation) ApplyDelivered(messageID, userID string, at time.Time) {
	c.applyReceipt(messageID, userID, at, false)
}

// ApplyRead merges a read receipt with the same idempotent semantics.
func (c *Conversation) ApplyRead(messageID, userID string, at time.Time) {
	c.applyReceipt(messageID, userID, at, true)
}

func (c *Conversation) applyReceipt(messageID, userID string, at time.Time, read bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[messageID]
	if !ok {
		return
	}
	m := c.visible[i]
	if read {
		if !m.ReadByUser(userID) {
			m.ReadBy = append(m.ReadBy, models.Receipt{UserID: userID, At: at})
		}
		return
	}
	if !m.DeliveredToUser(userID) {
		m.DeliveredTo = append(m.DeliveredTo, models.Receipt{UserID: userID, At: at})
	}
}

// ApplyAuthoritative replaces the local copy wholesale with the server
// record: edits, deletions and reaction changes are last-writer-wins,
// never field merges. Unknown ids are ignored.
func (c *Conversation) ApplyAuthoritative(m *models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.index[m.ID]; ok {
		c.visible[i] = m.Clone()
	}
}

// Remove drops a message from the visible list (deleted-for-me).
func (c *Conversation) Remove(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(messageID)
}

// Messages returns a snapshot of the visible conversation.
func (c *Conversation) Messages() []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Message, len(c.visible))
	for i, m := range c.visible {
		out[i] = m.Clone()
	}
	return out
}

func (c *Conversation) placeholder(draft Draft) *models.Message {
	tmp := "tmp-" + uuid.NewString()
	m := &models.Message{
		ID:           tmp,
		SenderID:     c.selfID,
		ReceiverID:   c.counterpart,
		Text:         draft.Text,
		ReplyTo:      draft.ReplyTo,
		CreatedAt:    time.Now().UTC(),
		IsOptimistic: true,
	}
	// Fabricated preview locations stand in for media until the blob
	// store returns durable URLs.
	if len(draft.Image) > 0 {
		m.Image = "preview://" + tmp + "/image"
	}
	if len(draft.Video) > 0 {
		m.Video = "preview://" + tmp + "/video"
	}
	if len(draft.Audio) > 0 {
		m.Audio = "preview://" + tmp + "/audio"
	}
	return m
}

func (c *Conversation) releasePreviews(placeholder *models.Message) {
	for _, url := range []string{placeholder.Image, placeholder.Video, placeholder.Audio} {
		if url != "" {
			c.release(url)
		}
	}
}

func (c *Conversation) appendLocked(m *models.Message) {
	c.index[m.ID] = len(c.visible)
	c.visible = append(c.visible, m)
}

func (c *Conversation) replaceLocked(oldID string, m *models.Message) {
	i, ok := c.index[oldID]
	if !ok {
		c.appendLocked(m)
		return
	}
	delete(c.index, oldID)
	c.visible[i] = m
	c.index[m.ID] = i
}

func (c *Conversation) removeLocked(messageID string) {
	i, ok := c.index[messageID]
	if !ok {
		return
	}
	delete(c.index, messageID)
	c.visible = append(c.visible[:i], c.visible[i+1:]...)
	for j := i; j < len(c.visible); j++ {
		c.index[c.visible[j].ID] = j
	}
}
