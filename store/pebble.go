package store

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/duochat/go-duo-chat-server/chaterrors"
	"github.com/duochat/go-duo-chat-server/logger"
	"github.com/duochat/go-duo-chat-server/models"
)

const lockStripes = 64

// PebbleStore implements MessageStore on a Pebble database.
//
// Key layout:
//
//	user:<id>                          -> UserSummary JSON
//	msg:<id>                           -> Message JSON
//	conv:<a#b>:<padded_ts>-<padded_seq> -> message id
//
// The conv index keys sort by insertion time, so a prefix scan yields the
// conversation in creation order. Read-modify-write mutations on a single
// message are serialized by a striped mutex keyed on the message id.
type PebbleStore struct {
	db    *pebble.DB
	seq   uint64
	locks [lockStripes]sync.Mutex
}

// Open opens (or creates) the database at path.
func Open(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble db at %s", path)
	}
	logger.Log.Info("store_opened", zap.String("path", path))
	return &PebbleStore{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) lockFor(messageID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(messageID))
	return &s.locks[h.Sum32()%lockStripes]
}

func convKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "#" + pair[1]
}

func userKey(id string) []byte { return []byte("user:" + id) }
func msgKey(id string) []byte  { return []byte("msg:" + id) }

func (s *PebbleStore) convIndexKey(a, b string, ts int64) []byte {
	n := atomic.AddUint64(&s.seq, 1)
	return []byte(fmt.Sprintf("conv:%s:%020d-%06d", convKey(a, b), ts, n))
}

// CreateMessage validates and persists a new message. The sender gets a
// delivery receipt immediately; the message is delivered to its own
// author by definition.
func (s *PebbleStore) CreateMessage(ctx context.Context, senderID, receiverID string, content Content, replyTo string) (*models.Message, error) {
	text := strings.TrimSpace(content.Text)
	if utf8.RuneCountInString(text) > models.MaxTextLen {
		return nil, chaterrors.Validationf("text exceeds %d characters", models.MaxTextLen)
	}
	if senderID == receiverID {
		return nil, chaterrors.Validationf("cannot message yourself")
	}
	if text == "" && content.Image == "" && content.Video == "" && content.Audio == "" {
		return nil, chaterrors.Validationf("message has no content")
	}
	ok, err := s.HasUser(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chaterrors.NotFoundf("receiver %s", receiverID)
	}
	if replyTo != "" {
		parent, err := s.getRaw(replyTo)
		if err != nil {
			return nil, err
		}
		if convKey(parent.SenderID, parent.ReceiverID) != convKey(senderID, receiverID) {
			return nil, chaterrors.Validationf("replyTo message belongs to another conversation")
		}
	}

	now := time.Now().UTC()
	m := &models.Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Text:        text,
		Image:       content.Image,
		Video:       content.Video,
		Audio:       content.Audio,
		ReplyTo:     replyTo,
		Reactions:   []models.Reaction{},
		ReadBy:      []models.Receipt{},
		DeliveredTo: []models.Receipt{{UserID: senderID, At: now}},
		CreatedAt:   now,
	}

	if err := s.putRaw(m); err != nil {
		return nil, err
	}
	idx := s.convIndexKey(senderID, receiverID, now.UnixNano())
	if err := s.db.Set(idx, []byte(m.ID), pebble.Sync); err != nil {
		return nil, errors.Wrap(err, "write conversation index")
	}
	logger.Log.Info("message_created",
		zap.String("id", m.ID),
		zap.String("sender", senderID),
		zap.String("receiver", receiverID))
	return s.assemble(m)
}

// GetMessage returns the assembled record for messageID.
func (s *PebbleStore) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	m, err := s.getRaw(messageID)
	if err != nil {
		return nil, err
	}
	return s.assemble(m)
}

// FindConversation scans the conv index between the two users and
// returns assembled messages in creation order.
func (s *PebbleStore) FindConversation(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	prefix := []byte("conv:" + convKey(userA, userB) + ":")
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, errors.Wrap(err, "open conversation iterator")
	}
	defer iter.Close()

	var out []*models.Message
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Value())
		m, err := s.getRaw(id)
		if err != nil {
			logger.Log.Warn("dangling_conversation_index", zap.String("msg_id", id), zap.Error(err))
			continue
		}
		am, err := s.assemble(m)
		if err != nil {
			return nil, err
		}
		out = append(out, am)
	}
	return out, iter.Error()
}

// MarkDelivered appends a delivery receipt for userID; no-op if present.
func (s *PebbleStore) MarkDelivered(ctx context.Context, messageID, userID string) (*models.Message, error) {
	return s.mutate(messageID, func(m *models.Message) error {
		if !m.IsParticipant(userID) {
			return chaterrors.Permissionf("user %s is not a participant", userID)
		}
		if !m.DeliveredToUser(userID) {
			m.DeliveredTo = append(m.DeliveredTo, models.Receipt{UserID: userID, At: time.Now().UTC()})
		}
		return nil
	})
}

// MarkRead appends a read receipt for userID; no-op if present.
func (s *PebbleStore) MarkRead(ctx context.Context, messageID, userID string) (*models.Message, error) {
	return s.mutate(messageID, func(m *models.Message) error {
		if !m.IsParticipant(userID) {
			return chaterrors.Permissionf("user %s is not a participant", userID)
		}
		if !m.ReadByUser(userID) {
			m.ReadBy = append(m.ReadBy, models.Receipt{UserID: userID, At: time.Now().UTC()})
		}
		return nil
	})
}

// SetReaction records userID's emoji, replacing any prior reaction by
// the same user.
func (s *PebbleStore) SetReaction(ctx context.Context, messageID, userID, emoji string) (*models.Message, error) {
	if strings.TrimSpace(emoji) == "" {
		return nil, chaterrors.Validationf("empty emoji")
	}
	return s.mutate(messageID, func(m *models.Message) error {
		if !m.IsParticipant(userID) {
			return chaterrors.Permissionf("user %s is not a participant", userID)
		}
		if m.DeletedForEveryone {
			return chaterrors.Conflictf("message %s is deleted", messageID)
		}
		kept := m.Reactions[:0]
		for _, r := range m.Reactions {
			if r.UserID != userID {
				kept = append(kept, r)
			}
		}
		m.Reactions = append(kept, models.Reaction{UserID: userID, Emoji: emoji})
		return nil
	})
}

// ClearReaction removes userID's reaction; no-op when absent.
func (s *PebbleStore) ClearReaction(ctx context.Context, messageID, userID string) (*models.Message, error) {
	return s.mutate(messageID, func(m *models.Message) error {
		if !m.IsParticipant(userID) {
			return chaterrors.Permissionf("user %s is not a participant", userID)
		}
		if m.DeletedForEveryone {
			return chaterrors.Conflictf("message %s is deleted", messageID)
		}
		kept := m.Reactions[:0]
		for _, r := range m.Reactions {
			if r.UserID != userID {
				kept = append(kept, r)
			}
		}
		m.Reactions = kept
		return nil
	})
}

// Edit replaces the text body. Only the sender may edit; tombstones
// reject edits. editedAt moves forward even when the text is unchanged.
func (s *PebbleStore) Edit(ctx context.Context, messageID, editorID, newText string) (*models.Message, error) {
	text := strings.TrimSpace(newText)
	if utf8.RuneCountInString(text) > models.MaxTextLen {
		return nil, chaterrors.Validationf("text exceeds %d characters", models.MaxTextLen)
	}
	return s.mutate(messageID, func(m *models.Message) error {
		if editorID != m.SenderID {
			return chaterrors.Permissionf("only the sender may edit")
		}
		if m.DeletedForEveryone {
			return chaterrors.Conflictf("message %s is deleted", messageID)
		}
		if text == "" && m.Image == "" && m.Video == "" && m.Audio == "" {
			return chaterrors.Validationf("edit would leave message empty")
		}
		now := time.Now().UTC()
		m.Text = text
		m.Edited = true
		m.EditedAt = &now
		return nil
	})
}

// DeleteForMe hides the message from userID's own view only.
func (s *PebbleStore) DeleteForMe(ctx context.Context, messageID, userID string) (*models.Message, error) {
	return s.mutate(messageID, func(m *models.Message) error {
		if !m.IsParticipant(userID) {
			return chaterrors.Permissionf("user %s is not a participant", userID)
		}
		if !m.HiddenFor(userID) {
			m.DeletedForMe = append(m.DeletedForMe, userID)
		}
		return nil
	})
}

// DeleteForEveryone turns the record into a tombstone: content cleared,
// flag set. One-way; repeat calls are no-ops.
func (s *PebbleStore) DeleteForEveryone(ctx context.Context, messageID, requesterID string) (*models.Message, error) {
	return s.mutate(messageID, func(m *models.Message) error {
		if requesterID != m.SenderID {
			return chaterrors.Permissionf("only the sender may delete for everyone")
		}
		if m.DeletedForEveryone {
			return nil
		}
		m.DeletedForEveryone = true
		m.Text = ""
		m.Image = ""
		m.Video = ""
		m.Audio = ""
		return nil
	})
}

// PutUser upserts a directory entry for an identity.
func (s *PebbleStore) PutUser(ctx context.Context, u models.UserSummary) error {
	if u.ID == "" {
		return chaterrors.Validationf("empty user id")
	}
	b, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "marshal user")
	}
	return errors.Wrap(s.db.Set(userKey(u.ID), b, pebble.Sync), "write user")
}

// GetUser returns the directory entry for userID.
func (s *PebbleStore) GetUser(ctx context.Context, userID string) (*models.UserSummary, error) {
	v, closer, err := s.db.Get(userKey(userID))
	if err == pebble.ErrNotFound {
		return nil, chaterrors.NotFoundf("user %s", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read user")
	}
	defer closer.Close()
	var u models.UserSummary
	if err := json.Unmarshal(v, &u); err != nil {
		return nil, errors.Wrap(err, "decode user")
	}
	return &u, nil
}

// HasUser reports whether userID exists in the directory.
func (s *PebbleStore) HasUser(ctx context.Context, userID string) (bool, error) {
	_, closer, err := s.db.Get(userKey(userID))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "read user")
	}
	closer.Close()
	return true, nil
}

// mutate applies fn to the stored record under the message's stripe lock
// and persists the result. The durable write happens while holding only
// the stripe lock, never a presence or registry lock.
func (s *PebbleStore) mutate(messageID string, fn func(*models.Message) error) (*models.Message, error) {
	mu := s.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	m, err := s.getRaw(messageID)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	if err := s.putRaw(m); err != nil {
		return nil, err
	}
	return s.assemble(m)
}

func (s *PebbleStore) getRaw(messageID string) (*models.Message, error) {
	v, closer, err := s.db.Get(msgKey(messageID))
	if err == pebble.ErrNotFound {
		return nil, chaterrors.NotFoundf("message %s", messageID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read message")
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, errors.Wrap(err, "decode message")
	}
	return &m, nil
}

func (s *PebbleStore) putRaw(m *models.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	return errors.Wrap(s.db.Set(msgKey(m.ID), b, pebble.Sync), "write message")
}

// assemble attaches sender/receiver summaries and a one-level replyTo
// snapshot, so hub payloads carry everything a client renders.
func (s *PebbleStore) assemble(m *models.Message) (*models.Message, error) {
	out := m.Clone()
	if u, err := s.GetUser(context.Background(), m.SenderID); err == nil {
		out.Sender = u
	}
	if u, err := s.GetUser(context.Background(), m.ReceiverID); err == nil {
		out.Receiver = u
	}
	if m.ReplyTo != "" {
		if parent, err := s.getRaw(m.ReplyTo); err == nil {
			snap := parent.Clone()
			if u, err := s.GetUser(context.Background(), parent.SenderID); err == nil {
				snap.Sender = u
			}
			out.ReplyToMessage = snap
		}
	}
	return out, nil
}
