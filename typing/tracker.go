// Package typing tracks ephemeral "who is typing to whom" state with
// timeout-based expiry. Expiry is detected by a periodic sweep, so the
// sweep interval bounds worst-case stop-notification latency.
package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/duochat/go-duo-chat-server/logger"
	"github.com/duochat/go-duo-chat-server/models"
)

// Notifier pushes an event toward a user's live connection. The return
// value reports whether a live connection existed; it never blocks on
// socket acknowledgment.
type Notifier interface {
	Notify(userID, event string, payload interface{}) bool
}

type entry struct {
	target   string
	typist   string
	name     string
	lastSeen time.Time
}

// Tracker holds one typing entry per user. Idle entries are expired by
// Sweep, which Run invokes on a fixed interval independent of message
// delivery.
type Tracker struct {
	mu       sync.Mutex
	entries  map[string]entry
	idle     time.Duration
	interval time.Duration
	notifier Notifier
	now      func() time.Time
}

func NewTracker(notifier Notifier, idle, interval time.Duration) *Tracker {
	return &Tracker{
		entries:  make(map[string]entry),
		idle:     idle,
		interval: interval,
		notifier: notifier,
		now:      time.Now,
	}
}

// Typing records a typing signal from user toward target. A repeat
// signal to the same target only resets the idle timer; switching
// targets stops the old one and starts the new one.
func (t *Tracker) Typing(userID, userName, targetID string) {
	t.mu.Lock()
	prev, had := t.entries[userID]
	t.entries[userID] = entry{target: targetID, typist: userID, name: userName, lastSeen: t.now()}
	t.mu.Unlock()

	if had && prev.target == targetID {
		return
	}
	if had {
		t.notifier.Notify(prev.target, models.EventUserStoppedTyping, models.StoppedTypingPayload{UserID: userID})
	}
	t.notifier.Notify(targetID, models.EventUserTyping, models.TypingPayload{UserID: userID, UserName: userName})
}

// Stop clears the user's typing entry and notifies the target.
func (t *Tracker) Stop(userID string) {
	t.mu.Lock()
	prev, had := t.entries[userID]
	delete(t.entries, userID)
	t.mu.Unlock()

	if had {
		t.notifier.Notify(prev.target, models.EventUserStoppedTyping, models.StoppedTypingPayload{UserID: userID})
	}
}

// Drop removes the user's entry without notification. Used on
// disconnect; the stop signal is best-effort only.
func (t *Tracker) Drop(userID string) {
	t.mu.Lock()
	delete(t.entries, userID)
	t.mu.Unlock()
}

// Sweep expires entries idle past the window and notifies their targets.
// Notifications happen after the lock is released.
func (t *Tracker) Sweep() {
	cutoff := t.now().Add(-t.idle)

	t.mu.Lock()
	var expired []entry
	for id, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, e := range expired {
		t.notifier.Notify(e.target, models.EventUserStoppedTyping, models.StoppedTypingPayload{UserID: e.typist})
	}
}

// Run sweeps on the tracker's interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-ctx.Done():
			logger.Log.Info("typing_sweeper_stopped", zap.Error(ctx.Err()))
			return
		}
	}
}
