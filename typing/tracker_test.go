package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/duochat/go-duo-chat-server/models"
)

type recordedEvent struct {
	userID  string
	event   string
	payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingNotifier) Notify(userID, event string, payload interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{userID, event, payload})
	return true
}

func (r *recordingNotifier) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func newTestTracker() (*Tracker, *recordingNotifier, *time.Time) {
	n := &recordingNotifier{}
	tr := NewTracker(n, 3*time.Second, time.Second)
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }
	return tr, n, &clock
}

func TestTypingNotifiesTarget(t *testing.T) {
	tr, n, _ := newTestTracker()

	tr.Typing("alice", "Alice", "bob")

	events := n.all()
	assert.Len(t, events, 1)
	assert.Equal(t, "bob", events[0].userID)
	assert.Equal(t, models.EventUserTyping, events[0].event)
	assert.Equal(t, models.TypingPayload{UserID: "alice", UserName: "Alice"}, events[0].payload)
}

func TestRepeatSignalResetsTimerWithoutReNotify(t *testing.T) {
	tr, n, clock := newTestTracker()

	tr.Typing("alice", "Alice", "bob")
	*clock = clock.Add(2 * time.Second)
	tr.Typing("alice", "Alice", "bob")
	assert.Len(t, n.all(), 1, "repeat signal to same target is not a transition")

	// Two more seconds would have expired the original entry, but the
	// repeat signal reset the idle timer.
	*clock = clock.Add(2 * time.Second)
	tr.Sweep()
	assert.Len(t, n.all(), 1)

	*clock = clock.Add(4 * time.Second)
	tr.Sweep()
	events := n.all()
	assert.Len(t, events, 2)
	assert.Equal(t, models.EventUserStoppedTyping, events[1].event)
}

func TestExplicitStop(t *testing.T) {
	tr, n, _ := newTestTracker()

	tr.Typing("alice", "Alice", "bob")
	tr.Stop("alice")

	events := n.all()
	assert.Len(t, events, 2)
	assert.Equal(t, "bob", events[1].userID)
	assert.Equal(t, models.EventUserStoppedTyping, events[1].event)
	assert.Equal(t, models.StoppedTypingPayload{UserID: "alice"}, events[1].payload)

	// Stopping when idle emits nothing.
	tr.Stop("alice")
	assert.Len(t, n.all(), 2)
}

func TestSweepExpiresIdleTypist(t *testing.T) {
	tr, n, clock := newTestTracker()

	tr.Typing("alice", "Alice", "bob")
	*clock = clock.Add(4 * time.Second)
	tr.Sweep()

	events := n.all()
	assert.Len(t, events, 2)
	assert.Equal(t, models.EventUserStoppedTyping, events[1].event)
	assert.Equal(t, "bob", events[1].userID)

	// Entry is gone; another sweep is silent.
	tr.Sweep()
	assert.Len(t, n.all(), 2)
}

func TestTargetSwitchStopsOldTarget(t *testing.T) {
	tr, n, _ := newTestTracker()

	tr.Typing("alice", "Alice", "bob")
	tr.Typing("alice", "Alice", "carol")

	events := n.all()
	assert.Len(t, events, 3)
	assert.Equal(t, "bob", events[1].userID)
	assert.Equal(t, models.EventUserStoppedTyping, events[1].event)
	assert.Equal(t, "carol", events[2].userID)
	assert.Equal(t, models.EventUserTyping, events[2].event)
}

func TestDropIsSilent(t *testing.T) {
	tr, n, clock := newTestTracker()

	tr.Typing("alice", "Alice", "bob")
	tr.Drop("alice")
	assert.Len(t, n.all(), 1, "drop sends no stop notification")

	*clock = clock.Add(10 * time.Second)
	tr.Sweep()
	assert.Len(t, n.all(), 1)
}
