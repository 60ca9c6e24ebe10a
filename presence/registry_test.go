package presence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duochat/go-duo-chat-server/presence"
)

type fakeConn struct {
	closed int
}

func (f *fakeConn) WriteJSON(v interface{}) error { return nil }
func (f *fakeConn) Close() error                  { f.closed++; return nil }

func TestRegisterLastConnectionWins(t *testing.T) {
	r := presence.NewRegistry()
	first := &fakeConn{}
	second := &fakeConn{}

	assert.Nil(t, r.Register("alice", first))
	evicted := r.Register("alice", second)

	assert.Same(t, first, evicted)
	assert.Equal(t, 1, first.closed, "evicted connection is closed")

	got, ok := r.Lookup("alice")
	assert.True(t, ok)
	assert.Same(t, second, got)
}

func TestUnregisterGuardsAgainstStaleDisconnect(t *testing.T) {
	r := presence.NewRegistry()
	old := &fakeConn{}
	fresh := &fakeConn{}

	r.Register("alice", old)
	r.Register("alice", fresh)

	// The stale connection's disconnect must not evict the new mapping.
	assert.False(t, r.Unregister("alice", old))
	_, ok := r.Lookup("alice")
	assert.True(t, ok)

	assert.True(t, r.Unregister("alice", fresh))
	_, ok = r.Lookup("alice")
	assert.False(t, ok)
}

func TestOnlineSnapshot(t *testing.T) {
	r := presence.NewRegistry()
	r.Register("bob", &fakeConn{})
	r.Register("alice", &fakeConn{})

	assert.Equal(t, []string{"alice", "bob"}, r.Online())

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
}

func TestLookupAbsent(t *testing.T) {
	r := presence.NewRegistry()
	_, ok := r.Lookup("ghost")
	assert.False(t, ok)
}
