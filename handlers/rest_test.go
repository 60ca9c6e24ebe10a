package handlers_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duochat/go-duo-chat-server/blob"
	"github.com/duochat/go-duo-chat-server/bus"
	"github.com/duochat/go-duo-chat-server/chaterrors"
	"github.com/duochat/go-duo-chat-server/handlers"
	"github.com/duochat/go-duo-chat-server/hub"
	"github.com/duochat/go-duo-chat-server/identity"
	"github.com/duochat/go-duo-chat-server/models"
	"github.com/duochat/go-duo-chat-server/presence"
	"github.com/duochat/go-duo-chat-server/store"
)

type capturingPub struct {
	mu   sync.Mutex
	envs []bus.Envelope
}

func (p *capturingPub) Publish(env bus.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *capturingPub) all() []bus.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Envelope(nil), p.envs...)
}

type nullConn struct{}

func (nullConn) WriteJSON(v interface{}) error { return nil }
func (nullConn) Close() error                  { return nil }

type testServer struct {
	app *fiber.App
	reg *presence.Registry
	pub *capturingPub
	st  *store.PebbleStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.PutUser(ctx, models.UserSummary{ID: "alice", Name: "Alice"}))
	require.NoError(t, st.PutUser(ctx, models.UserSummary{ID: "bob", Name: "Bob"}))

	blobs, err := blob.NewDiskStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	reg := presence.NewRegistry()
	pub := &capturingPub{}
	h := hub.New(reg, pub)

	app := fiber.New()
	handlers.NewAPI(st, h, blobs, identity.HeaderProvider{}).Register(app)
	return &testServer{app: app, reg: reg, pub: pub, st: st}
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func decodeMessage(t *testing.T, raw []byte) models.Message {
	t.Helper()
	var m models.Message
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestCreateMessage(t *testing.T) {
	ts := newTestServer(t)

	resp, raw := ts.do(t, http.MethodPost, "/api/messages", "alice",
		fiber.Map{"receiverId": "bob", "text": "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	m := decodeMessage(t, raw)
	assert.Equal(t, "hello", m.Text)
	assert.Equal(t, "alice", m.SenderID)
	assert.True(t, m.DeliveredToUser("alice"))
	require.NotNil(t, m.Receiver)
	assert.Equal(t, "Bob", m.Receiver.Name)
}

func TestCreateMessageErrors(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/messages", "alice",
		fiber.Map{"receiverId": "bob"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "empty content")

	resp, _ = ts.do(t, http.MethodPost, "/api/messages", "alice",
		fiber.Map{"receiverId": "alice", "text": "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "self message")

	resp, _ = ts.do(t, http.MethodPost, "/api/messages", "alice",
		fiber.Map{"receiverId": "nobody", "text": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "unknown receiver")

	resp, _ = ts.do(t, http.MethodPost, "/api/messages", "",
		fiber.Map{"receiverId": "bob", "text": "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "missing identity")
}

func TestCreateMessageWithMedia(t *testing.T) {
	ts := newTestServer(t)

	img := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
	resp, raw := ts.do(t, http.MethodPost, "/api/messages", "alice",
		fiber.Map{"receiverId": "bob", "image": img})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	m := decodeMessage(t, raw)
	assert.True(t, strings.HasPrefix(m.Image, "/uploads/image/"), m.Image)
	assert.Empty(t, m.Text)

	resp, _ = ts.do(t, http.MethodPost, "/api/messages", "alice",
		fiber.Map{"receiverId": "bob", "image": "not!!base64"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type failingBlobs struct{}

func (failingBlobs) Put(ctx context.Context, kind blob.Kind, data []byte) (string, error) {
	return "", chaterrors.Upload(io.ErrUnexpectedEOF, string(kind))
}

func TestUploadFailureAbortsCreation(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.PutUser(context.Background(), models.UserSummary{ID: "bob"}))

	app := fiber.New()
	h := hub.New(presence.NewRegistry(), &capturingPub{})
	handlers.NewAPI(st, h, failingBlobs{}, identity.HeaderProvider{}).Register(app)
	ts := &testServer{app: app, st: st}

	img := base64.StdEncoding.EncodeToString([]byte("bytes"))
	resp, _ := ts.do(t, http.MethodPost, "/api/messages", "alice",
		fiber.Map{"receiverId": "bob", "text": "with attachment", "image": img})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	// No partial message without its attachment was persisted.
	msgs, err := st.FindConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestOfflineReceiverRecoversOnFetch(t *testing.T) {
	ts := newTestServer(t)

	// Bob is offline when alice sends: the hub drops the event.
	resp, raw := ts.do(t, http.MethodPost, "/api/messages", "alice",
		fiber.Map{"receiverId": "bob", "text": "catch up"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	m := decodeMessage(t, raw)
	assert.Empty(t, ts.pub.all(), "no live connection, nothing published")

	// Alice comes online so her delivery receipt can be captured.
	ts.reg.Register("alice", nullConn{})

	// Bob fetches the conversation: the message is there and his viewing
	// triggers a delivered receipt addressed to alice.
	resp, raw = ts.do(t, http.MethodGet, "/api/messages/alice", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(raw, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, m.ID, msgs[0].ID)
	assert.True(t, msgs[0].DeliveredToUser("bob"))

	envs := ts.pub.all()
	require.Len(t, envs, 1)
	assert.Equal(t, "alice", envs[0].UserID)
	assert.Equal(t, models.EventMessageDelivered, envs[0].Event)
	var p models.ReceiptPayload
	require.NoError(t, json.Unmarshal(envs[0].Data, &p))
	assert.Equal(t, m.ID, p.MessageID)
	assert.Equal(t, "bob", p.UserID)

	// A second fetch marks nothing new.
	_, _ = ts.do(t, http.MethodGet, "/api/messages/alice", "bob", nil)
	assert.Len(t, ts.pub.all(), 1)
}

func TestEditAndTombstoneFlow(t *testing.T) {
	ts := newTestServer(t)

	_, raw := ts.do(t, http.MethodPost, "/api/messages", "alice",
		fiber.Map{"receiverId": "bob", "text": "draft"})
	m := decodeMessage(t, raw)

	resp, _ := ts.do(t, http.MethodPut, "/api/messages/"+m.ID, "bob",
		fiber.Map{"text": "hijack"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw = ts.do(t, http.MethodPut, "/api/messages/"+m.ID, "alice",
		fiber.Map{"text": "final"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edited := decodeMessage(t, raw)
	assert.True(t, edited.Edited)
	assert.Equal(t, "final", edited.Text)

	resp, raw = ts.do(t, http.MethodDelete, "/api/messages/"+m.ID+"/everyone", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tomb := decodeMessage(t, raw)
	assert.True(t, tomb.DeletedForEveryone)
	assert.Empty(t, tomb.Text)

	resp, _ = ts.do(t, http.MethodPut, "/api/messages/"+m.ID, "alice",
		fiber.Map{"text": "undo"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReactionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	_, raw := ts.do(t, http.MethodPost, "/api/messages", "alice",
		fiber.Map{"receiverId": "bob", "text": "react to me"})
	m := decodeMessage(t, raw)

	resp, raw := ts.do(t, http.MethodPost, "/api/messages/"+m.ID+"/reactions", "bob",
		fiber.Map{"emoji": "👍"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeMessage(t, raw)
	require.Len(t, got.Reactions, 1)

	resp, raw = ts.do(t, http.MethodPost, "/api/messages/"+m.ID+"/reactions", "bob",
		fiber.Map{"emoji": "🎉"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decodeMessage(t, raw)
	require.Len(t, got.Reactions, 1, "second emoji replaces the first")
	assert.Equal(t, "🎉", got.Reactions[0].Emoji)

	resp, raw = ts.do(t, http.MethodDelete, "/api/messages/"+m.ID+"/reactions", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decodeMessage(t, raw)
	assert.Empty(t, got.Reactions)
}

func TestDeleteForMeHidesOnlyOwnView(t *testing.T) {
	ts := newTestServer(t)

	_, raw := ts.do(t, http.MethodPost, "/api/messages", "alice",
		fiber.Map{"receiverId": "bob", "text": "awkward"})
	m := decodeMessage(t, raw)

	resp, _ := ts.do(t, http.MethodDelete, "/api/messages/"+m.ID, "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, raw = ts.do(t, http.MethodGet, "/api/messages/alice", "bob", nil)
	var bobView []models.Message
	require.NoError(t, json.Unmarshal(raw, &bobView))
	assert.Empty(t, bobView)

	_, raw = ts.do(t, http.MethodGet, "/api/messages/bob", "alice", nil)
	var aliceView []models.Message
	require.NoError(t, json.Unmarshal(raw, &aliceView))
	require.Len(t, aliceView, 1)
	assert.Equal(t, "awkward", aliceView[0].Text)
}
