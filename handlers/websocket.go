package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/duochat/go-duo-chat-server/config"
	"github.com/duochat/go-duo-chat-server/hub"
	"github.com/duochat/go-duo-chat-server/identity"
	"github.com/duochat/go-duo-chat-server/logger"
	"github.com/duochat/go-duo-chat-server/models"
	"github.com/duochat/go-duo-chat-server/store"
	"github.com/duochat/go-duo-chat-server/typing"
)

// Typist is the websocket handler's view of the typing tracker.
type Typist interface {
	Typing(userID, userName, targetID string)
	Stop(userID string)
	Drop(userID string)
}

var _ Typist = (*typing.Tracker)(nil)

// Client wraps one websocket connection behind a buffered send channel
// so the hub's delivery goroutine never writes the socket directly.
// It satisfies presence.Conn.
type Client struct {
	conn *websocket.Conn
	user identity.User

	send      chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, user identity.User) *Client {
	return &Client{
		conn: conn,
		user: user,
		send: make(chan interface{}, 256),
		done: make(chan struct{}),
	}
}

// WriteJSON enqueues a frame for the writer pump. It never blocks: a
// full buffer or a closed client drops the frame, matching the
// fire-and-forget delivery contract.
func (c *Client) WriteJSON(v interface{}) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- v:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close signals the pumps to shut the connection down. Idempotent; also
// called by the presence registry when a newer login evicts this one.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// writePump is the single goroutine allowed to write the socket. It
// drains the send channel and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logger.Log.Debug("writer_closed", zap.String("user", c.user.ID))
	}()

	for {
		select {
		case v := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteJSON(v); err != nil {
				logger.Log.Debug("ws_write_error", zap.String("user", c.user.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// signal is the only inbound frame shape the realtime channel accepts;
// everything state-changing goes over the REST surface.
type signal struct {
	Event string `json:"event"`
	Data  struct {
		TargetUserID string `json:"targetUserId"`
	} `json:"data"`
}

// readPump consumes typing signals until the connection drops. A token
// bucket absorbs signal floods; excess signals are discarded.
func (c *Client) readPump(tracker Typist) {
	defer c.Close()

	c.conn.SetReadLimit(config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	limiter := rate.NewLimiter(rate.Limit(10), 20)
	for {
		var sig signal
		if err := c.conn.ReadJSON(&sig); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Debug("ws_read_error", zap.String("user", c.user.ID), zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			continue
		}

		switch sig.Event {
		case "typing":
			if sig.Data.TargetUserID == "" || sig.Data.TargetUserID == c.user.ID {
				continue
			}
			tracker.Typing(c.user.ID, c.user.Name, sig.Data.TargetUserID)
		case "stopTyping":
			tracker.Stop(c.user.ID)
		default:
			// Unknown signals are ignored rather than fatal.
		}
	}
}

// HandleWebSocket manages one connection's lifecycle: register with the
// hub, pump frames, and on exit atomically vacate the presence slot and
// drop any typing entry. In-flight durable writes started elsewhere are
// unaffected by the disconnect.
func HandleWebSocket(conn *websocket.Conn, h *hub.Hub, tracker Typist, st store.MessageStore) {
	user, ok := conn.Locals("user").(identity.User)
	if !ok || user.ID == "" {
		conn.Close()
		return
	}

	if err := st.PutUser(context.Background(), models.UserSummary{ID: user.ID, Name: user.Name}); err != nil {
		logger.Log.Warn("user_upsert_failed", zap.String("user", user.ID), zap.Error(err))
	}

	client := NewClient(conn, user)
	logger.Log.Info("client_connected", zap.String("user", user.ID))

	h.Connect(user.ID, client)
	defer func() {
		h.Disconnect(user.ID, client)
		tracker.Drop(user.ID)
		client.Close()
		logger.Log.Info("client_disconnected", zap.String("user", user.ID))
	}()

	go client.writePump()
	client.readPump(tracker)
}
