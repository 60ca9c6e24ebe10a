package handlers

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/duochat/go-duo-chat-server/blob"
	"github.com/duochat/go-duo-chat-server/chaterrors"
	"github.com/duochat/go-duo-chat-server/hub"
	"github.com/duochat/go-duo-chat-server/identity"
	"github.com/duochat/go-duo-chat-server/logger"
	"github.com/duochat/go-duo-chat-server/models"
	"github.com/duochat/go-duo-chat-server/store"
)

// API is the REST surface. Every mutation returns the full updated
// Message record, the same shape the hub forwards over the realtime
// channel.
type API struct {
	store store.MessageStore
	hub   *hub.Hub
	blobs blob.Store
	ids   identity.Provider
}

func NewAPI(st store.MessageStore, h *hub.Hub, blobs blob.Store, ids identity.Provider) *API {
	return &API{store: st, hub: h, blobs: blobs, ids: ids}
}

// Register mounts the message routes under /api.
func (a *API) Register(app *fiber.App) {
	api := app.Group("/api")
	api.Post("/messages", a.createMessage)
	api.Get("/messages/:otherUserID", a.listConversation)
	api.Put("/messages/:id/read", a.markRead)
	api.Post("/messages/:id/reactions", a.addReaction)
	api.Delete("/messages/:id/reactions", a.removeReaction)
	api.Put("/messages/:id", a.editMessage)
	api.Delete("/messages/:id/everyone", a.deleteForEveryone)
	api.Delete("/messages/:id", a.deleteForMe)
}

func (a *API) user(c *fiber.Ctx) (identity.User, error) {
	u, err := a.ids.FromRequest(c)
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(chaterrors.HTTPStatus(err)).JSON(fiber.Map{"error": err.Error()})
}

type createMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	ReplyTo    string `json:"replyTo"`

	// Media arrives base64-encoded (optionally as a data URL) and is
	// handed to the blob store before the message is persisted.
	Image string `json:"image"`
	Video string `json:"video"`
	Audio string `json:"audio"`
}

// decodeMedia accepts raw base64 or a data URL and returns the bytes.
func decodeMedia(s string) ([]byte, error) {
	if i := strings.IndexByte(s, ','); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

func (a *API) createMessage(c *fiber.Ctx) error {
	u, err := a.user(c)
	if err != nil {
		return fail(c, err)
	}
	var req createMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, chaterrors.Validationf("invalid json"))
	}

	// Uploads happen first; any failure aborts creation entirely so no
	// partial message with a missing attachment is persisted.
	content := store.Content{Text: req.Text}
	uploads := []struct {
		kind blob.Kind
		raw  string
		dst  *string
	}{
		{blob.KindImage, req.Image, &content.Image},
		{blob.KindVideo, req.Video, &content.Video},
		{blob.KindAudio, req.Audio, &content.Audio},
	}
	for _, up := range uploads {
		if up.raw == "" {
			continue
		}
		data, err := decodeMedia(up.raw)
		if err != nil {
			return fail(c, chaterrors.Validationf("invalid %s encoding", up.kind))
		}
		url, err := a.blobs.Put(c.Context(), up.kind, data)
		if err != nil {
			return fail(c, err)
		}
		*up.dst = url
	}

	m, err := a.store.CreateMessage(c.Context(), u.ID, req.ReceiverID, content, req.ReplyTo)
	if err != nil {
		return fail(c, err)
	}
	a.hub.MessageCreated(m)
	return c.Status(fiber.StatusCreated).JSON(m)
}

// listConversation returns the full conversation with the other user,
// oldest first. Messages not yet delivered to the viewer are marked
// delivered lazily here, which is how an offline receiver's dropped
// newMessage events are reconciled.
func (a *API) listConversation(c *fiber.Ctx) error {
	u, err := a.user(c)
	if err != nil {
		return fail(c, err)
	}
	other := c.Params("otherUserID")
	msgs, err := a.store.FindConversation(c.Context(), u.ID, other)
	if err != nil {
		return fail(c, err)
	}

	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ReceiverID == u.ID && !m.DeliveredToUser(u.ID) {
			updated, err := a.store.MarkDelivered(c.Context(), m.ID, u.ID)
			if err != nil {
				logger.Log.Warn("lazy_delivery_failed", zap.String("msg_id", m.ID), zap.Error(err))
			} else {
				m = updated
				a.hub.Delivered(m, u.ID, receiptAt(m.DeliveredTo, u.ID))
			}
		}
		if m.HiddenFor(u.ID) {
			continue
		}
		out = append(out, m)
	}
	return c.JSON(out)
}

func receiptAt(receipts []models.Receipt, userID string) time.Time {
	for _, r := range receipts {
		if r.UserID == userID {
			return r.At
		}
	}
	return time.Time{}
}

func (a *API) markRead(c *fiber.Ctx) error {
	u, err := a.user(c)
	if err != nil {
		return fail(c, err)
	}
	m, err := a.store.MarkRead(c.Context(), c.Params("id"), u.ID)
	if err != nil {
		return fail(c, err)
	}
	a.hub.Read(m, u.ID, receiptAt(m.ReadBy, u.ID))
	return c.JSON(m)
}

func (a *API) addReaction(c *fiber.Ctx) error {
	u, err := a.user(c)
	if err != nil {
		return fail(c, err)
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, chaterrors.Validationf("invalid json"))
	}
	m, err := a.store.SetReaction(c.Context(), c.Params("id"), u.ID, req.Emoji)
	if err != nil {
		return fail(c, err)
	}
	a.hub.ReactionAdded(m)
	return c.JSON(m)
}

func (a *API) removeReaction(c *fiber.Ctx) error {
	u, err := a.user(c)
	if err != nil {
		return fail(c, err)
	}
	m, err := a.store.ClearReaction(c.Context(), c.Params("id"), u.ID)
	if err != nil {
		return fail(c, err)
	}
	a.hub.ReactionRemoved(m)
	return c.JSON(m)
}

func (a *API) editMessage(c *fiber.Ctx) error {
	u, err := a.user(c)
	if err != nil {
		return fail(c, err)
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, chaterrors.Validationf("invalid json"))
	}
	m, err := a.store.Edit(c.Context(), c.Params("id"), u.ID, req.Text)
	if err != nil {
		return fail(c, err)
	}
	a.hub.Edited(m)
	return c.JSON(m)
}

func (a *API) deleteForMe(c *fiber.Ctx) error {
	u, err := a.user(c)
	if err != nil {
		return fail(c, err)
	}
	m, err := a.store.DeleteForMe(c.Context(), c.Params("id"), u.ID)
	if err != nil {
		return fail(c, err)
	}
	a.hub.DeletedForMe(m, u.ID)
	return c.JSON(m)
}

func (a *API) deleteForEveryone(c *fiber.Ctx) error {
	u, err := a.user(c)
	if err != nil {
		return fail(c, err)
	}
	m, err := a.store.DeleteForEveryone(c.Context(), c.Params("id"), u.ID)
	if err != nil {
		return fail(c, err)
	}
	a.hub.Deleted(m)
	return c.JSON(m)
}
