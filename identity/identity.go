// Package identity is the boundary to the external identity provider.
// The resolved identity is trusted and immutable for the lifetime of a
// request or connection; authentication itself lives outside this core.
package identity

import (
	"github.com/gofiber/fiber/v2"

	"github.com/duochat/go-duo-chat-server/chaterrors"
)

// User is the stable identity attached to every request and connection.
type User struct {
	ID   string
	Name string
}

// Provider resolves the identity for an inbound request.
type Provider interface {
	FromRequest(c *fiber.Ctx) (User, error)
}

// HeaderProvider trusts identity headers set by the fronting auth layer.
type HeaderProvider struct{}

func (HeaderProvider) FromRequest(c *fiber.Ctx) (User, error) {
	id := c.Get("X-User-Id")
	if id == "" {
		return User{}, chaterrors.Permissionf("missing identity")
	}
	name := c.Get("X-User-Name")
	if name == "" {
		name = id
	}
	return User{ID: id, Name: name}, nil
}
