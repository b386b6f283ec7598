package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dealer-support/internal/realtime"
)

// PresenceHandler lets staff see which identities are currently connected.
type PresenceHandler struct {
	presence *realtime.Presence
}

// NewPresenceHandler constructs handler.
func NewPresenceHandler(presence *realtime.Presence) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Online handles GET /api/chat/presence.
func (h *PresenceHandler) Online(c *fiber.Ctx) error {
	online, err := h.presence.Online(c.UserContext())
	if err != nil {
		return err
	}
	if online == nil {
		online = []string{}
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"online": online}})
}
