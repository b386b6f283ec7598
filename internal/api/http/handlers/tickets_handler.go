package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/dealer-support/internal/api/dto"
	"github.com/spec-kit/dealer-support/internal/auth"
	"github.com/spec-kit/dealer-support/internal/domain"
	"github.com/spec-kit/dealer-support/internal/service"
)

// TicketsHandler exposes the ticket lifecycle over REST for the surrounding
// site and admin backend; the websocket transport drives the same service.
type TicketsHandler struct {
	tickets *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets}
}

// Create handles POST /api/tickets.
func (h *TicketsHandler) Create(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}

	var req dto.TicketCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	ticket, err := h.tickets.Create(c.UserContext(), principal.Identity, req.Title, req.Description)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// List handles GET /api/tickets: own tickets, or all for staff, most
// recently active first.
func (h *TicketsHandler) List(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}

	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	// ?status=OPEN,IN_PROGRESS narrows the listing.
	var statuses []domain.TicketStatus
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, domain.TicketStatus(strings.ToUpper(strings.TrimSpace(part))))
		}
	}

	tickets, err := h.tickets.ListMine(c.UserContext(), principal.Identity, statuses, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTickets(tickets)})
}

// GetByKey handles GET /api/tickets/key/:key, addressing a ticket by its
// TCK reference.
func (h *TicketsHandler) GetByKey(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}

	ticket, msgs, err := h.tickets.GetByKey(c.UserContext(), principal.Identity, c.Params("key"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"ticket":   dto.FromTicket(ticket),
		"messages": dto.FromTicketMessages(msgs),
	}})
}

// Get handles GET /api/tickets/:id with the full thread.
func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}

	ticket, msgs, err := h.tickets.Get(c.UserContext(), principal.Identity, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"ticket":   dto.FromTicket(ticket),
		"messages": dto.FromTicketMessages(msgs),
	}})
}

// SetStatus handles PATCH /api/tickets/:id/status.
func (h *TicketsHandler) SetStatus(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}

	var req dto.TicketStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	ticket, err := h.tickets.SetStatus(c.UserContext(), principal.Identity, c.Params("id"), domain.TicketStatus(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// Reply handles POST /api/tickets/:id/messages.
func (h *TicketsHandler) Reply(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}

	var req dto.TicketReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	msg, err := h.tickets.AppendMessage(c.UserContext(), principal.Identity, c.Params("id"), req.Content)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.FromTicketMessage(msg)})
}
