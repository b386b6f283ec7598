package ws

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/dealer-support/internal/api/dto"
	"github.com/spec-kit/dealer-support/internal/domain"
	"github.com/spec-kit/dealer-support/internal/realtime"
	"github.com/spec-kit/dealer-support/internal/service"
	apperrors "github.com/spec-kit/dealer-support/pkg/util"
)

// Client to engine event names carried over the websocket.
const (
	eventChatJoin     = "chat.join"
	eventChatSend     = "chat.send"
	eventTicketCreate = "ticket.create"
	eventTicketStatus = "ticket.setStatus"
	eventTicketReply  = "ticket.reply"
)

// Handler serves the realtime endpoint: it authenticates the handshake,
// registers the connection, and runs the per-connection read loop.
type Handler struct {
	registry *realtime.Registry
	presence *realtime.Presence
	chat     *service.ChatService
	tickets  *service.TicketService
	logger   *zap.Logger
}

// NewHandler constructs the websocket handler.
func NewHandler(registry *realtime.Registry, presence *realtime.Presence, chat *service.ChatService, tickets *service.TicketService, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		presence: presence,
		chat:     chat,
		tickets:  tickets,
		logger:   logger,
	}
}

// Route returns the fiber handler for GET /ws/support.
func (h *Handler) Route() fiber.Handler {
	return websocket.New(h.handle)
}

// Upgrade gates the route so plain HTTP requests get a 426 instead of a
// hung upgrade.
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type clientEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type chatJoinPayload struct {
	CustomerID string `json:"customer_id"`
}

type chatSendPayload struct {
	CustomerID string `json:"customer_id"`
	Content    string `json:"content"`
}

type ticketCreatePayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ticketStatusPayload struct {
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
}

type ticketReplyPayload struct {
	TicketID string `json:"ticket_id"`
	Content  string `json:"content"`
}

func (h *Handler) handle(c *websocket.Conn) {
	token := c.Query("token")
	conn, err := h.registry.Register(c, token)
	if err != nil {
		// Unauthorized terminates the connection attempt.
		data, _ := json.Marshal(realtime.Event{
			Event:   realtime.EventError,
			Payload: realtime.ErrorPayload{Code: apperrors.CodeOf(err), Message: "invalid credential token"},
		})
		_ = c.WriteMessage(websocket.TextMessage, data)
		_ = c.Close()
		return
	}

	ctx := context.Background()
	h.presence.Connect(ctx, conn.Identity)
	defer func() {
		h.registry.Unregister(conn.ID)
		h.presence.Disconnect(ctx, conn.Identity)
	}()

	go conn.WritePump()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(ctx, conn, data)
	}
}

// dispatch routes one client event. Every failure is reported back over the
// same connection without tearing it down.
func (h *Handler) dispatch(ctx context.Context, conn *realtime.Connection, data []byte) {
	var evt clientEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		h.reportError(conn, apperrors.NewInvalidArgument("malformed event", nil))
		return
	}

	var err error
	switch evt.Event {
	case eventChatJoin:
		var p chatJoinPayload
		if err = unmarshalPayload(evt.Payload, &p); err == nil {
			err = h.chat.Join(ctx, conn, p.CustomerID)
		}
	case eventChatSend:
		var p chatSendPayload
		if err = unmarshalPayload(evt.Payload, &p); err == nil {
			err = h.chat.Send(ctx, conn, p.CustomerID, p.Content)
		}
	case eventTicketCreate:
		var p ticketCreatePayload
		if err = unmarshalPayload(evt.Payload, &p); err == nil {
			var ticket *domain.Ticket
			if ticket, err = h.tickets.Create(ctx, conn.Identity, p.Title, p.Description); err == nil {
				err = conn.Send(realtime.Event{Event: realtime.EventTicketUpdated, Payload: dto.FromTicket(ticket)})
			}
		}
	case eventTicketStatus:
		var p ticketStatusPayload
		if err = unmarshalPayload(evt.Payload, &p); err == nil {
			var ticket *domain.Ticket
			if ticket, err = h.tickets.SetStatus(ctx, conn.Identity, p.TicketID, domain.TicketStatus(p.Status)); err == nil {
				err = conn.Send(realtime.Event{Event: realtime.EventTicketUpdated, Payload: dto.FromTicket(ticket)})
			}
		}
	case eventTicketReply:
		var p ticketReplyPayload
		if err = unmarshalPayload(evt.Payload, &p); err == nil {
			var msg *domain.TicketMessage
			if msg, err = h.tickets.AppendMessage(ctx, conn.Identity, p.TicketID, p.Content); err == nil {
				err = conn.Send(realtime.Event{Event: realtime.EventTicketUpdated, Payload: dto.FromTicketMessage(msg)})
			}
		}
	default:
		err = apperrors.NewInvalidArgument("unknown event "+evt.Event, nil)
	}

	if err != nil {
		h.reportError(conn, err)
	}
}

func (h *Handler) reportError(conn *realtime.Connection, err error) {
	domainErr := apperrors.ToDomainError(err)
	if domainErr.HTTPStatus >= 500 {
		h.logger.Error("realtime request failed",
			zap.String("connection_id", conn.ID),
			zap.Error(domainErr))
	}
	_ = conn.Send(realtime.Event{
		Event:   realtime.EventError,
		Payload: realtime.ErrorPayload{Code: domainErr.Code, Message: domainErr.Message},
	})
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.NewInvalidArgument("malformed payload", nil)
	}
	return nil
}
