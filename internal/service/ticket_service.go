package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/spec-kit/dealer-support/internal/domain"
	"github.com/spec-kit/dealer-support/internal/events"
	"github.com/spec-kit/dealer-support/internal/repository"
	apperrors "github.com/spec-kit/dealer-support/pkg/util"
)

// TicketService owns ticket creation, status transitions, and the
// append-only message thread. Independent of whether the submitter is
// currently connected.
type TicketService struct {
	tickets    repository.TicketRepository
	messages   repository.TicketMessageRepository
	dispatcher events.Dispatcher
	maxLength  int
}

// TicketDependencies bundles repositories for the ticket service.
type TicketDependencies struct {
	TicketRepo       repository.TicketRepository
	MessageRepo      repository.TicketMessageRepository
	Dispatcher       events.Dispatcher
	MaxContentLength int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	maxLength := deps.MaxContentLength
	if maxLength <= 0 {
		maxLength = 2000
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		dispatcher: deps.Dispatcher,
		maxLength:  maxLength,
	}
}

// Create opens a new ticket for the owner. Always starts OPEN.
func (s *TicketService) Create(ctx context.Context, owner domain.Identity, title, description string) (*domain.Ticket, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" {
		return nil, apperrors.NewInvalidArgument("title must not be empty", nil)
	}
	if description == "" {
		return nil, apperrors.NewInvalidArgument("description must not be empty", nil)
	}

	ticket := &domain.Ticket{
		ExternalKey: generateTicketKey(),
		OwnerID:     owner.ID,
		Title:       title,
		Description: description,
		Status:      domain.TicketStatusOpen,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    actorFor(owner),
		Payload: events.TicketCreatedPayload{
			OwnerID: ticket.OwnerID,
			Title:   ticket.Title,
		},
	})
	return ticket, nil
}

// SetStatus applies a validated status transition. The update is a single
// compare-and-set store call; a stale expectation surfaces as
// InvalidTransition.
func (s *TicketService) SetStatus(ctx context.Context, requester domain.Identity, ticketID string, next domain.TicketStatus) (*domain.Ticket, error) {
	if !domain.KnownStatus(next) {
		return nil, apperrors.NewInvalidArgument("unknown ticket status", map[string]any{
			"status": string(next),
		})
	}

	ticket, err := s.getForRequester(ctx, requester, ticketID)
	if err != nil {
		return nil, err
	}
	if !domain.ValidTransition(ticket.Status, next) {
		return nil, apperrors.NewInvalidTransition("illegal status transition", map[string]any{
			"from": string(ticket.Status),
			"to":   string(next),
		})
	}

	applied, err := s.tickets.CompareAndSetStatus(ctx, ticket.ID, ticket.Status, next)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if !applied {
		return nil, apperrors.NewInvalidTransition("ticket status changed concurrently", map[string]any{
			"expected": string(ticket.Status),
		})
	}

	oldStatus := ticket.Status
	ticket, err = s.tickets.GetByID(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Actor:    actorFor(requester),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: ticket.Status,
		},
	})
	return ticket, nil
}

// AppendMessage appends to the ticket thread. It never changes the ticket
// status; transitions are explicit-only.
func (s *TicketService) AppendMessage(ctx context.Context, sender domain.Identity, ticketID, content string) (*domain.TicketMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewInvalidArgument("message content must not be empty", nil)
	}
	if utf8.RuneCountInString(content) > s.maxLength {
		return nil, apperrors.NewInvalidArgument("message content too long", map[string]any{
			"max_length": s.maxLength,
		})
	}

	ticket, err := s.getForRequester(ctx, sender, ticketID)
	if err != nil {
		return nil, err
	}

	msg := &domain.TicketMessage{
		TicketID:     ticket.ID,
		SenderID:     sender.ID,
		IsStaffReply: sender.IsStaff,
		Content:      content,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if err := s.tickets.Touch(ctx, ticket.ID); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketMessageAppended,
		TicketID: ticket.ID,
		Actor:    actorFor(sender),
		Payload: events.TicketMessageAppendedPayload{
			MessageID:    msg.ID,
			SenderID:     msg.SenderID,
			IsStaffReply: msg.IsStaffReply,
			BodyPreview:  stringPreview(msg.Content, 120),
		},
	})
	return msg, nil
}

// ListMine returns the requester's tickets, or all tickets for staff, most
// recently active first. An optional status set narrows the listing.
func (s *TicketService) ListMine(ctx context.Context, identity domain.Identity, statuses []domain.TicketStatus, limit, offset int) ([]domain.Ticket, error) {
	for _, status := range statuses {
		if !domain.KnownStatus(status) {
			return nil, apperrors.NewInvalidArgument("unknown ticket status", map[string]any{
				"status": string(status),
			})
		}
	}

	filter := repository.TicketFilter{Statuses: statuses, Limit: limit, Offset: offset}
	if !identity.IsStaff {
		ownerID := identity.ID
		filter.OwnerID = &ownerID
	}
	tickets, err := s.tickets.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return tickets, nil
}

// Get fetches one ticket with its thread, enforcing owner-or-staff access.
func (s *TicketService) Get(ctx context.Context, requester domain.Identity, ticketID string) (*domain.Ticket, []domain.TicketMessage, error) {
	ticket, err := s.getForRequester(ctx, requester, ticketID)
	if err != nil {
		return nil, nil, err
	}
	return s.withThread(ctx, ticket)
}

// GetByKey is Get addressed by the human-facing TCK key instead of the id.
func (s *TicketService) GetByKey(ctx context.Context, requester domain.Identity, key string) (*domain.Ticket, []domain.TicketMessage, error) {
	ticket, err := s.tickets.GetByExternalKey(ctx, key)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	if !requester.IsStaff && ticket.OwnerID != requester.ID {
		return nil, nil, apperrors.NewForbidden("not the ticket owner")
	}
	return s.withThread(ctx, ticket)
}

func (s *TicketService) withThread(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, []domain.TicketMessage, error) {
	msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, nil, apperrors.NewInternalError(err)
	}
	return ticket, msgs, nil
}

func (s *TicketService) getForRequester(ctx context.Context, requester domain.Identity, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !requester.IsStaff && ticket.OwnerID != requester.ID {
		return nil, apperrors.NewForbidden("not the ticket owner")
	}
	return ticket, nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func actorFor(identity domain.Identity) events.Actor {
	return events.Actor{Type: identity.Subject(), ID: identity.ID}
}

func generateTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// stringPreview truncates on rune boundaries; content is not ASCII-only.
func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
