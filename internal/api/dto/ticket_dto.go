package dto

import (
	"time"

	"github.com/spec-kit/dealer-support/internal/domain"
)

// TicketCreateRequest payload for opening a ticket.
type TicketCreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TicketStatusRequest payload for a status transition.
type TicketStatusRequest struct {
	Status string `json:"status"`
}

// TicketReplyRequest payload for appending to the thread.
type TicketReplyRequest struct {
	Content string `json:"content"`
}

// TicketResponse is the API shape of a ticket.
type TicketResponse struct {
	ID          string    `json:"id"`
	ExternalKey string    `json:"external_key"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TicketMessageResponse is the API shape of a thread message.
type TicketMessageResponse struct {
	ID           string    `json:"id"`
	TicketID     string    `json:"ticket_id"`
	SenderID     string    `json:"sender_id"`
	IsStaffReply bool      `json:"is_staff_reply"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// FromTicket maps the domain ticket.
func FromTicket(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:          t.ID,
		ExternalKey: t.ExternalKey,
		OwnerID:     t.OwnerID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// FromTickets maps a slice of domain tickets.
func FromTickets(tickets []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, FromTicket(&tickets[i]))
	}
	return out
}

// FromTicketMessage maps the domain thread message.
func FromTicketMessage(m *domain.TicketMessage) TicketMessageResponse {
	return TicketMessageResponse{
		ID:           m.ID,
		TicketID:     m.TicketID,
		SenderID:     m.SenderID,
		IsStaffReply: m.IsStaffReply,
		Content:      m.Content,
		CreatedAt:    m.CreatedAt,
	}
}

// FromTicketMessages maps a slice of thread messages.
func FromTicketMessages(msgs []domain.TicketMessage) []TicketMessageResponse {
	out := make([]TicketMessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, FromTicketMessage(&msgs[i]))
	}
	return out
}
