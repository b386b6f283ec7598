package domain

import "time"

// TicketMessage captures one communication in a ticket thread. Same shape as
// ChatMessage but scoped to a ticket rather than a room.
type TicketMessage struct {
	ID           string
	TicketID     string
	SenderID     string
	IsStaffReply bool
	Content      string
	CreatedAt    time.Time
}
