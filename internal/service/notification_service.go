package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/dealer-support/internal/domain"
	"github.com/spec-kit/dealer-support/internal/events"
	"github.com/spec-kit/dealer-support/internal/realtime"
)

// NotificationService bridges ticket lifecycle events into staff room
// broadcasts. It holds no state of its own; a missed live notification never
// corrupts ticket state because the store stays authoritative and staff can
// always re-list tickets.
type NotificationService struct {
	dispatcher  events.Dispatcher
	broadcaster *realtime.Broadcaster
	logger      *zap.Logger
}

// TicketUpdateView is the summarized payload pushed to the staff room.
type TicketUpdateView struct {
	TicketID string       `json:"ticket_id"`
	Kind     string       `json:"kind"`
	Actor    events.Actor `json:"actor"`
	Payload  interface{}  `json:"payload,omitempty"`
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, broadcaster *realtime.Broadcaster, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// RegisterHandlers subscribes to the ticket lifecycle events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.forwardToStaff)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.forwardToStaff)
	n.dispatcher.Subscribe(events.EventTicketMessageAppended, n.forwardToStaff)
}

func (n *NotificationService) forwardToStaff(_ context.Context, event events.Event) error {
	n.logger.Debug("forwarding ticket event to staff room",
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))

	n.broadcaster.Publish(domain.StaffRoom, realtime.Event{
		Event: realtime.EventTicketUpdated,
		Payload: TicketUpdateView{
			TicketID: event.TicketID,
			Kind:     string(event.Type),
			Actor:    event.Actor,
			Payload:  event.Payload,
		},
	})
	return nil
}
