package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/dealer-support/internal/domain"
	"github.com/spec-kit/dealer-support/internal/realtime"
	"github.com/spec-kit/dealer-support/internal/repository"
	apperrors "github.com/spec-kit/dealer-support/pkg/util"
)

// ChatService manages chat sessions: joining rooms with history replay and
// sending messages into them. Persistence always precedes broadcast, so a
// missed push is recovered by history replay on the next join.
type ChatService struct {
	registry    *realtime.Registry
	broadcaster *realtime.Broadcaster
	messages    repository.ChatMessageRepository
	logger      *zap.Logger

	historyLimit int
	maxLength    int
}

// ChatDependencies bundles collaborators for the chat service.
type ChatDependencies struct {
	Registry    *realtime.Registry
	Broadcaster *realtime.Broadcaster
	MessageRepo repository.ChatMessageRepository
	Logger      *zap.Logger

	HistoryLimit     int
	MaxMessageLength int
}

// ChatMessageView is the wire shape of a chat message.
type ChatMessageView struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"room_id"`
	SenderID     string    `json:"sender_id"`
	IsStaffReply bool      `json:"is_staff_reply"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatActivityView is the lightweight ping sent to the staff room when a
// staff member replies somewhere, so other staff can refresh unread state.
type ChatActivityView struct {
	RoomID     string `json:"room_id"`
	CustomerID string `json:"customer_id"`
	SenderID   string `json:"sender_id"`
}

// NewChatService constructs the service.
func NewChatService(deps ChatDependencies) *ChatService {
	historyLimit := deps.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 50
	}
	maxLength := deps.MaxMessageLength
	if maxLength <= 0 {
		maxLength = 2000
	}
	return &ChatService{
		registry:     deps.Registry,
		broadcaster:  deps.Broadcaster,
		messages:     deps.MessageRepo,
		logger:       deps.Logger,
		historyLimit: historyLimit,
		maxLength:    maxLength,
	}
}

// Join subscribes the connection to its target room and replays recent
// history to the requesting connection only. A customer with no prior
// messages gets an empty history, not an error.
func (s *ChatService) Join(ctx context.Context, conn *realtime.Connection, customerID string) error {
	roomID, err := s.resolveRoom(conn.Identity, customerID)
	if err != nil {
		return err
	}
	if err := s.registry.JoinRoom(conn.ID, roomID); err != nil {
		return err
	}

	history, err := s.messages.RecentByRoom(ctx, roomID, s.historyLimit)
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	views := make([]ChatMessageView, 0, len(history))
	for _, msg := range history {
		views = append(views, chatMessageView(msg))
	}
	return conn.Send(realtime.Event{Event: realtime.EventChatHistory, Payload: views})
}

// Send validates, persists and broadcasts one chat message. Staff sends also
// ping the staff room with an activity notification.
func (s *ChatService) Send(ctx context.Context, conn *realtime.Connection, customerID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return apperrors.NewInvalidArgument("message content must not be empty", nil)
	}
	if utf8.RuneCountInString(content) > s.maxLength {
		return apperrors.NewInvalidArgument("message content too long", map[string]any{
			"max_length": s.maxLength,
		})
	}

	roomID, err := s.resolveRoom(conn.Identity, customerID)
	if err != nil {
		return err
	}
	if !s.registry.InRoom(conn.ID, roomID) {
		return apperrors.NewForbidden("join the room before sending")
	}

	msg := &domain.ChatMessage{
		RoomID:       roomID,
		SenderID:     conn.Identity.ID,
		IsStaffReply: conn.Identity.IsStaff,
		Content:      content,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return apperrors.NewInternalError(err)
	}

	s.broadcaster.Publish(roomID, realtime.Event{
		Event:   realtime.EventChatMessage,
		Payload: chatMessageView(*msg),
	})
	// Only customer conversations generate activity pings; staff room chatter
	// already reaches every staff connection directly.
	if conn.Identity.IsStaff && domain.IsChatRoom(roomID) {
		s.broadcaster.Publish(domain.StaffRoom, realtime.Event{
			Event: realtime.EventChatActivity,
			Payload: ChatActivityView{
				RoomID:     roomID,
				CustomerID: domain.ChatRoomOwner(roomID),
				SenderID:   conn.Identity.ID,
			},
		})
	}
	return nil
}

// resolveRoom determines the target room for a join or send: a customer's
// own room, or for staff either the staff room or an explicitly named
// customer conversation.
func (s *ChatService) resolveRoom(identity domain.Identity, customerID string) (string, error) {
	if !identity.IsStaff {
		if customerID != "" && customerID != identity.ID {
			return "", apperrors.NewForbidden("customers may only use their own chat room")
		}
		return domain.ChatRoom(identity.ID), nil
	}
	if customerID == "" {
		return domain.StaffRoom, nil
	}
	return domain.ChatRoom(customerID), nil
}

func chatMessageView(msg domain.ChatMessage) ChatMessageView {
	return ChatMessageView{
		ID:           msg.ID,
		RoomID:       msg.RoomID,
		SenderID:     msg.SenderID,
		IsStaffReply: msg.IsStaffReply,
		Content:      msg.Content,
		CreatedAt:    msg.CreatedAt,
	}
}
