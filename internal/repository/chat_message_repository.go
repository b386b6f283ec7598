package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/dealer-support/internal/domain"
)

// ChatMessageRepository manages the per-room chat threads.
type ChatMessageRepository interface {
	Create(ctx context.Context, msg *domain.ChatMessage) error
	RecentByRoom(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error)
}

type chatMessageRepository struct {
	pool *pgxpool.Pool
}

// NewChatMessageRepository builds repository.
func NewChatMessageRepository(pool *pgxpool.Pool) ChatMessageRepository {
	return &chatMessageRepository{pool: pool}
}

func (r *chatMessageRepository) Create(ctx context.Context, msg *domain.ChatMessage) error {
	const query = `
        INSERT INTO chat_messages (room_id, sender_id, is_staff_reply, content)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		msg.RoomID,
		msg.SenderID,
		msg.IsStaffReply,
		msg.Content,
	).Scan(&msg.ID, &msg.CreatedAt)
}

// RecentByRoom returns the most recent limit messages, oldest first.
func (r *chatMessageRepository) RecentByRoom(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
        SELECT id, room_id, sender_id, is_staff_reply, content, created_at
        FROM (
            SELECT id, room_id, sender_id, is_staff_reply, content, created_at
            FROM chat_messages WHERE room_id=$1
            ORDER BY created_at DESC, id DESC LIMIT $2
        ) recent
        ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.IsStaffReply,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
