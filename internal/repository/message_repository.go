package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
)

// MessageRepository encapsulates chat transcript persistence.
type MessageRepository interface {
	Create(ctx context.Context, message *domain.ChatMessage) error
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]domain.ChatMessage, error)
	MarkRead(ctx context.Context, sessionID, readerID string, at time.Time) (int64, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository instantiates repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

func (r *messageRepository) Create(ctx context.Context, message *domain.ChatMessage) error {
	const query = `
        INSERT INTO chat_messages (id, session_id, sender_id, sender_role, message_type, body, file_ref)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		message.ID,
		message.SessionID,
		message.SenderID,
		message.SenderRole,
		message.MessageType,
		message.Body,
		message.FileRef,
	).Scan(&message.CreatedAt)
}

// ListBySession returns transcript entries oldest first.
func (r *messageRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT id, session_id, sender_id, sender_role, message_type, body, file_ref, read_at, created_at
        FROM chat_messages
        WHERE session_id=$1
        ORDER BY created_at, id
        LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkRead stamps every unread message in the session that the reader did not
// author, and returns how many rows it touched.
func (r *messageRepository) MarkRead(ctx context.Context, sessionID, readerID string, at time.Time) (int64, error) {
	const query = `
        UPDATE chat_messages
        SET read_at=$3
        WHERE session_id=$1 AND read_at IS NULL AND sender_id IS DISTINCT FROM $2`
	cmd, err := r.pool.Exec(ctx, query, sessionID, readerID, at)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanMessages(rows pgx.Rows) ([]domain.ChatMessage, error) {
	var result []domain.ChatMessage
	for rows.Next() {
		var message domain.ChatMessage
		if err := rows.Scan(
			&message.ID,
			&message.SessionID,
			&message.SenderID,
			&message.SenderRole,
			&message.MessageType,
			&message.Body,
			&message.FileRef,
			&message.ReadAt,
			&message.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, message)
	}
	return result, rows.Err()
}
