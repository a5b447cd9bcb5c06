package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tether-ai/tether-agent/pkg/models"
)

// AppendMessage appends a conversation message to a session. The per-session
// seq is allocated inside the transaction, so concurrent appends never
// collide or leave gaps.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role string, content []models.ContentBlock) (*models.Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding message content: %w", err)
	}

	msg := &models.Message{
		ID:        "msg_" + uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`,
		sessionID).Scan(&msg.Seq)
	if err != nil {
		return nil, fmt.Errorf("allocating message seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, role, string(raw), msg.Seq, encodeTime(msg.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}
	return msg, nil
}

// GetMessages returns a session's messages in seq order.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, seq, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var (
			msg       models.Message
			raw       string
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &raw, &msg.Seq, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &msg.Content); err != nil {
			return nil, fmt.Errorf("decoding message content: %w", err)
		}
		msg.CreatedAt = decodeTime(createdAt)
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// CountMessages returns the number of messages in a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}
