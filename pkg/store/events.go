package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tether-ai/tether-agent/pkg/models"
)

// AppendEvent persists an event with the next seq for the session and fans
// it out to every registered subscriber. Emission is serialized per session
// so queue delivery order always matches log order.
func (s *Store) AppendEvent(ctx context.Context, sessionID, eventType string, data json.RawMessage) (*models.Event, error) {
	lock := s.emitLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	ev := &models.Event{
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE session_id = ?`,
		sessionID).Scan(&ev.Seq)
	if err != nil {
		return nil, fmt.Errorf("allocating event seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (session_id, seq, type, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, ev.Seq, eventType, string(data), encodeTime(ev.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing event: %w", err)
	}

	s.mu.Lock()
	subs := make([]*Subscriber, len(s.subscribers[sessionID]))
	copy(subs, s.subscribers[sessionID])
	s.mu.Unlock()

	for _, sub := range subs {
		sub.push(ev)
	}
	return ev, nil
}

// ListEventsSince returns up to limit events with seq > since, in seq order.
func (s *Store) ListEventsSince(ctx context.Context, sessionID string, since int64, limit int) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, data, created_at FROM events
		WHERE session_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		sessionID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var (
			ev        models.Event
			data      string
			createdAt string
		)
		if err := rows.Scan(&ev.Seq, &ev.Type, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.SessionID = sessionID
		ev.Data = json.RawMessage(data)
		ev.CreatedAt = decodeTime(createdAt)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// CountEvents returns the number of events logged for a session.
func (s *Store) CountEvents(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// Subscribe registers a new event subscriber for a session. The subscriber
// is registered synchronously, so every event appended after Subscribe
// returns is guaranteed to be delivered. Callers combine this with
// ListEventsSince for a gapless replay-then-follow stream.
func (s *Store) Subscribe(sessionID string) *Subscriber {
	sub := newSubscriber()
	s.mu.Lock()
	s.subscribers[sessionID] = append(s.subscribers[sessionID], sub)
	s.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscriber.
func (s *Store) Unsubscribe(sessionID string, sub *Subscriber) {
	s.mu.Lock()
	subs := s.subscribers[sessionID]
	for i, candidate := range subs {
		if candidate == sub {
			s.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	sub.close()
}

// SubscriberCount returns the number of live subscribers for a session.
func (s *Store) SubscriberCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers[sessionID])
}
