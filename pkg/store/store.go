// Package store is the durable and volatile state of the agent.
//
// Durable state (sessions, messages, events) lives in sqlite. Volatile state
// (subscriber queues, pending input, stop flags, workdir and task registries,
// pending permission requests) lives in memory and is rebuilt empty on
// restart.
package store

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// Store provides access to all session state.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu           sync.Mutex
	subscribers  map[string][]*Subscriber
	pendingInput map[string][]string
	stopFlags    map[string]struct{}
	workdirs     map[string]string
	tasks        map[string]*Task
	syncedCounts map[string]int
	pendingPerms map[string]map[string]struct{}
	lastOutputs  map[string]string

	// emitLocks serializes event emission per session so that log order
	// and queue delivery order agree.
	emitMu    sync.Mutex
	emitLocks map[string]*sync.Mutex
}

// New creates a Store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:           db,
		logger:       slog.Default().With("component", "store"),
		subscribers:  make(map[string][]*Subscriber),
		pendingInput: make(map[string][]string),
		stopFlags:    make(map[string]struct{}),
		workdirs:     make(map[string]string),
		tasks:        make(map[string]*Task),
		syncedCounts: make(map[string]int),
		pendingPerms: make(map[string]map[string]struct{}),
		lastOutputs:  make(map[string]string),
		emitLocks:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) emitLock(sessionID string) *sync.Mutex {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	l, ok := s.emitLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.emitLocks[sessionID] = l
	}
	return l
}

// Timestamps are stored as RFC3339 UTC, truncated to seconds.

func encodeTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := decodeTime(s.String)
	return &t
}

func encodeIntPtr(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func decodeIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func encodeNullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
