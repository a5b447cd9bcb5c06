// Package state implements the session lifecycle state machine and the
// per-session mutexes that serialize lifecycle operations.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/store"
)

// transitions is the complete set of permitted state changes. Anything not
// listed is rejected.
var transitions = map[models.SessionState][]models.SessionState{
	models.StateCreated:       {models.StateRunning},
	models.StateRunning:       {models.StateAwaitingInput, models.StateInterrupting, models.StateError},
	models.StateAwaitingInput: {models.StateRunning, models.StateError},
	models.StateInterrupting:  {models.StateAwaitingInput, models.StateError},
	models.StateError:         {models.StateRunning},
}

// TransitionError reports a rejected state change.
type TransitionError struct {
	SessionID string
	From      models.SessionState
	To        models.SessionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: invalid transition %s -> %s", e.SessionID, e.From, e.To)
}

// CanTransition reports whether from -> to is permitted.
func CanTransition(from, to models.SessionState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Machine applies lifecycle transitions and owns the per-session locks.
type Machine struct {
	store  *store.Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMachine creates a Machine over the store.
func NewMachine(st *store.Store) *Machine {
	return &Machine{
		store:  st,
		logger: slog.Default().With("component", "state"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Lock acquires the session's lifecycle mutex and returns the unlock
// function. The mutex is created lazily on first use.
func (m *Machine) Lock(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// DropLock removes a session's mutex. Called after the session is deleted;
// the caller must not hold the lock.
func (m *Machine) DropLock(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, sessionID)
}

// Transition validates and applies a state change, stamping timestamps:
// started_at on first entry to RUNNING, ended_at on entry to ERROR and on
// the INTERRUPTING -> AWAITING_INPUT stop completion. last_activity_at is
// bumped on every transition. The session is mutated and persisted; callers
// must hold the session lock.
func (m *Machine) Transition(ctx context.Context, sess *models.Session, to models.SessionState) error {
	if !CanTransition(sess.State, to) {
		return &TransitionError{SessionID: sess.ID, From: sess.State, To: to}
	}

	from := sess.State
	now := time.Now().UTC().Truncate(time.Second)

	sess.State = to
	sess.LastActivityAt = now
	if to == models.StateRunning && sess.StartedAt == nil {
		sess.StartedAt = &now
	}
	if to == models.StateError {
		sess.EndedAt = &now
	}
	if from == models.StateInterrupting && to == models.StateAwaitingInput {
		sess.EndedAt = &now
	}

	if err := m.store.UpdateSession(ctx, sess); err != nil {
		sess.State = from
		return fmt.Errorf("persisting transition: %w", err)
	}

	m.logger.Info("Session state changed",
		"session_id", sess.ID, "from", from, "to", to)
	return nil
}

// MaxNameLen bounds session names, both stamped and user-supplied, in runes.
const MaxNameLen = 80

// StampName derives a session name from its first prompt: whitespace is
// collapsed and the result capped at MaxNameLen runes. A no-op when the
// session already has a name or the prompt is blank.
func StampName(sess *models.Session, prompt string) {
	if sess.Name != "" {
		return
	}
	name := strings.Join(strings.Fields(prompt), " ")
	if name == "" {
		return
	}
	runes := []rune(name)
	if len(runes) > MaxNameLen {
		name = string(runes[:MaxNameLen])
	}
	sess.Name = name
}
