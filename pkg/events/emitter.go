package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/store"
)

// Emitter appends typed events to a session's timeline. Seq allocation and
// subscriber fan-out happen inside the store; the emitter only shapes
// payloads and applies the header special case.
type Emitter struct {
	store  *store.Store
	logger *slog.Logger
}

// NewEmitter creates an Emitter over the store.
func NewEmitter(st *store.Store) *Emitter {
	return &Emitter{
		store:  st,
		logger: slog.Default().With("component", "events"),
	}
}

func (e *Emitter) emit(ctx context.Context, sessionID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	if _, err := e.store.AppendEvent(ctx, sessionID, eventType, data); err != nil {
		return fmt.Errorf("appending %s event: %w", eventType, err)
	}
	return nil
}

// Output emits runner output. Output with kind=header never reaches the
// log: it overwrites the session's runner_header instead.
func (e *Emitter) Output(ctx context.Context, sessionID string, p OutputPayload) error {
	if p.Kind == KindHeader {
		sess, err := e.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		sess.RunnerHeader = p.Text
		return e.store.UpdateSession(ctx, sess)
	}
	return e.emit(ctx, sessionID, TypeOutput, p)
}

// OutputFinal emits the turn-level concatenated output blob.
func (e *Emitter) OutputFinal(ctx context.Context, sessionID, text string) error {
	return e.emit(ctx, sessionID, TypeOutputFinal, OutputFinalPayload{Text: text})
}

// SessionState announces a lifecycle state change.
func (e *Emitter) SessionState(ctx context.Context, sessionID string, s models.SessionState) error {
	return e.emit(ctx, sessionID, TypeSessionState, SessionStatePayload{State: s})
}

// Error emits a session-level error.
func (e *Emitter) Error(ctx context.Context, sessionID, code, message string) error {
	return e.emit(ctx, sessionID, TypeError, ErrorPayload{Code: code, Message: message})
}

// PermissionRequest emits a tool approval request and registers it as
// pending so live streams can distinguish it from stale replayed ones.
func (e *Emitter) PermissionRequest(ctx context.Context, sessionID string, p PermissionRequestPayload) error {
	e.store.AddPendingPermission(sessionID, p.RequestID)
	return e.emit(ctx, sessionID, TypePermissionRequest, p)
}

// InputRequired signals the runner is waiting on the user.
func (e *Emitter) InputRequired(ctx context.Context, sessionID string, p InputRequiredPayload) error {
	return e.emit(ctx, sessionID, TypeInputRequired, p)
}

// Header emits the structured runner banner.
func (e *Emitter) Header(ctx context.Context, sessionID string, p HeaderPayload) error {
	return e.emit(ctx, sessionID, TypeHeader, p)
}

// Metadata emits structured runner metadata.
func (e *Emitter) Metadata(ctx context.Context, sessionID string, p MetadataPayload) error {
	return e.emit(ctx, sessionID, TypeMetadata, p)
}

// Heartbeat emits the periodic liveness signal.
func (e *Emitter) Heartbeat(ctx context.Context, sessionID string, elapsedSeconds float64, done bool) error {
	return e.emit(ctx, sessionID, TypeHeartbeat, HeartbeatPayload{ElapsedSeconds: elapsedSeconds, Done: done})
}
