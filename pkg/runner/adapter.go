package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tether-ai/tether-agent/pkg/events"
	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/state"
	"github.com/tether-ai/tether-agent/pkg/store"
)

// EventsAdapter translates runner callbacks into state transitions and
// timeline events. Transitions are applied under the per-session lock;
// callbacks arriving in states where they have no work are skipped rather
// than rejected, since runners race against user-initiated operations.
type EventsAdapter struct {
	store   *store.Store
	machine *state.Machine
	emitter *events.Emitter
	logger  *slog.Logger
}

// NewEventsAdapter creates the adapter.
func NewEventsAdapter(st *store.Store, machine *state.Machine, emitter *events.Emitter) *EventsAdapter {
	return &EventsAdapter{
		store:   st,
		machine: machine,
		emitter: emitter,
		logger:  slog.Default().With("component", "runner-events"),
	}
}

var _ Callbacks = (*EventsAdapter)(nil)

// OnHeader records the runner banner: the session's runner_header summary
// line plus a header event on the timeline. A runner-provided thread id
// becomes the runner_session_id, first write wins.
func (a *EventsAdapter) OnHeader(ctx context.Context, sessionID string, h events.HeaderPayload, threadID string) {
	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		a.logger.Error("Loading session failed", "session_id", sessionID, "error", err)
		return
	}
	banner := h.Title
	if h.Model != "" {
		banner = fmt.Sprintf("%s (%s)", h.Title, h.Model)
	}
	sess.RunnerHeader = banner
	if threadID != "" && sess.RunnerSessionID == "" {
		sess.RunnerSessionID = threadID
	}
	if err := a.store.UpdateSession(ctx, sess); err != nil {
		a.logger.Error("Recording runner header failed", "session_id", sessionID, "error", err)
	}
	if err := a.emitter.Header(ctx, sessionID, h); err != nil {
		a.logger.Error("Emitting header failed", "session_id", sessionID, "error", err)
	}
}

// OnOutput logs runner output and bumps session activity. The text is also
// remembered as the session's most recent output, which input_required
// events carry.
func (a *EventsAdapter) OnOutput(ctx context.Context, sessionID, text, kind string, final bool) {
	if err := a.store.TouchSession(ctx, sessionID); err != nil {
		a.logger.Warn("Touching session failed", "session_id", sessionID, "error", err)
	}
	a.store.SetLastOutput(sessionID, text)
	err := a.emitter.Output(ctx, sessionID, events.OutputPayload{Text: text, Kind: kind, Final: final})
	if err != nil {
		a.logger.Error("Emitting output failed", "session_id", sessionID, "error", err)
	}
}

// OnOutputFinal logs the turn-level output blob.
func (a *EventsAdapter) OnOutputFinal(ctx context.Context, sessionID, text string) {
	a.store.SetLastOutput(sessionID, text)
	if err := a.emitter.OutputFinal(ctx, sessionID, text); err != nil {
		a.logger.Error("Emitting output_final failed", "session_id", sessionID, "error", err)
	}
}

// OnMetadata logs structured runner metadata.
func (a *EventsAdapter) OnMetadata(ctx context.Context, sessionID string, p events.MetadataPayload) {
	if err := a.store.TouchSession(ctx, sessionID); err != nil {
		a.logger.Warn("Touching session failed", "session_id", sessionID, "error", err)
	}
	if err := a.emitter.Metadata(ctx, sessionID, p); err != nil {
		a.logger.Error("Emitting metadata failed", "session_id", sessionID, "error", err)
	}
}

// OnHeartbeat logs the liveness signal and bumps session activity, so a
// session with a live task never reads as idle.
func (a *EventsAdapter) OnHeartbeat(ctx context.Context, sessionID string, elapsedSeconds float64, done bool) {
	if err := a.store.TouchSession(ctx, sessionID); err != nil {
		a.logger.Warn("Touching session failed", "session_id", sessionID, "error", err)
	}
	if err := a.emitter.Heartbeat(ctx, sessionID, elapsedSeconds, done); err != nil {
		a.logger.Error("Emitting heartbeat failed", "session_id", sessionID, "error", err)
	}
}

// OnPermissionRequest logs a tool approval request and registers it as
// pending.
func (a *EventsAdapter) OnPermissionRequest(ctx context.Context, sessionID string, p events.PermissionRequestPayload) {
	if err := a.emitter.PermissionRequest(ctx, sessionID, p); err != nil {
		a.logger.Error("Emitting permission_request failed", "session_id", sessionID, "error", err)
	}
}

// OnError moves the session to ERROR if it is not already settled there,
// emitting session_state before the error event.
func (a *EventsAdapter) OnError(ctx context.Context, sessionID, code, message string) {
	unlock := a.machine.Lock(sessionID)
	defer unlock()

	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		a.logger.Error("Loading session failed", "session_id", sessionID, "error", err)
		return
	}
	if sess.State != models.StateError && state.CanTransition(sess.State, models.StateError) {
		if err := a.machine.Transition(ctx, sess, models.StateError); err != nil {
			a.logger.Error("Transition to ERROR failed", "session_id", sessionID, "error", err)
		} else {
			a.emitState(ctx, sessionID, models.StateError)
		}
	}

	if err := a.emitter.Error(ctx, sessionID, code, message); err != nil {
		a.logger.Error("Emitting error failed", "session_id", sessionID, "error", err)
	}
}

// OnExit handles task termination. A session already settled in
// AWAITING_INPUT, INTERRUPTING, or ERROR is left alone; otherwise a
// non-zero code means failure and a clean exit means waiting for input.
func (a *EventsAdapter) OnExit(ctx context.Context, sessionID string, exitCode *int) {
	unlock := a.machine.Lock(sessionID)
	defer unlock()

	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		a.logger.Error("Loading session failed", "session_id", sessionID, "error", err)
		return
	}
	switch sess.State {
	case models.StateAwaitingInput, models.StateInterrupting, models.StateError:
		return
	}

	sess.ExitCode = exitCode
	if exitCode != nil && *exitCode != 0 {
		if err := a.machine.Transition(ctx, sess, models.StateError); err != nil {
			a.logger.Error("Transition to ERROR failed", "session_id", sessionID, "error", err)
			return
		}
		a.emitState(ctx, sessionID, models.StateError)
		if err := a.emitter.Error(ctx, sessionID, "RUNNER_EXIT",
			fmt.Sprintf("runner exited with code %d", *exitCode)); err != nil {
			a.logger.Error("Emitting error failed", "session_id", sessionID, "error", err)
		}
		return
	}

	if err := a.machine.Transition(ctx, sess, models.StateAwaitingInput); err != nil {
		a.logger.Error("Transition to AWAITING_INPUT failed", "session_id", sessionID, "error", err)
		return
	}
	a.emitState(ctx, sessionID, models.StateAwaitingInput)
	a.emitInputRequired(ctx, sessionID)
}

// OnAwaitingInput moves the session to AWAITING_INPUT unless it already
// settled there or in ERROR. A task reports this only after clearing its
// own handle, so a registered task means input already relaunched the
// session and the report is stale.
func (a *EventsAdapter) OnAwaitingInput(ctx context.Context, sessionID string) {
	unlock := a.machine.Lock(sessionID)
	defer unlock()

	if a.store.TaskFor(sessionID) != nil {
		return
	}

	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		a.logger.Error("Loading session failed", "session_id", sessionID, "error", err)
		return
	}
	switch sess.State {
	case models.StateAwaitingInput, models.StateError:
		return
	}
	if !state.CanTransition(sess.State, models.StateAwaitingInput) {
		return
	}
	if err := a.machine.Transition(ctx, sess, models.StateAwaitingInput); err != nil {
		a.logger.Error("Transition to AWAITING_INPUT failed", "session_id", sessionID, "error", err)
		return
	}
	a.emitState(ctx, sessionID, models.StateAwaitingInput)
	a.emitInputRequired(ctx, sessionID)
}

// emitInputRequired emits input_required carrying the most recent output.
func (a *EventsAdapter) emitInputRequired(ctx context.Context, sessionID string) {
	p := events.InputRequiredPayload{LastOutput: a.store.LastOutput(sessionID)}
	if err := a.emitter.InputRequired(ctx, sessionID, p); err != nil {
		a.logger.Error("Emitting input_required failed", "session_id", sessionID, "error", err)
	}
}

func (a *EventsAdapter) emitState(ctx context.Context, sessionID string, s models.SessionState) {
	if err := a.emitter.SessionState(ctx, sessionID, s); err != nil {
		a.logger.Error("Emitting session_state failed", "session_id", sessionID, "error", err)
	}
}
