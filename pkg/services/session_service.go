// Package services implements the session lifecycle operations behind the
// HTTP handlers: create, start, input, stop, rename, delete, and the
// startup recovery sweep. All state-changing operations run under the
// per-session lock.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tether-ai/tether-agent/pkg/bridge"
	"github.com/tether-ai/tether-agent/pkg/events"
	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/runner"
	"github.com/tether-ai/tether-agent/pkg/state"
	"github.com/tether-ai/tether-agent/pkg/store"
)

// SessionService orchestrates session lifecycle operations.
type SessionService struct {
	store          *store.Store
	machine        *state.Machine
	emitter        *events.Emitter
	runner         runner.Runner
	router         *bridge.Router
	bridges        *bridge.Manager
	workdirRoot    string
	defaultAdapter string
	logger         *slog.Logger
}

// NewSessionService creates the service.
func NewSessionService(
	st *store.Store,
	machine *state.Machine,
	emitter *events.Emitter,
	r runner.Runner,
	router *bridge.Router,
	bridges *bridge.Manager,
	workdirRoot string,
	defaultAdapter string,
) *SessionService {
	return &SessionService{
		store:          st,
		machine:        machine,
		emitter:        emitter,
		runner:         r,
		router:         router,
		bridges:        bridges,
		workdirRoot:    workdirRoot,
		defaultAdapter: defaultAdapter,
		logger:         slog.Default().With("component", "session-service"),
	}
}

// Create registers a new session in CREATED state, resolves its working
// directory, and binds it to a chat platform when one is requested.
func (s *SessionService) Create(ctx context.Context, req *models.CreateSessionRequest) (*models.Session, error) {
	platform := req.Platform
	if platform == "" {
		platform = models.PlatformNone
	}
	switch platform {
	case models.PlatformNone, models.PlatformTelegram, models.PlatformSlack, models.PlatformDiscord:
	default:
		return nil, store.NewValidationError("platform", fmt.Sprintf("unknown platform %q", platform))
	}
	if req.ApprovalMode != nil && (*req.ApprovalMode < models.ApprovalDefault || *req.ApprovalMode > models.ApprovalYolo) {
		return nil, store.NewValidationError("approval_mode", "must be 0, 1, or 2")
	}

	adapter := req.Adapter
	if adapter == "" {
		adapter = s.defaultAdapter
	}

	now := time.Now().UTC().Truncate(time.Second)
	sess := &models.Session{
		ID:             "sess_" + uuid.NewString(),
		RepoType:       req.RepoType,
		RepoValue:      req.RepoValue,
		State:          models.StateCreated,
		Name:           req.Name,
		CreatedAt:      now,
		LastActivityAt: now,
		ApprovalMode:   req.ApprovalMode,
		Adapter:        adapter,
		Platform:       platform,
	}

	if err := s.resolveDirectory(sess, req); err != nil {
		return nil, err
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.store.SetWorkdir(sess.ID, sess.Directory)

	if platform != models.PlatformNone {
		if err := s.bindPlatform(ctx, sess); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Session created",
		"session_id", sess.ID, "adapter", adapter, "platform", platform, "directory", sess.Directory)
	return sess, nil
}

// resolveDirectory validates a caller-provided directory or provisions a
// managed one under the data dir.
func (s *SessionService) resolveDirectory(sess *models.Session, req *models.CreateSessionRequest) error {
	if req.Directory != "" && !req.WorkdirManaged {
		info, err := os.Stat(req.Directory)
		if err != nil || !info.IsDir() {
			return store.NewValidationError("directory", fmt.Sprintf("directory does not exist: %s", req.Directory))
		}
		sess.Directory = req.Directory
		if _, err := os.Stat(filepath.Join(req.Directory, ".git")); err == nil {
			sess.DirectoryHasGit = true
		}
		return nil
	}

	dir := filepath.Join(s.workdirRoot, sess.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("provisioning workdir: %w", err)
	}
	sess.Directory = dir
	sess.WorkdirManaged = true
	return nil
}

// bindPlatform creates the platform thread and starts the router consumer.
// Thread creation is fail-open; the subscription is not.
func (s *SessionService) bindPlatform(ctx context.Context, sess *models.Session) error {
	b, err := s.bridges.Get(string(sess.Platform))
	if err != nil {
		return store.NewValidationError("platform", err.Error())
	}

	thread, err := b.CreateThread(ctx, sess.ID, sess.Name)
	if err != nil {
		s.logger.Warn("Creating platform thread failed",
			"session_id", sess.ID, "platform", sess.Platform, "error", err)
	} else {
		sess.PlatformThreadID = thread.ThreadID
		if err := s.store.UpdateSession(ctx, sess); err != nil {
			return err
		}
	}

	return s.router.Subscribe(sess.ID, string(sess.Platform))
}

// Get loads one session.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.store.GetSession(ctx, id)
}

// List returns all sessions, newest first.
func (s *SessionService) List(ctx context.Context) ([]*models.Session, error) {
	return s.store.ListSessions(ctx)
}

// Start moves the session to RUNNING and launches the conversation task
// with the given prompt. Valid from CREATED, AWAITING_INPUT, and ERROR.
func (s *SessionService) Start(ctx context.Context, id string, req *models.StartSessionRequest) (*models.Session, error) {
	if err := s.runner.Available(); err != nil {
		return nil, err
	}

	unlock := s.machine.Lock(id)
	defer unlock()

	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	state.StampName(sess, req.Prompt)
	if req.ApprovalChoice != nil {
		sess.ApprovalMode = req.ApprovalChoice
	}
	if err := s.machine.Transition(ctx, sess, models.StateRunning); err != nil {
		return nil, err
	}
	s.emitState(ctx, id, models.StateRunning)

	if err := s.runner.Start(ctx, id, req.Prompt); err != nil {
		return nil, err
	}
	return sess, nil
}

// Input delivers user text to the session. With a live task the text is
// enqueued; a session resting in AWAITING_INPUT or ERROR is moved back to
// RUNNING and its task relaunched.
func (s *SessionService) Input(ctx context.Context, id, text string) (*models.Session, error) {
	if strings.TrimSpace(text) == "" {
		return nil, store.NewValidationError("text", "must not be empty")
	}
	if err := s.runner.Available(); err != nil {
		return nil, err
	}

	unlock := s.machine.Lock(id)
	defer unlock()

	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sess.State {
	case models.StateRunning:
		if err := s.store.TouchSession(ctx, id); err != nil {
			s.logger.Warn("Touching session failed", "session_id", id, "error", err)
		}
		if err := s.runner.SendInput(ctx, id, text); err != nil {
			return nil, err
		}
		return sess, nil

	case models.StateAwaitingInput, models.StateError:
		if err := s.machine.Transition(ctx, sess, models.StateRunning); err != nil {
			return nil, err
		}
		s.emitState(ctx, id, models.StateRunning)
		if err := s.runner.SendInput(ctx, id, text); err != nil {
			return nil, err
		}
		return sess, nil

	case models.StateInterrupting:
		// The runner is tearing down; buffer the text so the next launch
		// picks it up.
		s.store.PushPendingInput(id, text)
		if err := s.store.TouchSession(ctx, id); err != nil {
			s.logger.Warn("Touching session failed", "session_id", id, "error", err)
		}
		return sess, nil

	default:
		return nil, &state.TransitionError{SessionID: id, From: sess.State, To: models.StateRunning}
	}
}

// Stop interrupts a RUNNING session: RUNNING -> INTERRUPTING, cancel the
// task with a bounded grace, then INTERRUPTING -> AWAITING_INPUT with exit
// code 0. The lock is released while waiting so the task can report its
// exit.
func (s *SessionService) Stop(ctx context.Context, id string) (*models.Session, error) {
	unlock := s.machine.Lock(id)
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if err := s.machine.Transition(ctx, sess, models.StateInterrupting); err != nil {
		unlock()
		return nil, err
	}
	s.emitState(ctx, id, models.StateInterrupting)
	unlock()

	if err := s.runner.Stop(ctx, id); err != nil {
		s.logger.Warn("Runner stop failed", "session_id", id, "error", err)
	}

	unlock = s.machine.Lock(id)
	defer unlock()
	sess, err = s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.State == models.StateInterrupting {
		code := 0
		sess.ExitCode = &code
		if err := s.machine.Transition(ctx, sess, models.StateAwaitingInput); err != nil {
			return nil, err
		}
		s.emitState(ctx, id, models.StateAwaitingInput)
		p := events.InputRequiredPayload{LastOutput: s.store.LastOutput(id)}
		if err := s.emitter.InputRequired(ctx, id, p); err != nil {
			s.logger.Error("Emitting input_required failed", "session_id", id, "error", err)
		}
	}
	return sess, nil
}

// Rename sets the session name, bounded to state.MaxNameLen runes.
func (s *SessionService) Rename(ctx context.Context, id, name string) (*models.Session, error) {
	if name == "" {
		return nil, store.NewValidationError("name", "must not be empty")
	}
	if utf8.RuneCountInString(name) > state.MaxNameLen {
		return nil, store.NewValidationError("name",
			fmt.Sprintf("must be at most %d characters", state.MaxNameLen))
	}

	unlock := s.machine.Lock(id)
	defer unlock()

	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Name = name
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete interrupts any live task, unbinds the platform, and removes the
// session with its history.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	unlock := s.machine.Lock(id)
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		unlock()
		return err
	}
	unlock()

	if s.store.TaskFor(id) != nil {
		if err := s.runner.Stop(ctx, id); err != nil {
			s.logger.Warn("Runner stop failed during delete", "session_id", id, "error", err)
		}
	}
	if sess.Platform != models.PlatformNone {
		s.router.Unsubscribe(id)
	}

	unlock = s.machine.Lock(id)
	err = s.store.DeleteSession(ctx, id)
	unlock()
	if err != nil {
		return err
	}
	s.machine.DropLock(id)

	s.logger.Info("Session deleted", "session_id", id)
	return nil
}

// Recover runs once at startup: workdir registrations are rebuilt, platform
// subscriptions restored, and sessions the previous process left in
// RUNNING or INTERRUPTING are settled into AWAITING_INPUT so they can be
// resumed with input.
func (s *SessionService) Recover(ctx context.Context) error {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		if sess.Directory != "" {
			s.store.SetWorkdir(sess.ID, sess.Directory)
		}

		if sess.Platform != models.PlatformNone {
			if b, err := s.bridges.Get(string(sess.Platform)); err == nil {
				if binder, ok := b.(bridge.ThreadBinder); ok && sess.PlatformThreadID != "" {
					binder.BindThread(sess.ID, sess.PlatformThreadID)
				}
				if err := s.router.Subscribe(sess.ID, string(sess.Platform)); err != nil {
					s.logger.Warn("Restoring bridge subscription failed",
						"session_id", sess.ID, "platform", sess.Platform, "error", err)
				}
			}
		}

		switch sess.State {
		case models.StateRunning, models.StateInterrupting:
			unlock := s.machine.Lock(sess.ID)
			if err := s.machine.Transition(ctx, sess, models.StateAwaitingInput); err != nil {
				s.logger.Error("Settling orphaned session failed", "session_id", sess.ID, "error", err)
				unlock()
				continue
			}
			s.emitState(ctx, sess.ID, models.StateAwaitingInput)
			if err := s.emitter.InputRequired(ctx, sess.ID, events.InputRequiredPayload{}); err != nil {
				s.logger.Error("Emitting input_required failed", "session_id", sess.ID, "error", err)
			}
			unlock()
			s.logger.Info("Settled orphaned session", "session_id", sess.ID)
		}
	}
	return nil
}

func (s *SessionService) emitState(ctx context.Context, id string, st models.SessionState) {
	if err := s.emitter.SessionState(ctx, id, st); err != nil {
		s.logger.Error("Emitting session_state failed", "session_id", id, "error", err)
	}
}
