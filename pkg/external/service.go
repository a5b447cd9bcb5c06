package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tether-ai/tether-agent/pkg/events"
	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/store"
)

// Service attaches external agent sessions and syncs their rollout history.
type Service struct {
	store   *store.Store
	emitter *events.Emitter
	locator *Locator
	logger  *slog.Logger
}

// NewService creates the Service.
func NewService(st *store.Store, emitter *events.Emitter, locator *Locator) *Service {
	if locator == nil {
		locator = &Locator{}
	}
	return &Service{
		store:   st,
		emitter: emitter,
		locator: locator,
		logger:  slog.Default().With("component", "external"),
	}
}

// Attach registers an externally created session for observation. Attaching
// the same external id twice returns the existing session.
func (s *Service) Attach(ctx context.Context, req *models.AttachSessionRequest) (*models.Session, error) {
	if req.ExternalID == "" {
		return nil, store.NewValidationError("external_id", "must not be empty")
	}
	if req.RunnerType == "" {
		return nil, store.NewValidationError("runner_type", "must not be empty")
	}

	if existing, err := s.store.GetSessionByRunnerSessionID(ctx, req.ExternalID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", req.RunnerType, req.ExternalID)
	}
	now := time.Now().UTC().Truncate(time.Second)
	sess := &models.Session{
		ID:                "sess_" + uuid.NewString(),
		State:             models.StateCreated,
		Name:              name,
		CreatedAt:         now,
		LastActivityAt:    now,
		RunnerType:        req.RunnerType,
		RunnerSessionID:   req.ExternalID,
		Directory:         req.Directory,
		ExternalName:      name,
		ExternalType:      req.RunnerType,
		ExternalWorkspace: req.Workspace,
		Platform:          models.PlatformNone,
	}
	if req.Directory != "" {
		if _, err := os.Stat(filepath.Join(req.Directory, ".git")); err == nil {
			sess.DirectoryHasGit = true
		}
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if sess.Directory != "" {
		s.store.SetWorkdir(sess.ID, sess.Directory)
	}

	s.logger.Info("External session attached",
		"session_id", sess.ID, "runner_type", req.RunnerType, "external_id", req.ExternalID)
	return sess, nil
}

// Sync re-reads the session's rollout file and appends records not yet in
// the history. The durable message count is the dedup baseline, so a
// restarted process (with its in-memory synced count reset) re-scans the
// file without emitting anything new.
func (s *Service) Sync(ctx context.Context, sessionID string) (*models.SyncResponse, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsExternal() {
		return nil, store.NewValidationError("session", "not an external session")
	}

	path, err := s.locator.Locate(sess.ExternalType, sess.RunnerSessionID)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, store.ErrNotFound)
	}
	records, err := ParseRollout(path)
	if err != nil {
		return nil, err
	}

	baseline := s.store.SyncedCount(sessionID)
	if stored, err := s.store.CountMessages(ctx, sessionID); err == nil && stored > baseline {
		baseline = stored
	}

	synced := 0
	for i := baseline; i < len(records); i++ {
		rec := records[i]
		_, err := s.store.AppendMessage(ctx, sessionID, rec.Role,
			[]models.ContentBlock{models.TextBlock(rec.Text)})
		if err != nil {
			return nil, err
		}
		err = s.emitter.Output(ctx, sessionID, events.OutputPayload{
			Text:      rec.Text,
			Kind:      events.KindFinal,
			Final:     rec.Role == models.RoleAssistant,
			IsHistory: true,
		})
		if err != nil {
			return nil, err
		}
		synced++
	}

	s.store.SetSyncedCount(sessionID, len(records))
	if synced > 0 {
		if err := s.store.TouchSession(ctx, sessionID); err != nil {
			s.logger.Warn("Touching session failed", "session_id", sessionID, "error", err)
		}
		s.logger.Info("External session synced",
			"session_id", sessionID, "new_records", synced, "total", len(records))
	}
	return &models.SyncResponse{Synced: synced, Total: len(records)}, nil
}
