// Package maintenance runs the periodic housekeeping loop: retention
// pruning of old sessions and interruption of idle RUNNING sessions.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/services"
	"github.com/tether-ai/tether-agent/pkg/store"
)

// Service is the background maintenance loop. All passes are idempotent.
type Service struct {
	store    *store.Store
	sessions *services.SessionService

	retentionDays int
	idleTimeout   time.Duration // 0 disables idle interruption
	interval      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewService creates the maintenance service.
func NewService(st *store.Store, sessions *services.SessionService, retentionDays int, idleTimeout, interval time.Duration) *Service {
	return &Service{
		store:         st,
		sessions:      sessions,
		retentionDays: retentionDays,
		idleTimeout:   idleTimeout,
		interval:      interval,
		logger:        slog.Default().With("component", "maintenance"),
	}
}

// Start launches the background loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Maintenance service started",
		"retention_days", s.retentionDays,
		"idle_timeout", s.idleTimeout,
		"interval", s.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Maintenance service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one maintenance pass.
func (s *Service) RunOnce(ctx context.Context) {
	s.pruneOldSessions(ctx)
	s.interruptIdleSessions(ctx)
}

func (s *Service) pruneOldSessions(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	stale, err := s.store.ListSessionsLastActiveBefore(ctx, cutoff, "")
	if err != nil {
		s.logger.Error("Retention: listing stale sessions failed", "error", err)
		return
	}

	pruned := 0
	for _, sess := range stale {
		if err := s.sessions.Delete(ctx, sess.ID); err != nil {
			s.logger.Error("Retention: deleting session failed", "session_id", sess.ID, "error", err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		s.logger.Info("Retention: pruned old sessions", "count", pruned)
	}
}

func (s *Service) interruptIdleSessions(ctx context.Context) {
	if s.idleTimeout <= 0 {
		return
	}

	cutoff := time.Now().Add(-s.idleTimeout)
	idle, err := s.store.ListSessionsLastActiveBefore(ctx, cutoff, models.StateRunning)
	if err != nil {
		s.logger.Error("Idle sweep: listing sessions failed", "error", err)
		return
	}

	for _, sess := range idle {
		if _, err := s.sessions.Stop(ctx, sess.ID); err != nil {
			s.logger.Error("Idle sweep: interrupting session failed", "session_id", sess.ID, "error", err)
			continue
		}
		s.logger.Info("Idle sweep: interrupted session",
			"session_id", sess.ID, "idle_since", sess.LastActivityAt)
	}
}
