package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tether-ai/tether-agent/pkg/models"
)

const sessionColumns = `id, repo_type, repo_value, state, name, created_at, started_at,
	ended_at, last_activity_at, exit_code, runner_header, runner_type,
	runner_session_id, directory, directory_has_git, workdir_managed,
	approval_mode, adapter, external_name, external_type, external_icon,
	external_workspace, platform, platform_thread_id`

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.RepoType, sess.RepoValue, string(sess.State), sess.Name,
		encodeTime(sess.CreatedAt), encodeTimePtr(sess.StartedAt),
		encodeTimePtr(sess.EndedAt), encodeTime(sess.LastActivityAt),
		encodeIntPtr(sess.ExitCode), sess.RunnerHeader, sess.RunnerType,
		encodeNullString(sess.RunnerSessionID), sess.Directory,
		sess.DirectoryHasGit, sess.WorkdirManaged, encodeIntPtr(sess.ApprovalMode),
		sess.Adapter, sess.ExternalName, sess.ExternalType, sess.ExternalIcon,
		sess.ExternalWorkspace, string(sess.Platform), sess.PlatformThreadID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session %s: %w", sess.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

// GetSessionByRunnerSessionID loads a session by its external runner id.
func (s *Store) GetSessionByRunnerSessionID(ctx context.Context, runnerSessionID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE runner_session_id = ?`, runnerSessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("runner session %s: %w", runnerSessionID, ErrNotFound)
	}
	return sess, err
}

// ListSessions returns all sessions, most recently created first.
func (s *Store) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ListSessionsLastActiveBefore returns sessions whose last activity is
// older than cutoff, optionally restricted to one state.
func (s *Store) ListSessionsLastActiveBefore(ctx context.Context, cutoff time.Time, state models.SessionState) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE last_activity_at < ?`
	args := []any{encodeTime(cutoff)}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing idle sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// CountSessions returns the total number of sessions.
func (s *Store) CountSessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

// UpdateSession writes all mutable session fields.
func (s *Store) UpdateSession(ctx context.Context, sess *models.Session) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			repo_type = ?, repo_value = ?, state = ?, name = ?, started_at = ?,
			ended_at = ?, last_activity_at = ?, exit_code = ?, runner_header = ?,
			runner_type = ?, runner_session_id = ?, directory = ?,
			directory_has_git = ?, workdir_managed = ?, approval_mode = ?,
			adapter = ?, external_name = ?, external_type = ?, external_icon = ?,
			external_workspace = ?, platform = ?, platform_thread_id = ?
		WHERE id = ?`,
		sess.RepoType, sess.RepoValue, string(sess.State), sess.Name,
		encodeTimePtr(sess.StartedAt), encodeTimePtr(sess.EndedAt),
		encodeTime(sess.LastActivityAt), encodeIntPtr(sess.ExitCode),
		sess.RunnerHeader, sess.RunnerType, encodeNullString(sess.RunnerSessionID),
		sess.Directory, sess.DirectoryHasGit, sess.WorkdirManaged,
		encodeIntPtr(sess.ApprovalMode), sess.Adapter, sess.ExternalName,
		sess.ExternalType, sess.ExternalIcon, sess.ExternalWorkspace,
		string(sess.Platform), sess.PlatformThreadID, sess.ID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	return nil
}

// TouchSession bumps last_activity_at to now.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE id = ?`,
		encodeTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// DeleteSession removes a session row; messages and events cascade. All
// volatile state for the session is dropped and its subscribers closed.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	s.dropVolatile(id)
	return nil
}

func (s *Store) dropVolatile(id string) {
	s.mu.Lock()
	subs := s.subscribers[id]
	delete(s.subscribers, id)
	delete(s.pendingInput, id)
	delete(s.stopFlags, id)
	delete(s.workdirs, id)
	delete(s.tasks, id)
	delete(s.syncedCounts, id)
	delete(s.pendingPerms, id)
	delete(s.lastOutputs, id)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}

	s.emitMu.Lock()
	delete(s.emitLocks, id)
	s.emitMu.Unlock()
}

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var (
		sess            models.Session
		state, platform string
		createdAt       string
		lastActivityAt  string
		startedAt       sql.NullString
		endedAt         sql.NullString
		exitCode        sql.NullInt64
		approvalMode    sql.NullInt64
		runnerSessionID sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.RepoType, &sess.RepoValue, &state, &sess.Name,
		&createdAt, &startedAt, &endedAt, &lastActivityAt, &exitCode,
		&sess.RunnerHeader, &sess.RunnerType, &runnerSessionID, &sess.Directory,
		&sess.DirectoryHasGit, &sess.WorkdirManaged, &approvalMode, &sess.Adapter,
		&sess.ExternalName, &sess.ExternalType, &sess.ExternalIcon,
		&sess.ExternalWorkspace, &platform, &sess.PlatformThreadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.State = models.SessionState(state)
	sess.Platform = models.Platform(platform)
	sess.CreatedAt = decodeTime(createdAt)
	sess.LastActivityAt = decodeTime(lastActivityAt)
	sess.StartedAt = decodeTimePtr(startedAt)
	sess.EndedAt = decodeTimePtr(endedAt)
	sess.ExitCode = decodeIntPtr(exitCode)
	sess.ApprovalMode = decodeIntPtr(approvalMode)
	if runnerSessionID.Valid {
		sess.RunnerSessionID = runnerSessionID.String
	}
	return &sess, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
