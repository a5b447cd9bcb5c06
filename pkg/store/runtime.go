package store

import "context"

// Task is the handle of a session's live conversation task. Cancel stops
// the task's context; Done is closed when the task goroutine has exited.
type Task struct {
	Cancel context.CancelFunc
	Done   chan struct{}
}

// SetTask records the live task for a session.
func (s *Store) SetTask(sessionID string, task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[sessionID] = task
}

// TaskFor returns the live task for a session, or nil.
func (s *Store) TaskFor(sessionID string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[sessionID]
}

// ClearTask removes the task handle if it is still the given one.
func (s *Store) ClearTask(sessionID string, task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[sessionID] == task {
		delete(s.tasks, sessionID)
	}
}

// PushPendingInput queues an input fragment that arrived while the runner
// was not ready to consume it.
func (s *Store) PushPendingInput(sessionID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingInput[sessionID] = append(s.pendingInput[sessionID], text)
}

// DrainPendingInput removes and returns all queued input fragments.
func (s *Store) DrainPendingInput(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.pendingInput[sessionID]
	delete(s.pendingInput, sessionID)
	return queued
}

// SetStopFlag marks a session as stop-requested.
func (s *Store) SetStopFlag(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopFlags[sessionID] = struct{}{}
}

// StopRequested reports whether a stop has been requested.
func (s *Store) StopRequested(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stopFlags[sessionID]
	return ok
}

// ClearStopFlag clears the stop-requested mark.
func (s *Store) ClearStopFlag(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stopFlags, sessionID)
}

// SetWorkdir records the resolved working directory for a session.
func (s *Store) SetWorkdir(sessionID, dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workdirs[sessionID] = dir
}

// Workdir returns the working directory registered for a session.
func (s *Store) Workdir(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, ok := s.workdirs[sessionID]
	return dir, ok
}

// SyncedCount returns how many external records have been synced this
// process lifetime.
func (s *Store) SyncedCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncedCounts[sessionID]
}

// SetSyncedCount records the external sync high-water mark.
func (s *Store) SetSyncedCount(sessionID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncedCounts[sessionID] = n
}

// SetLastOutput remembers the session's most recent output text. It is
// attached to input_required events so clients can show what the runner
// said last.
func (s *Store) SetLastOutput(sessionID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOutputs[sessionID] = text
}

// LastOutput returns the most recent output text recorded for a session.
func (s *Store) LastOutput(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutputs[sessionID]
}

// AddPendingPermission registers an unresolved permission request id.
func (s *Store) AddPendingPermission(sessionID, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingPerms[sessionID] == nil {
		s.pendingPerms[sessionID] = make(map[string]struct{})
	}
	s.pendingPerms[sessionID][requestID] = struct{}{}
}

// IsPendingPermission reports whether a permission request is still open.
// The set is in-memory only, so after a restart every historical request
// reads as resolved.
func (s *Store) IsPendingPermission(sessionID, requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pendingPerms[sessionID][requestID]
	return ok
}

// ClearPendingPermissions removes a session's open permission requests.
// Called when the session receives user input, which answers whatever was
// being asked.
func (s *Store) ClearPendingPermissions(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingPerms, sessionID)
}
