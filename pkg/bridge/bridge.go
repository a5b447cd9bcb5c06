// Package bridge connects session timelines to chat platforms. The Bridge
// interface is the verb set a platform must implement; the Manager is the
// process-wide platform registry; the Router consumes session events and
// maps them onto bridge verbs.
package bridge

import (
	"context"
	"fmt"
	"sync"
)

// Approval request kinds.
const (
	KindChoice     = "choice"     // structured multiple-choice question
	KindPermission = "permission" // allow/deny a tool invocation
)

// ApprovalRequest is a user-facing question rendered by a bridge.
type ApprovalRequest struct {
	Kind        string
	RequestID   string
	Title       string
	Description string
	Options     []string
}

// Thread identifies a platform conversation bound to a session.
type Thread struct {
	ThreadID string `json:"thread_id"`
	Platform string `json:"platform"`
}

// Bridge is the verb set of one chat platform. Implementations are
// fail-open: delivery problems are logged by the bridge, not surfaced to
// the router.
type Bridge interface {
	Platform() string
	OnOutput(ctx context.Context, sessionID, text string) error
	OnApprovalRequest(ctx context.Context, sessionID string, req ApprovalRequest) error
	OnStatusChange(ctx context.Context, sessionID, status string, detail map[string]string) error
	OnTyping(ctx context.Context, sessionID string) error
	OnTypingStopped(ctx context.Context, sessionID string) error
	OnSessionRemoved(ctx context.Context, sessionID string) error
	CreateThread(ctx context.Context, sessionID, sessionName string) (*Thread, error)
}

// ThreadBinder is implemented by bridges that can restore a session to
// thread mapping from persisted state after a restart.
type ThreadBinder interface {
	BindThread(sessionID, threadID string)
}

// Manager is the process-wide registry of platform bridges.
type Manager struct {
	mu      sync.RWMutex
	bridges map[string]Bridge
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{bridges: make(map[string]Bridge)}
}

// Register adds a bridge under its platform name.
func (m *Manager) Register(b Bridge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridges[b.Platform()] = b
}

// Get returns the bridge for a platform.
func (m *Manager) Get(platform string) (Bridge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bridges[platform]
	if !ok {
		return nil, fmt.Errorf("no bridge registered for platform %q", platform)
	}
	return b, nil
}

// Platforms lists registered platform names.
func (m *Manager) Platforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.bridges))
	for name := range m.bridges {
		out = append(out, name)
	}
	return out
}
