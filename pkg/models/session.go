// Package models defines the domain types shared across the agent:
// sessions, conversation messages, timeline events, and the request/response
// shapes of the HTTP API.
package models

import "time"

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	StateCreated       SessionState = "CREATED"
	StateRunning       SessionState = "RUNNING"
	StateAwaitingInput SessionState = "AWAITING_INPUT"
	StateInterrupting  SessionState = "INTERRUPTING"
	StateError         SessionState = "ERROR"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s SessionState) Valid() bool {
	switch s {
	case StateCreated, StateRunning, StateAwaitingInput, StateInterrupting, StateError:
		return true
	}
	return false
}

// Platform identifies the chat platform a session is bridged to.
type Platform string

const (
	PlatformNone     Platform = "none"
	PlatformTelegram Platform = "telegram"
	PlatformSlack    Platform = "slack"
	PlatformDiscord  Platform = "discord"
)

// ApprovalMode values for sessions that support permission gating.
// A nil pointer on the session means "not set".
const (
	ApprovalDefault     = 0
	ApprovalAcceptEdits = 1
	ApprovalYolo        = 2
)

// Session is the durable record of one agent conversation.
type Session struct {
	ID              string       `json:"id"`
	RepoType        string       `json:"repo_type,omitempty"`
	RepoValue       string       `json:"repo_value,omitempty"`
	State           SessionState `json:"state"`
	Name            string       `json:"name,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	EndedAt         *time.Time   `json:"ended_at,omitempty"`
	LastActivityAt  time.Time    `json:"last_activity_at"`
	ExitCode        *int         `json:"exit_code,omitempty"`
	RunnerHeader    string       `json:"runner_header,omitempty"`
	RunnerType      string       `json:"runner_type,omitempty"`
	RunnerSessionID string       `json:"runner_session_id,omitempty"`
	Directory       string       `json:"directory,omitempty"`
	DirectoryHasGit bool         `json:"directory_has_git"`
	WorkdirManaged  bool         `json:"workdir_managed"`
	ApprovalMode    *int         `json:"approval_mode,omitempty"`
	Adapter         string       `json:"adapter,omitempty"`

	// External session metadata, set for attached sessions only.
	ExternalName      string `json:"external_name,omitempty"`
	ExternalType      string `json:"external_type,omitempty"`
	ExternalIcon      string `json:"external_icon,omitempty"`
	ExternalWorkspace string `json:"external_workspace,omitempty"`

	Platform         Platform `json:"platform"`
	PlatformThreadID string   `json:"platform_thread_id,omitempty"`
}

// IsExternal reports whether the session was attached from an external
// runner rather than created through the control plane.
func (s *Session) IsExternal() bool {
	return s.ExternalType != ""
}
