package models

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	Directory      string   `json:"directory,omitempty"`
	RepoType       string   `json:"repo_type,omitempty"`
	RepoValue      string   `json:"repo_value,omitempty"`
	Name           string   `json:"name,omitempty"`
	Adapter        string   `json:"adapter,omitempty"`
	ApprovalMode   *int     `json:"approval_mode,omitempty"`
	Platform       Platform `json:"platform,omitempty"`
	WorkdirManaged bool     `json:"workdir_managed,omitempty"`
}

// StartSessionRequest is the body of POST /api/sessions/{id}/start.
type StartSessionRequest struct {
	Prompt         string `json:"prompt"`
	ApprovalChoice *int   `json:"approval_choice,omitempty"`
}

// SessionInputRequest is the body of POST /api/sessions/{id}/input.
type SessionInputRequest struct {
	Text string `json:"text"`
}

// RenameSessionRequest is the body of PATCH /api/sessions/{id}/rename.
type RenameSessionRequest struct {
	Name string `json:"name"`
}

// AttachSessionRequest is the body of POST /api/sessions/attach.
type AttachSessionRequest struct {
	ExternalID string `json:"external_id"`
	RunnerType string `json:"runner_type"`
	Directory  string `json:"directory,omitempty"`
	Name       string `json:"name,omitempty"`
	Workspace  string `json:"workspace,omitempty"`
}

// SyncResponse is the body returned by POST /api/sessions/{id}/sync.
type SyncResponse struct {
	Synced int `json:"synced"`
	Total  int `json:"total"`
}

// SessionListResponse wraps GET /api/sessions.
type SessionListResponse struct {
	Sessions []*Session `json:"sessions"`
}

// SessionResponse wraps endpoints returning a single session.
type SessionResponse struct {
	Session *Session `json:"session"`
}

// OKResponse acknowledges an operation with no other payload.
type OKResponse struct {
	OK bool `json:"ok"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	OK       bool   `json:"ok"`
	Version  string `json:"version"`
	Protocol int    `json:"protocol"`
	Sessions int    `json:"sessions"`
}

// ErrorBody is the inner object of the error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope is the uniform error response shape.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}
