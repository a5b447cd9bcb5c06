package events

import (
	"encoding/json"

	"github.com/tether-ai/tether-agent/pkg/models"
)

// OutputPayload carries runner output text.
type OutputPayload struct {
	Text      string `json:"text"`
	Kind      string `json:"kind"`
	Final     bool   `json:"final"`
	IsHistory bool   `json:"is_history,omitempty"`
}

// OutputFinalPayload is the turn-level concatenation of final output,
// emitted once per completed turn as a UI convenience.
type OutputFinalPayload struct {
	Text string `json:"text"`
}

// SessionStatePayload announces a lifecycle state change.
type SessionStatePayload struct {
	State models.SessionState `json:"state"`
}

// ErrorPayload carries a session-level failure.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// PermissionRequestPayload asks the user to approve a tool invocation.
type PermissionRequestPayload struct {
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// InputRequiredPayload signals the runner is idle and waiting on the user.
type InputRequiredPayload struct {
	LastOutput string `json:"last_output,omitempty"`
}

// HeaderPayload is the runner banner describing the backing model.
type HeaderPayload struct {
	Title    string `json:"title"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
	Sandbox  string `json:"sandbox,omitempty"`
	Approval string `json:"approval,omitempty"`
}

// MetadataPayload carries structured runner metadata such as token usage.
type MetadataPayload struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
	Raw   string `json:"raw,omitempty"`
}

// HeartbeatPayload is the periodic liveness signal of a running turn.
type HeartbeatPayload struct {
	ElapsedSeconds float64 `json:"elapsed_s"`
	Done           bool    `json:"done"`
}
