// Package runner defines the runner contract, the generic conversation loop
// that drives any backend, and the adapter that turns runner callbacks into
// state transitions and timeline events.
package runner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tether-ai/tether-agent/pkg/events"
	"github.com/tether-ai/tether-agent/pkg/models"
)

// ErrUnavailable is returned when a runner cannot serve requests, for
// example because its backend credentials are missing. The HTTP layer maps
// it to 503.
var ErrUnavailable = errors.New("runner unavailable")

// Runner drives agent conversations for sessions.
type Runner interface {
	// Available reports whether the runner can serve requests; callers
	// check it before committing a state transition.
	Available() error
	// Start queues the initial prompt and launches the conversation task.
	// The caller has already moved the session to RUNNING.
	Start(ctx context.Context, sessionID, prompt string) error
	// SendInput appends user input, resolving any pending permission
	// requests, and relaunches the task if it is not live.
	SendInput(ctx context.Context, sessionID, text string) error
	// Stop sets the stop flag, cancels the live task, and waits for it to
	// exit within a bounded grace period. The caller owns the
	// INTERRUPTING bookkeeping around this call.
	Stop(ctx context.Context, sessionID string) error
}

// Callbacks is the bundle through which a conversation task reports
// progress. Implementations must be safe for concurrent use and must not
// block on the caller.
type Callbacks interface {
	// OnHeader reports the runner banner; threadID, when present, is the
	// runner's own session identifier (first write wins).
	OnHeader(ctx context.Context, sessionID string, h events.HeaderPayload, threadID string)
	OnOutput(ctx context.Context, sessionID, text, kind string, final bool)
	OnOutputFinal(ctx context.Context, sessionID, text string)
	OnMetadata(ctx context.Context, sessionID string, p events.MetadataPayload)
	OnHeartbeat(ctx context.Context, sessionID string, elapsedSeconds float64, done bool)
	OnPermissionRequest(ctx context.Context, sessionID string, p events.PermissionRequestPayload)
	OnError(ctx context.Context, sessionID, code, message string)
	OnExit(ctx context.Context, sessionID string, exitCode *int)
	OnAwaitingInput(ctx context.Context, sessionID string)
}

// Info describes a backend for the session header.
type Info struct {
	Title    string
	Model    string
	Provider string
}

// Usage is token accounting for one API call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// APIResponse is one model turn.
type APIResponse struct {
	Content    []models.ContentBlock
	StopReason string
	Usage      Usage
}

// ToolUse is one tool invocation requested by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Backend is the pluggable half of the conversation loop. The generic loop
// owns iteration, tool dispatch, and stop semantics; the backend owns the
// provider API and conversation encoding.
type Backend interface {
	// Info describes the backend for the session header.
	Info() Info
	// Available reports whether the backend can serve calls.
	Available() error
	// CallAPI sends the conversation and returns the model's turn.
	// A (nil, nil) return means the call was cancelled.
	CallAPI(ctx context.Context, sessionID string, msgs []*models.Message) (*APIResponse, error)
	// SaveAssistantResponse persists the assistant turn.
	SaveAssistantResponse(ctx context.Context, sessionID string, content []models.ContentBlock) error
	// ExtractToolUses pulls tool invocations out of an assistant turn.
	ExtractToolUses(content []models.ContentBlock) []ToolUse
	// AddToolResults persists tool results so the next CallAPI sees them.
	AddToolResults(ctx context.Context, sessionID string, uses []ToolUse, results []ToolResult) error
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Output  string
	IsError bool
}
