// Package events defines the canonical session timeline event types, their
// payload shapes, and the emitter that appends them to the log.
package events

// Event types appearing on the session timeline.
const (
	TypeOutput            = "output"
	TypeOutputFinal       = "output_final"
	TypeSessionState      = "session_state"
	TypeError             = "error"
	TypePermissionRequest = "permission_request"
	TypeInputRequired     = "input_required"
	TypeHeader            = "header"
	TypeMetadata          = "metadata"
	TypeHeartbeat         = "heartbeat"
)

// Output kinds.
const (
	KindStep   = "step"   // intermediate progress (tool calls, reasoning)
	KindFinal  = "final"  // assistant-facing text
	KindHeader = "header" // runner banner; updates the session, never logged
)
