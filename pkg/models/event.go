package models

import (
	"encoding/json"
	"time"
)

// Event is one entry in a session's append-only timeline. Seq starts at 1
// and increases by exactly 1 per session with no gaps. The JSON shape of an
// Event is the wire shape used both by the SSE stream and the replay API.
type Event struct {
	SessionID string          `json:"-"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}
