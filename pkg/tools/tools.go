// Package tools implements the built-in tool set available to runner
// backends: file_read, file_write, and bash. Every tool resolves paths
// against the session's working directory and refuses to leave it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Result is the uniform tool result envelope.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(output string) Result {
	return Result{Success: true, Output: output}
}

func fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// WorkdirSource resolves a session to its registered working directory.
type WorkdirSource interface {
	Workdir(sessionID string) (string, bool)
}

// Executor dispatches tool invocations for sessions.
type Executor struct {
	workdirs WorkdirSource
	logger   *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(workdirs WorkdirSource) *Executor {
	return &Executor{
		workdirs: workdirs,
		logger:   slog.Default().With("component", "tools"),
	}
}

// Execute runs the named tool with JSON input for a session. Tool failures
// are reported in the Result, never as a Go error: the loop forwards them
// to the model as failed tool results.
func (e *Executor) Execute(ctx context.Context, sessionID, name string, input json.RawMessage) Result {
	workdir, okDir := e.workdirs.Workdir(sessionID)
	if !okDir {
		return fail("no working directory registered for session %s", sessionID)
	}

	var res Result
	switch name {
	case "file_read":
		res = e.fileRead(workdir, input)
	case "file_write":
		res = e.fileWrite(workdir, input)
	case "bash":
		res = e.bash(ctx, workdir, input)
	default:
		res = fail("unknown tool: %s", name)
	}

	if !res.Success {
		e.logger.Warn("Tool failed", "session_id", sessionID, "tool", name, "error", res.Error)
	}
	return res
}

// resolvePath resolves p against workdir and verifies the result stays
// inside it.
func resolvePath(workdir, p string) (string, error) {
	resolved := p
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(workdir, resolved)
	}
	resolved = filepath.Clean(resolved)

	root := filepath.Clean(workdir)
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("Path escapes working directory: %s", p)
	}
	return resolved, nil
}
