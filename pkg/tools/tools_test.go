package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticWorkdirs map[string]string

func (w staticWorkdirs) Workdir(sessionID string) (string, bool) {
	dir, ok := w[sessionID]
	return dir, ok
}

func newTestExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	return NewExecutor(staticWorkdirs{"sess_1": dir}), dir
}

func execute(t *testing.T, e *Executor, tool string, input any) Result {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	return e.Execute(context.Background(), "sess_1", tool, raw)
}

func TestExecute_UnknownTool(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := e.Execute(context.Background(), "sess_1", "file_delete", []byte(`{}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")
}

func TestExecute_NoWorkdirRegistered(t *testing.T) {
	e := NewExecutor(staticWorkdirs{})

	res := e.Execute(context.Background(), "sess_unknown", "bash", []byte(`{"command":"true"}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no working directory")
}

func TestFileWrite_ReportsBytesWritten(t *testing.T) {
	e, dir := newTestExecutor(t)

	res := execute(t, e, "file_write", map[string]string{"path": "a.txt", "content": "x"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Successfully wrote 1 bytes to a.txt", res.Output)

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestFileWrite_CreatesParentDirectories(t *testing.T) {
	e, dir := newTestExecutor(t)

	res := execute(t, e, "file_write", map[string]string{
		"path":    "nested/deep/b.txt",
		"content": "hello",
	})
	require.True(t, res.Success, res.Error)

	data, err := os.ReadFile(filepath.Join(dir, "nested", "deep", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFileWrite_RejectsEscapingPath(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := execute(t, e, "file_write", map[string]string{
		"path":    "../outside.txt",
		"content": "nope",
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Path escapes working directory: ../outside.txt", res.Error)
}

func TestFileRead_NumbersLines(t *testing.T) {
	e, dir := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("one\ntwo\nthree\n"), 0o644))

	res := execute(t, e, "file_read", map[string]any{"path": "f.txt"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "1     \tone\n2     \ttwo\n3     \tthree\n", res.Output)
}

func TestFileRead_OffsetAndLimit(t *testing.T) {
	e, dir := newTestExecutor(t)
	var content string
	for i := 1; i <= 10; i++ {
		content += fmt.Sprintf("line %d\n", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte(content), 0o644))

	res := execute(t, e, "file_read", map[string]any{"path": "f.txt", "offset": 4, "limit": 2})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "4     \tline 4\n5     \tline 5\n", res.Output)
}

func TestFileRead_EmptyRange(t *testing.T) {
	e, dir := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("only\n"), 0o644))

	res := execute(t, e, "file_read", map[string]any{"path": "f.txt", "offset": 10})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "(no lines in requested range)", res.Output)
}

func TestFileRead_MissingFile(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := execute(t, e, "file_read", map[string]any{"path": "missing.txt"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "cannot read missing.txt")
}

func TestFileRead_RejectsEscapingPath(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := execute(t, e, "file_read", map[string]any{"path": "../../etc/passwd"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Path escapes working directory")
}

func TestBash_CapturesOutput(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := execute(t, e, "bash", map[string]any{"command": "echo hello"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "hello", res.Output)
}

func TestBash_RunsInWorkdir(t *testing.T) {
	e, dir := newTestExecutor(t)

	res := execute(t, e, "bash", map[string]any{"command": "pwd"})
	require.True(t, res.Success, res.Error)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(res.Output)
	require.NoError(t, err)
	assert.Equal(t, resolved, got)
}

func TestBash_EmptyOutput(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := execute(t, e, "bash", map[string]any{"command": "true"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "(no output)", res.Output)
}

func TestBash_NonZeroExit(t *testing.T) {
	e, _ := newTestExecutor(t)

	// The exit code is part of the tool's return value, not a failure.
	res := execute(t, e, "bash", map[string]any{"command": "echo oops; exit 3"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Command exited with code 3\noops", res.Output)
}

func TestBash_NonZeroExitWithoutOutput(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := execute(t, e, "bash", map[string]any{"command": "exit 7"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Command exited with code 7", res.Output)
}

func TestBash_Timeout(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := execute(t, e, "bash", map[string]any{"command": "sleep 5", "timeout": 1})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "command timed out after 1s")
}

func TestBash_EmptyCommand(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := execute(t, e, "bash", map[string]any{"command": "  "})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "bash requires a command")
}

func TestSchemas_CoverBuiltinTools(t *testing.T) {
	names := make([]string, 0, 3)
	for _, s := range Schemas() {
		names = append(names, s.Name)
		assert.NotEmpty(t, s.Description)
		assert.Equal(t, "object", s.InputSchema["type"])
	}
	assert.ElementsMatch(t, []string{"file_read", "file_write", "bash"}, names)
}
