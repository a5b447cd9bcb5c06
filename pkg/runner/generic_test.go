package runner

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tether-ai/tether-agent/pkg/database"
	"github.com/tether-ai/tether-agent/pkg/events"
	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/store"
	"github.com/tether-ai/tether-agent/pkg/tools"
)

// recordingCallbacks captures every callback invocation for assertions.
type recordingCallbacks struct {
	mu sync.Mutex

	outputs       []string
	outputKinds   []string
	finals        []string
	errors        []string
	exitCodes     []*int
	awaitingCalls int
	headerCalls   int
	heartbeats    []bool

	// awaitingHook, when set, runs inside OnAwaitingInput.
	awaitingHook func(sessionID string)
}

func (c *recordingCallbacks) OnHeader(_ context.Context, _ string, _ events.HeaderPayload, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headerCalls++
}

func (c *recordingCallbacks) OnOutput(_ context.Context, _, text, kind string, _ bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = append(c.outputs, text)
	c.outputKinds = append(c.outputKinds, kind)
}

func (c *recordingCallbacks) OnOutputFinal(_ context.Context, _, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finals = append(c.finals, text)
}

func (c *recordingCallbacks) OnMetadata(_ context.Context, _ string, _ events.MetadataPayload) {}

func (c *recordingCallbacks) OnHeartbeat(_ context.Context, _ string, _ float64, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeats = append(c.heartbeats, done)
}

func (c *recordingCallbacks) OnPermissionRequest(_ context.Context, _ string, _ events.PermissionRequestPayload) {
}

func (c *recordingCallbacks) OnError(_ context.Context, _, code, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, code+": "+message)
}

func (c *recordingCallbacks) OnExit(_ context.Context, _ string, exitCode *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exitCodes = append(c.exitCodes, exitCode)
}

func (c *recordingCallbacks) OnAwaitingInput(_ context.Context, sessionID string) {
	c.mu.Lock()
	hook := c.awaitingHook
	c.awaitingCalls++
	c.mu.Unlock()
	if hook != nil {
		hook(sessionID)
	}
}

func (c *recordingCallbacks) snapshot() recordingCallbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return recordingCallbacks{
		outputs:       append([]string(nil), c.outputs...),
		outputKinds:   append([]string(nil), c.outputKinds...),
		finals:        append([]string(nil), c.finals...),
		errors:        append([]string(nil), c.errors...),
		exitCodes:     append([]*int(nil), c.exitCodes...),
		awaitingCalls: c.awaitingCalls,
		headerCalls:   c.headerCalls,
		heartbeats:    append([]bool(nil), c.heartbeats...),
	}
}

func (c *recordingCallbacks) doneHeartbeatLast(t *testing.T) {
	t.Helper()
	require.NotEmpty(t, c.heartbeats)
	assert.True(t, c.heartbeats[len(c.heartbeats)-1])
	for _, done := range c.heartbeats[:len(c.heartbeats)-1] {
		assert.False(t, done, "done heartbeat must be the final one")
	}
}

// scriptedBackend returns canned responses in order and persists turns the
// way a real backend would.
type scriptedBackend struct {
	store        *store.Store
	mu           sync.Mutex
	responses    []*APIResponse
	waitOnCancel bool
	unavailable  error
}

func (b *scriptedBackend) Info() Info {
	return Info{Title: "scripted", Model: "test-model", Provider: "test"}
}

func (b *scriptedBackend) Available() error { return b.unavailable }

func (b *scriptedBackend) CallAPI(ctx context.Context, _ string, _ []*models.Message) (*APIResponse, error) {
	if b.waitOnCancel {
		<-ctx.Done()
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.responses) == 0 {
		return &APIResponse{StopReason: "end_turn"}, nil
	}
	resp := b.responses[0]
	b.responses = b.responses[1:]
	return resp, nil
}

func (b *scriptedBackend) SaveAssistantResponse(ctx context.Context, sessionID string, content []models.ContentBlock) error {
	_, err := b.store.AppendMessage(ctx, sessionID, models.RoleAssistant, content)
	return err
}

func (b *scriptedBackend) ExtractToolUses(content []models.ContentBlock) []ToolUse {
	var uses []ToolUse
	for _, block := range content {
		if block.Type == models.BlockToolUse {
			uses = append(uses, ToolUse{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	return uses
}

func (b *scriptedBackend) AddToolResults(ctx context.Context, sessionID string, uses []ToolUse, results []ToolResult) error {
	blocks := make([]models.ContentBlock, len(uses))
	for i, use := range uses {
		blocks[i] = models.ContentBlock{
			Type:      models.BlockToolResult,
			ToolUseID: use.ID,
			Content:   results[i].Output,
			IsError:   results[i].IsError,
		}
	}
	_, err := b.store.AppendMessage(ctx, sessionID, models.RoleTool, blocks)
	return err
}

func newRunnerHarness(t *testing.T, backend *scriptedBackend) (*Generic, *store.Store, *recordingCallbacks, string) {
	t.Helper()
	client, err := database.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())
	backend.store = st
	cb := &recordingCallbacks{}
	workdir := t.TempDir()

	now := time.Now().UTC().Truncate(time.Second)
	sess := &models.Session{
		ID:             "sess_" + uuid.NewString(),
		State:          models.StateRunning,
		CreatedAt:      now,
		LastActivityAt: now,
		Platform:       models.PlatformNone,
	}
	require.NoError(t, st.CreateSession(context.Background(), sess))
	st.SetWorkdir(sess.ID, workdir)

	r := NewGeneric(st, cb, backend, tools.NewExecutor(st))
	return r, st, cb, sess.ID
}

func waitForTask(t *testing.T, st *store.Store, sessionID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		task := st.TaskFor(sessionID)
		if task == nil {
			return true
		}
		select {
		case <-task.Done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

// waitForTerminal waits until the task has reported through OnExit or
// OnAwaitingInput, which happens after the task handle is released.
func waitForTerminal(t *testing.T, cb *recordingCallbacks) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := cb.snapshot()
		return got.awaitingCalls > 0 || len(got.exitCodes) > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGeneric_Start_EndTurnEmitsFinal(t *testing.T) {
	backend := &scriptedBackend{responses: []*APIResponse{
		{
			Content:    []models.ContentBlock{models.TextBlock("all done")},
			StopReason: "end_turn",
			Usage:      Usage{InputTokens: 10, OutputTokens: 5},
		},
	}}
	r, st, cb, sessionID := newRunnerHarness(t, backend)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, sessionID, "do the thing"))
	waitForTask(t, st, sessionID)
	waitForTerminal(t, cb)

	got := cb.snapshot()
	assert.Equal(t, []string{"all done"}, got.finals)
	assert.Equal(t, 1, got.awaitingCalls)
	assert.Equal(t, 1, got.headerCalls)
	got.doneHeartbeatLast(t)
	assert.Empty(t, got.errors)

	msgs, err := st.GetMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "do the thing", msgs[0].Text())
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
}

func TestGeneric_ToolIteration(t *testing.T) {
	toolInput, _ := json.Marshal(map[string]string{"command": "echo tool-ran"})
	backend := &scriptedBackend{responses: []*APIResponse{
		{
			Content: []models.ContentBlock{{
				Type:  models.BlockToolUse,
				ID:    "toolu_1",
				Name:  "bash",
				Input: toolInput,
			}},
			StopReason: "tool_use",
		},
		{
			Content:    []models.ContentBlock{models.TextBlock("finished")},
			StopReason: "end_turn",
		},
	}}
	r, st, cb, sessionID := newRunnerHarness(t, backend)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, sessionID, "run a command"))
	waitForTask(t, st, sessionID)

	got := cb.snapshot()
	require.Len(t, got.outputs, 2)
	assert.Contains(t, got.outputs[0], "[tool: bash]")
	assert.Contains(t, got.outputs[1], "[result] tool-ran")
	assert.Equal(t, []string{events.KindStep, events.KindStep}, got.outputKinds)
	assert.Equal(t, []string{"finished"}, got.finals)

	msgs, err := st.GetMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, models.RoleTool, msgs[2].Role)
	require.Len(t, msgs[2].Content, 1)
	assert.Equal(t, "toolu_1", msgs[2].Content[0].ToolUseID)
	assert.Equal(t, "tool-ran", msgs[2].Content[0].Content)
	assert.False(t, msgs[2].Content[0].IsError)
}

func TestGeneric_BashExitCodeEchoedAsResult(t *testing.T) {
	toolInput, _ := json.Marshal(map[string]string{"command": "exit 1"})
	backend := &scriptedBackend{responses: []*APIResponse{
		{
			Content: []models.ContentBlock{{
				Type:  models.BlockToolUse,
				ID:    "toolu_1",
				Name:  "bash",
				Input: toolInput,
			}},
			StopReason: "tool_use",
		},
		{StopReason: "end_turn"},
	}}
	r, st, _, sessionID := newRunnerHarness(t, backend)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, sessionID, "try it"))
	waitForTask(t, st, sessionID)

	// A non-zero exit is the tool's return value, not an error result.
	msgs, err := st.GetMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Len(t, msgs[2].Content, 1)
	assert.False(t, msgs[2].Content[0].IsError)
	assert.Equal(t, "Command exited with code 1", msgs[2].Content[0].Content)
}

func TestGeneric_ToolFailureFedBackAsError(t *testing.T) {
	toolInput, _ := json.Marshal(map[string]string{"path": "../outside.txt"})
	backend := &scriptedBackend{responses: []*APIResponse{
		{
			Content: []models.ContentBlock{{
				Type:  models.BlockToolUse,
				ID:    "toolu_1",
				Name:  "file_read",
				Input: toolInput,
			}},
			StopReason: "tool_use",
		},
		{StopReason: "end_turn"},
	}}
	r, st, _, sessionID := newRunnerHarness(t, backend)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, sessionID, "fail please"))
	waitForTask(t, st, sessionID)

	msgs, err := st.GetMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Len(t, msgs[2].Content, 1)
	assert.True(t, msgs[2].Content[0].IsError)
	assert.Contains(t, msgs[2].Content[0].Content, "Path escapes working directory")
}

func TestGeneric_Stop_ReportsCleanExit(t *testing.T) {
	backend := &scriptedBackend{waitOnCancel: true}
	r, st, cb, sessionID := newRunnerHarness(t, backend)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, sessionID, "never finishes"))
	require.Eventually(t, func() bool {
		return st.TaskFor(sessionID) != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop(ctx, sessionID))
	waitForTask(t, st, sessionID)
	waitForTerminal(t, cb)

	got := cb.snapshot()
	require.Len(t, got.exitCodes, 1)
	require.NotNil(t, got.exitCodes[0])
	assert.Equal(t, 0, *got.exitCodes[0])
	assert.Zero(t, got.awaitingCalls)
	got.doneHeartbeatLast(t)
	assert.False(t, st.StopRequested(sessionID))
}

func TestGeneric_Stop_NoLiveTask(t *testing.T) {
	backend := &scriptedBackend{}
	r, st, _, sessionID := newRunnerHarness(t, backend)

	require.NoError(t, r.Stop(context.Background(), sessionID))
	assert.False(t, st.StopRequested(sessionID))
}

func TestGeneric_MaxTokensTruncation(t *testing.T) {
	backend := &scriptedBackend{responses: []*APIResponse{
		{
			Content:    []models.ContentBlock{models.TextBlock("partial")},
			StopReason: "max_tokens",
		},
	}}
	r, st, cb, sessionID := newRunnerHarness(t, backend)

	require.NoError(t, r.Start(context.Background(), sessionID, "long answer"))
	waitForTask(t, st, sessionID)
	waitForTerminal(t, cb)

	got := cb.snapshot()
	require.Len(t, got.outputs, 1)
	assert.Equal(t, "[max tokens reached]", got.outputs[0])
	assert.Equal(t, events.KindFinal, got.outputKinds[0])
	assert.Equal(t, 1, got.awaitingCalls)
}

func TestGeneric_Start_Unavailable(t *testing.T) {
	backend := &scriptedBackend{unavailable: ErrUnavailable}
	r, _, _, sessionID := newRunnerHarness(t, backend)

	err := r.Start(context.Background(), sessionID, "anything")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGeneric_SendInput_ClearsPendingPermissions(t *testing.T) {
	backend := &scriptedBackend{responses: []*APIResponse{
		{
			Content:    []models.ContentBlock{models.TextBlock("ok")},
			StopReason: "end_turn",
		},
	}}
	r, st, _, sessionID := newRunnerHarness(t, backend)
	st.AddPendingPermission(sessionID, "req-1")

	require.NoError(t, r.SendInput(context.Background(), sessionID, "go ahead"))
	waitForTask(t, st, sessionID)

	assert.False(t, st.IsPendingPermission(sessionID, "req-1"))

	msgs, err := st.GetMessages(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "go ahead", msgs[0].Text())
}

func TestGeneric_FlushesBufferedInput(t *testing.T) {
	backend := &scriptedBackend{responses: []*APIResponse{
		{
			Content:    []models.ContentBlock{models.TextBlock("ok")},
			StopReason: "end_turn",
		},
	}}
	r, st, _, sessionID := newRunnerHarness(t, backend)
	st.PushPendingInput(sessionID, "buffered note")

	require.NoError(t, r.Start(context.Background(), sessionID, "prompt"))
	waitForTask(t, st, sessionID)

	msgs, err := st.GetMessages(context.Background(), sessionID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, "prompt", msgs[0].Text())
	assert.Equal(t, "buffered note", msgs[1].Text())
}

func TestGeneric_InputAtTurnEndRelaunchesTask(t *testing.T) {
	backend := &scriptedBackend{responses: []*APIResponse{
		{
			Content:    []models.ContentBlock{models.TextBlock("first")},
			StopReason: "end_turn",
		},
		{
			Content:    []models.ContentBlock{models.TextBlock("second")},
			StopReason: "end_turn",
		},
	}}
	r, st, cb, sessionID := newRunnerHarness(t, backend)
	ctx := context.Background()

	// Input sent the instant the task reports AWAITING_INPUT must see the
	// task handle already released, so SendInput relaunches instead of
	// leaving the session stranded.
	var once sync.Once
	taskSeen := make(chan *store.Task, 1)
	sendErr := make(chan error, 1)
	cb.awaitingHook = func(id string) {
		once.Do(func() {
			taskSeen <- st.TaskFor(id)
			sendErr <- r.SendInput(ctx, id, "follow up")
		})
	}

	require.NoError(t, r.Start(ctx, sessionID, "start"))

	assert.Nil(t, <-taskSeen)
	require.NoError(t, <-sendErr)

	require.Eventually(t, func() bool {
		return cb.snapshot().awaitingCalls == 2
	}, 5*time.Second, 10*time.Millisecond)

	got := cb.snapshot()
	assert.Equal(t, []string{"first", "second"}, got.finals)
}
