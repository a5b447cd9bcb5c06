package bridge

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
)

// fakeBridge records the verbs the router invokes.
type fakeBridge struct {
	mu sync.Mutex

	outputs   []string
	approvals []ApprovalRequest
	statuses  []string
	typing    int
	typingOff int
	removed   int
}

func (b *fakeBridge) Platform() string { return "fake" }

func (b *fakeBridge) OnOutput(_ context.Context, _, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs = append(b.outputs, text)
	return nil
}

func (b *fakeBridge) OnApprovalRequest(_ context.Context, _ string, req ApprovalRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.approvals = append(b.approvals, req)
	return nil
}

func (b *fakeBridge) OnStatusChange(_ context.Context, _, status string, _ map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, status)
	return nil
}

func (b *fakeBridge) OnTyping(_ context.Context, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typing++
	return nil
}

func (b *fakeBridge) OnTypingStopped(_ context.Context, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typingOff++
	return nil
}

func (b *fakeBridge) OnSessionRemoved(_ context.Context, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed++
	return nil
}

func (b *fakeBridge) CreateThread(_ context.Context, sessionID, _ string) (*Thread, error) {
	return &Thread{ThreadID: "thread-" + sessionID, Platform: "fake"}, nil
}

func (b *fakeBridge) snapshot() fakeBridge {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fakeBridge{
		outputs:   append([]string(nil), b.outputs...),
		approvals: append([]ApprovalRequest(nil), b.approvals...),
		statuses:  append([]string(nil), b.statuses...),
		typing:    b.typing,
		typingOff: b.typingOff,
		removed:   b.removed,
	}
}

func newRouterHarness(t *testing.T) (*Router, *store.Store, *fakeBridge, string) {
	t.Helper()
	client, err := database.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())
	b := &fakeBridge{}
	manager := NewManager()
	manager.Register(b)
	router := NewRouter(st, manager)
	t.Cleanup(router.Shutdown)

	now := time.Now().UTC().Truncate(time.Second)
	sess := &models.Session{
		ID:             "sess_" + uuid.NewString(),
		State:          models.StateCreated,
		CreatedAt:      now,
		LastActivityAt: now,
		Platform:       "fake",
	}
	require.NoError(t, st.CreateSession(context.Background(), sess))
	return router, st, b, sess.ID
}

func appendEvent(t *testing.T, st *store.Store, sessionID, eventType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = st.AppendEvent(context.Background(), sessionID, eventType, data)
	require.NoError(t, err)
}

func TestRouter_Subscribe_UnknownPlatform(t *testing.T) {
	router, _, _, sessionID := newRouterHarness(t)

	err := router.Subscribe(sessionID, "telegram")
	assert.Error(t, err)
}

func TestRouter_ForwardsFinalOutputOnly(t *testing.T) {
	router, st, b, sessionID := newRouterHarness(t)
	require.NoError(t, router.Subscribe(sessionID, "fake"))

	appendEvent(t, st, sessionID, events.TypeOutput,
		events.OutputPayload{Text: "step", Kind: events.KindStep, Final: false})
	appendEvent(t, st, sessionID, events.TypeOutput,
		events.OutputPayload{Text: "replayed", Final: true, IsHistory: true})
	appendEvent(t, st, sessionID, events.TypeOutputFinal,
		events.OutputFinalPayload{Text: "turn blob"})
	appendEvent(t, st, sessionID, events.TypeOutput,
		events.OutputPayload{Text: "the answer", Kind: events.KindFinal, Final: true})

	require.Eventually(t, func() bool {
		return len(b.snapshot().outputs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"the answer"}, b.snapshot().outputs)
}

func TestRouter_SessionStateDrivesTyping(t *testing.T) {
	router, st, b, sessionID := newRouterHarness(t)
	require.NoError(t, router.Subscribe(sessionID, "fake"))

	appendEvent(t, st, sessionID, events.TypeSessionState,
		events.SessionStatePayload{State: models.StateRunning})
	appendEvent(t, st, sessionID, events.TypeSessionState,
		events.SessionStatePayload{State: models.StateAwaitingInput})
	appendEvent(t, st, sessionID, events.TypeSessionState,
		events.SessionStatePayload{State: models.StateError})

	require.Eventually(t, func() bool {
		got := b.snapshot()
		return got.typing == 1 && got.typingOff == 2 && len(got.statuses) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"error"}, b.snapshot().statuses)
}

func TestRouter_ErrorEventBecomesStatusChange(t *testing.T) {
	router, st, b, sessionID := newRouterHarness(t)
	require.NoError(t, router.Subscribe(sessionID, "fake"))

	appendEvent(t, st, sessionID, events.TypeError,
		events.ErrorPayload{Code: "RUNNER_ERROR", Message: "boom"})

	require.Eventually(t, func() bool {
		return len(b.snapshot().statuses) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"error"}, b.snapshot().statuses)
}

func TestRouter_PermissionRequestBecomesAllowDeny(t *testing.T) {
	router, st, b, sessionID := newRouterHarness(t)
	require.NoError(t, router.Subscribe(sessionID, "fake"))

	appendEvent(t, st, sessionID, events.TypePermissionRequest,
		events.PermissionRequestPayload{
			RequestID: "req-1",
			ToolName:  "bash",
			ToolInput: json.RawMessage(`{"command":"rm -rf build"}`),
		})

	require.Eventually(t, func() bool {
		return len(b.snapshot().approvals) == 1
	}, 2*time.Second, 10*time.Millisecond)

	req := b.snapshot().approvals[0]
	assert.Equal(t, KindPermission, req.Kind)
	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, "bash", req.Title)
	assert.Equal(t, []string{"Allow", "Deny"}, req.Options)
}

func TestRouter_AskUserQuestionBecomesChoice(t *testing.T) {
	router, st, b, sessionID := newRouterHarness(t)
	require.NoError(t, router.Subscribe(sessionID, "fake"))

	input := `{"questions":[{"header":"Deploy target","question":"Where should this go?",` +
		`"options":[{"label":"staging","description":"safe"},{"label":"production"}]}]}`
	appendEvent(t, st, sessionID, events.TypePermissionRequest,
		events.PermissionRequestPayload{
			RequestID: "req-2",
			ToolName:  "AskUserQuestion",
			ToolInput: json.RawMessage(input),
		})

	require.Eventually(t, func() bool {
		return len(b.snapshot().approvals) == 1
	}, 2*time.Second, 10*time.Millisecond)

	req := b.snapshot().approvals[0]
	assert.Equal(t, KindChoice, req.Kind)
	assert.Equal(t, "Deploy target", req.Title)
	assert.Equal(t, []string{"staging", "production"}, req.Options)
	assert.Contains(t, req.Description, "Where should this go?")
	assert.Contains(t, req.Description, "1. staging - safe")
	assert.Contains(t, req.Description, "2. production")
}

func TestRouter_SubscribeIsIdempotent(t *testing.T) {
	router, st, b, sessionID := newRouterHarness(t)
	require.NoError(t, router.Subscribe(sessionID, "fake"))
	require.NoError(t, router.Subscribe(sessionID, "fake"))

	appendEvent(t, st, sessionID, events.TypeOutput,
		events.OutputPayload{Text: "once", Final: true})

	require.Eventually(t, func() bool {
		return len(b.snapshot().outputs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A second consumer would deliver the output twice.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"once"}, b.snapshot().outputs)
}

func TestRouter_UnsubscribeNotifiesBridge(t *testing.T) {
	router, st, b, sessionID := newRouterHarness(t)
	require.NoError(t, router.Subscribe(sessionID, "fake"))

	router.Unsubscribe(sessionID)

	assert.Equal(t, 1, b.snapshot().removed)
	assert.Zero(t, st.SubscriberCount(sessionID))

	// Unsubscribing twice is harmless.
	router.Unsubscribe(sessionID)
	assert.Equal(t, 1, b.snapshot().removed)
}

func TestManager_RegisterAndGet(t *testing.T) {
	m := NewManager()
	b := &fakeBridge{}
	m.Register(b)

	got, err := m.Get("fake")
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = m.Get("slack")
	assert.Error(t, err)
	assert.Equal(t, []string{"fake"}, m.Platforms())
}
