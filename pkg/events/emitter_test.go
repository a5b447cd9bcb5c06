package events

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tether-ai/tether-agent/pkg/database"
	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/store"
)

func newTestEmitter(t *testing.T) (*Emitter, *store.Store, string) {
	t.Helper()
	client, err := database.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())
	now := time.Now().UTC().Truncate(time.Second)
	sess := &models.Session{
		ID:             "sess_emit",
		State:          models.StateRunning,
		CreatedAt:      now,
		LastActivityAt: now,
		Platform:       models.PlatformNone,
	}
	require.NoError(t, st.CreateSession(context.Background(), sess))
	return NewEmitter(st), st, sess.ID
}

func TestOutput_AppendsToTimeline(t *testing.T) {
	e, st, id := newTestEmitter(t)
	ctx := context.Background()

	require.NoError(t, e.Output(ctx, id, OutputPayload{Text: "hello", Kind: KindFinal, Final: true}))

	evs, err := st.ListEventsSince(ctx, id, 0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, TypeOutput, evs[0].Type)
	assert.Equal(t, int64(1), evs[0].Seq)

	var p OutputPayload
	require.NoError(t, json.Unmarshal(evs[0].Data, &p))
	assert.Equal(t, "hello", p.Text)
	assert.True(t, p.Final)
}

func TestOutput_HeaderKindUpdatesSessionNotLog(t *testing.T) {
	e, st, id := newTestEmitter(t)
	ctx := context.Background()

	require.NoError(t, e.Output(ctx, id, OutputPayload{Text: "Tether (claude)", Kind: KindHeader}))

	sess, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Tether (claude)", sess.RunnerHeader)

	evs, err := st.ListEventsSince(ctx, id, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestPermissionRequest_RegistersPending(t *testing.T) {
	e, st, id := newTestEmitter(t)
	ctx := context.Background()

	require.NoError(t, e.PermissionRequest(ctx, id, PermissionRequestPayload{
		RequestID: "perm-1",
		ToolName:  "bash",
	}))

	assert.True(t, st.IsPendingPermission(id, "perm-1"))

	evs, err := st.ListEventsSince(ctx, id, 0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, TypePermissionRequest, evs[0].Type)
}

func TestSessionState_PayloadShape(t *testing.T) {
	e, st, id := newTestEmitter(t)
	ctx := context.Background()

	require.NoError(t, e.SessionState(ctx, id, models.StateAwaitingInput))

	evs, err := st.ListEventsSince(ctx, id, 0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.JSONEq(t, `{"state":"AWAITING_INPUT"}`, string(evs[0].Data))
}

func TestEmit_UnknownSessionFails(t *testing.T) {
	e, _, _ := newTestEmitter(t)

	err := e.Error(context.Background(), "sess_missing", "", "boom")
	assert.Error(t, err)
}
