package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingInput_DrainEmptiesQueue(t *testing.T) {
	st := newTestStore(t)

	st.PushPendingInput("sess_1", "first")
	st.PushPendingInput("sess_1", "second")

	assert.Equal(t, []string{"first", "second"}, st.DrainPendingInput("sess_1"))
	assert.Empty(t, st.DrainPendingInput("sess_1"))
}

func TestStopFlag_Lifecycle(t *testing.T) {
	st := newTestStore(t)

	assert.False(t, st.StopRequested("sess_1"))
	st.SetStopFlag("sess_1")
	assert.True(t, st.StopRequested("sess_1"))
	assert.False(t, st.StopRequested("sess_2"))
	st.ClearStopFlag("sess_1")
	assert.False(t, st.StopRequested("sess_1"))
}

func TestWorkdir_Registry(t *testing.T) {
	st := newTestStore(t)

	_, ok := st.Workdir("sess_1")
	assert.False(t, ok)

	st.SetWorkdir("sess_1", "/tmp/work")
	dir, ok := st.Workdir("sess_1")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/work", dir)
}

func TestClearTask_OnlyRemovesMatchingTask(t *testing.T) {
	st := newTestStore(t)

	first := &Task{Cancel: func() {}, Done: make(chan struct{})}
	second := &Task{Cancel: func() {}, Done: make(chan struct{})}

	st.SetTask("sess_1", first)
	st.SetTask("sess_1", second)

	// Clearing the stale handle must not drop the live one.
	st.ClearTask("sess_1", first)
	assert.Equal(t, second, st.TaskFor("sess_1"))

	st.ClearTask("sess_1", second)
	assert.Nil(t, st.TaskFor("sess_1"))
}

func TestPendingPermissions_ScopedPerSession(t *testing.T) {
	st := newTestStore(t)

	st.AddPendingPermission("sess_1", "req-a")
	st.AddPendingPermission("sess_2", "req-b")

	assert.True(t, st.IsPendingPermission("sess_1", "req-a"))
	assert.False(t, st.IsPendingPermission("sess_1", "req-b"))

	st.ClearPendingPermissions("sess_1")
	assert.False(t, st.IsPendingPermission("sess_1", "req-a"))
	assert.True(t, st.IsPendingPermission("sess_2", "req-b"))
}

func TestLastOutput_TracksMostRecent(t *testing.T) {
	st := newTestStore(t)

	assert.Empty(t, st.LastOutput("sess_1"))

	st.SetLastOutput("sess_1", "first")
	st.SetLastOutput("sess_1", "second")
	assert.Equal(t, "second", st.LastOutput("sess_1"))
	assert.Empty(t, st.LastOutput("sess_2"))
}

func TestSyncedCount(t *testing.T) {
	st := newTestStore(t)

	assert.Zero(t, st.SyncedCount("sess_1"))
	st.SetSyncedCount("sess_1", 12)
	assert.Equal(t, 12, st.SyncedCount("sess_1"))
}
