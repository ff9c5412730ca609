package controller

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/lock"
	"github.com/marksync/marksync/internal/models"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/store"
	syncengine "github.com/marksync/marksync/internal/sync"
	"github.com/marksync/marksync/internal/worker"
)

func testLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
}

func testController(t *testing.T, client *remote.MockClient) *Controller {
	t.Helper()
	st := store.NewMemoryStore()
	engine := syncengine.NewEngine(client, st, &syncengine.Config{}, testLogger())
	locks := lock.New(t.TempDir(), lock.SyncLockName, testLogger())
	mgr := worker.NewManager(engine, locks, &worker.Config{}, testLogger())
	return New(mgr, testLogger())
}

func TestReduceTransitions(t *testing.T) {
	state := models.NewSyncState()

	state = Reduce(state, models.SyncMessage{Type: models.MsgSyncInitiated})
	assert.Equal(t, models.StatusStarting, state.SyncStatus)
	assert.True(t, state.IsSyncing)

	state = Reduce(state, models.SyncMessage{
		Type: models.MsgSyncStarted, Phase: models.PhaseBookmarks, Total: 3,
	})
	assert.Equal(t, models.StatusSyncing, state.SyncStatus)
	assert.Equal(t, models.PhaseBookmarks, state.Phase)
	assert.Equal(t, 3, state.SyncTotal)
	assert.Equal(t, 0, state.SyncProgress)

	state = Reduce(state, models.SyncMessage{
		Type:     models.MsgBookmarkSynced,
		Phase:    models.PhaseBookmarks,
		Bookmark: &models.Bookmark{ID: "b1", URL: "https://example.com"},
		Current:  1, Total: 3,
	})
	assert.Equal(t, 1, state.SyncProgress)
	assert.Contains(t, state.SyncedBookmarkIDs, "b1")

	state = Reduce(state, models.SyncMessage{
		Type: models.MsgSyncProgress, Phase: models.PhaseAssets, Current: 3, Total: 3,
	})
	assert.Equal(t, models.PhaseAssets, state.Phase)
	assert.Equal(t, 3, state.SyncProgress)

	state = Reduce(state, models.SyncMessage{
		Type: models.MsgSyncComplete, Processed: 3,
	})
	assert.Equal(t, models.StatusComplete, state.SyncStatus)
	assert.False(t, state.IsSyncing)
	assert.Equal(t, models.PhaseComplete, state.Phase)
	assert.Empty(t, state.SyncedBookmarkIDs, "highlight set clears on completion")
}

func TestReduceError(t *testing.T) {
	state := models.NewSyncState()
	state = Reduce(state, models.SyncMessage{Type: models.MsgSyncInitiated})
	state = Reduce(state, models.SyncMessage{
		Type: models.MsgSyncError, Error: "fetch bookmarks: timeout", Recoverable: true,
	})

	assert.Equal(t, models.StatusFailed, state.SyncStatus)
	assert.False(t, state.IsSyncing)
	assert.Equal(t, "fetch bookmarks: timeout", state.LastError)
	assert.True(t, state.Recoverable)
}

func TestReduceImmutable(t *testing.T) {
	before := models.NewSyncState()
	before.SyncedBookmarkIDs["b0"] = struct{}{}

	after := Reduce(before, models.SyncMessage{
		Type:     models.MsgBookmarkSynced,
		Bookmark: &models.Bookmark{ID: "b1", URL: "https://example.com"},
	})

	assert.Len(t, before.SyncedBookmarkIDs, 1, "input state is never mutated")
	assert.Len(t, after.SyncedBookmarkIDs, 2)
}

func TestReducePausedStaysPaused(t *testing.T) {
	state := models.NewSyncState()
	state.SyncStatus = models.StatusPaused
	state.IsSyncing = true

	state = Reduce(state, models.SyncMessage{
		Type: models.MsgSyncProgress, Current: 2, Total: 5,
	})

	assert.Equal(t, models.StatusPaused, state.SyncStatus, "progress does not unpause")
	assert.Equal(t, 2, state.SyncProgress, "counters keep folding while paused")
}

func TestRequestSyncLifecycle(t *testing.T) {
	client := remote.NewMockClient()
	client.AddBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com", DateModified: time.Now().UTC(),
	})

	ctrl := testController(t, client)

	var mu sync.Mutex
	var statuses []models.SyncStatus
	ctrl.OnChange(func(s models.SyncState) {
		mu.Lock()
		statuses = append(statuses, s.SyncStatus)
		mu.Unlock()
	})

	require.NoError(t, ctrl.RequestSync(context.Background(), syncengine.Settings{}))
	ctrl.Wait()

	final := ctrl.State()
	assert.Equal(t, models.StatusIdle, final.SyncStatus, "completion collapses to idle")
	assert.Empty(t, final.LastError)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, statuses, models.StatusStarting)
	assert.Contains(t, statuses, models.StatusSyncing)
	assert.Contains(t, statuses, models.StatusComplete)
	assert.Equal(t, models.StatusIdle, statuses[len(statuses)-1])
}

func TestRequestSyncNoOpWhileActive(t *testing.T) {
	client := remote.NewMockClient()
	client.Delay = 100 * time.Millisecond
	client.AddBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com", DateModified: time.Now().UTC(),
	})

	ctrl := testController(t, client)

	require.NoError(t, ctrl.RequestSync(context.Background(), syncengine.Settings{}))
	time.Sleep(20 * time.Millisecond)

	// Second request while active is silently ignored.
	require.NoError(t, ctrl.RequestSync(context.Background(), syncengine.Settings{}))

	ctrl.Wait()
	assert.Equal(t, 1, client.ListCalls, "only one run was started")
}

func TestRequestSyncFailure(t *testing.T) {
	client := remote.NewMockClient()
	client.ListErr = &models.AuthError{StatusCode: 401, Message: "expired"}

	ctrl := testController(t, client)

	require.NoError(t, ctrl.RequestSync(context.Background(), syncengine.Settings{}))
	ctrl.Wait()

	state := ctrl.State()
	assert.Equal(t, models.StatusFailed, state.SyncStatus, "failed state persists")
	assert.NotEmpty(t, state.LastError)
	assert.False(t, state.Recoverable)

	// Still failed until dismissed.
	assert.Equal(t, models.StatusFailed, ctrl.State().SyncStatus)
	ctrl.Dismiss()
	assert.Equal(t, models.StatusIdle, ctrl.State().SyncStatus)
}

func TestCancelSyncReturnsToIdle(t *testing.T) {
	client := remote.NewMockClient()
	client.Delay = 50 * time.Millisecond
	for _, id := range []string{"b1", "b2", "b3"} {
		client.AddBookmark(&models.Bookmark{
			ID: id, URL: "https://example.com/" + id, DateModified: time.Now().UTC(),
		})
		client.AddAsset(&models.Asset{ID: "a-" + id, BookmarkID: id, Status: models.AssetComplete}, []byte("x"))
	}

	ctrl := testController(t, client)

	require.NoError(t, ctrl.RequestSync(context.Background(), syncengine.Settings{}))
	time.Sleep(70 * time.Millisecond)

	ctrl.CancelSync()
	ctrl.Wait()

	state := ctrl.State()
	assert.Equal(t, models.StatusIdle, state.SyncStatus, "clean cancel resets to idle")
	assert.Empty(t, state.LastError)
}

func TestPauseResume(t *testing.T) {
	client := remote.NewMockClient()
	client.Delay = 100 * time.Millisecond
	client.AddBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com", DateModified: time.Now().UTC(),
	})
	client.AddAsset(&models.Asset{ID: "a1", BookmarkID: "b1", Status: models.AssetComplete}, []byte("x"))

	ctrl := testController(t, client)

	require.NoError(t, ctrl.RequestSync(context.Background(), syncengine.Settings{}))

	// Wait until the run is visibly syncing.
	deadline := time.Now().Add(2 * time.Second)
	for ctrl.State().SyncStatus != models.StatusSyncing {
		if time.Now().After(deadline) {
			t.Fatal("run never reached syncing")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctrl.Pause()
	assert.Equal(t, models.StatusPaused, ctrl.State().SyncStatus)

	ctrl.Resume()
	assert.Equal(t, models.StatusSyncing, ctrl.State().SyncStatus)

	ctrl.Wait()
	assert.Equal(t, models.StatusIdle, ctrl.State().SyncStatus)
}

func TestStaleRunMessagesIgnored(t *testing.T) {
	ctrl := testController(t, remote.NewMockClient())

	// Messages from a run this controller did not request must not move state.
	ctrl.apply("current-run", models.SyncMessage{
		Type: models.MsgSyncStarted, RunID: "stale-run", Total: 5,
	})

	assert.Equal(t, models.StatusIdle, ctrl.State().SyncStatus)
	assert.Equal(t, 0, ctrl.State().SyncTotal)
}
