package worker

import (
	"context"
	"io"
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
)

func testLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
}

func testManager(t *testing.T, client *remote.MockClient, cfg *Config) (*Manager, lock.Coordinator) {
	t.Helper()
	st := store.NewMemoryStore()
	engine := syncengine.NewEngine(client, st, &syncengine.Config{}, testLogger())
	locks := lock.New(t.TempDir(), lock.SyncLockName, testLogger())
	return NewManager(engine, locks, cfg, testLogger()), locks
}

func drain(t *testing.T, msgs <-chan models.SyncMessage) []models.SyncMessage {
	t.Helper()
	var out []models.SyncMessage
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-timeout:
			t.Fatal("message channel never closed")
		}
	}
}

func TestStartRelaysTaggedMessages(t *testing.T) {
	client := remote.NewMockClient()
	client.AddBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com", DateModified: time.Now().UTC(),
	})

	mgr, _ := testManager(t, client, &Config{})

	msgs, err := mgr.Start(context.Background(), "run-1", syncengine.Settings{})
	require.NoError(t, err)

	received := drain(t, msgs)
	require.NotEmpty(t, received)

	for _, msg := range received {
		assert.Equal(t, "run-1", msg.RunID, "every relayed message carries the run id")
		assert.False(t, msg.Timestamp.IsZero())
	}

	assert.Equal(t, models.MsgSyncInitiated, received[0].Type)
	assert.Equal(t, models.MsgSyncComplete, received[len(received)-1].Type)
	assert.False(t, mgr.Running())
}

func TestStartRejectsSecondRun(t *testing.T) {
	client := remote.NewMockClient()
	client.Delay = 100 * time.Millisecond
	client.AddBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com", DateModified: time.Now().UTC(),
	})

	mgr, _ := testManager(t, client, &Config{})

	msgs, err := mgr.Start(context.Background(), "run-1", syncengine.Settings{})
	require.NoError(t, err)

	_, err = mgr.Start(context.Background(), "run-2", syncengine.Settings{})
	assert.ErrorIs(t, err, models.ErrSyncInProgress)

	drain(t, msgs)
}

func TestLockHeldForWholeRun(t *testing.T) {
	client := remote.NewMockClient()
	client.Delay = 100 * time.Millisecond
	client.AddBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com", DateModified: time.Now().UTC(),
	})

	mgr, locks := testManager(t, client, &Config{})

	msgs, err := mgr.Start(context.Background(), "run-1", syncengine.Settings{})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.False(t, locks.IsAvailable(), "lock is held while the run is in flight")

	drain(t, msgs)
	assert.True(t, locks.IsAvailable(), "lock is released when the stream closes")
}

func TestMutualExclusionAcrossManagers(t *testing.T) {
	sharedLockDir := t.TempDir()
	st := store.NewMemoryStore()

	slow := remote.NewMockClient()
	slow.Delay = 300 * time.Millisecond
	slow.AddBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com", DateModified: time.Now().UTC(),
	})

	blocked := remote.NewMockClient()

	firstLocks := lock.New(sharedLockDir, lock.SyncLockName, testLogger())
	secondLocks := lock.New(sharedLockDir, lock.SyncLockName, testLogger())

	first := NewManager(
		syncengine.NewEngine(slow, st, &syncengine.Config{}, testLogger()),
		firstLocks, &Config{}, testLogger())
	second := NewManager(
		syncengine.NewEngine(blocked, store.NewMemoryStore(), &syncengine.Config{}, testLogger()),
		secondLocks, &Config{LockTimeout: 100 * time.Millisecond}, testLogger())

	msgs, err := first.Start(context.Background(), "run-1", syncengine.Settings{})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = second.Start(context.Background(), "run-2", syncengine.Settings{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrLockTimeout)
	assert.Equal(t, 0, blocked.ListCalls, "a run that never acquired the lock does no work")
	assert.False(t, second.Running())

	drain(t, msgs)
}

func TestInlineMode(t *testing.T) {
	client := remote.NewMockClient()
	client.AddBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com", DateModified: time.Now().UTC(),
	})

	mgr, locks := testManager(t, client, &Config{Inline: true})

	msgs, err := mgr.Start(context.Background(), "run-1", syncengine.Settings{})
	require.NoError(t, err)

	// Inline mode returns only after the run finished.
	assert.False(t, mgr.Running())
	assert.True(t, locks.IsAvailable())

	received := drain(t, msgs)
	require.NotEmpty(t, received)
	assert.Equal(t, models.MsgSyncComplete, received[len(received)-1].Type)
	for _, msg := range received {
		assert.Equal(t, "run-1", msg.RunID)
	}
}

func TestCancelEndsStreamWithoutError(t *testing.T) {
	client := remote.NewMockClient()
	client.Delay = 50 * time.Millisecond
	for _, id := range []string{"b1", "b2", "b3"} {
		client.AddBookmark(&models.Bookmark{
			ID: id, URL: "https://example.com/" + id, DateModified: time.Now().UTC(),
		})
		client.AddAsset(&models.Asset{ID: "a-" + id, BookmarkID: id, Status: models.AssetComplete}, []byte("x"))
	}

	mgr, locks := testManager(t, client, &Config{})

	msgs, err := mgr.Start(context.Background(), "run-1", syncengine.Settings{})
	require.NoError(t, err)

	time.Sleep(70 * time.Millisecond)
	mgr.Cancel()

	received := drain(t, msgs)
	for _, msg := range received {
		assert.NotEqual(t, models.MsgSyncError, msg.Type, "cooperative cancel is not an error")
		assert.NotEqual(t, models.MsgSyncComplete, msg.Type)
	}
	assert.True(t, locks.IsAvailable(), "cancel releases the lock")
}

func TestEmergencyLockCleanup(t *testing.T) {
	client := remote.NewMockClient()
	mgr, _ := testManager(t, client, &Config{})

	assert.NoError(t, mgr.EmergencyLockCleanup())
}
