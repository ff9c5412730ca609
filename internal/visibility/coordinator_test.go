package visibility

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/lock"
	"github.com/marksync/marksync/internal/models"
)

func testLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
}

// recordingMessenger captures every delivered message.
type recordingMessenger struct {
	mu       sync.Mutex
	messages []models.SyncMessage
	err      error
}

func (m *recordingMessenger) Send(msg models.SyncMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMessenger) types() []models.MessageType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.MessageType, len(m.messages))
	for i, msg := range m.messages {
		out[i] = msg.Type
	}
	return out
}

func TestBackgroundRegistersPeriodicSync(t *testing.T) {
	messenger := &recordingMessenger{}
	locks := lock.New(t.TempDir(), "test-lock", testLogger())

	coord := New(messenger, locks, nil, &Config{AutoSync: true}, testLogger())
	coord.Handle(context.Background(), Change{Foreground: false, Timestamp: time.Now()})

	assert.Equal(t, []models.MessageType{
		models.MsgAppBackground,
		models.MsgRegisterPeriodicSync,
	}, messenger.types())
}

func TestBackgroundWithoutAutoSync(t *testing.T) {
	messenger := &recordingMessenger{}
	locks := lock.New(t.TempDir(), "test-lock", testLogger())

	coord := New(messenger, locks, nil, &Config{AutoSync: false}, testLogger())
	coord.Handle(context.Background(), Change{Foreground: false, Timestamp: time.Now()})

	assert.Equal(t, []models.MessageType{models.MsgAppBackground}, messenger.types())
}

func TestForegroundCancelsAndRequestsSync(t *testing.T) {
	messenger := &recordingMessenger{}
	locks := lock.New(t.TempDir(), "test-lock", testLogger())

	var requested bool
	coord := New(messenger, locks, func() { requested = true },
		&Config{AutoSync: true, ResumeWait: time.Second}, testLogger())

	coord.Handle(context.Background(), Change{Foreground: true, Timestamp: time.Now()})

	assert.Equal(t, []models.MessageType{
		models.MsgAppForeground,
		models.MsgCancelSync,
		models.MsgUnregisterPeriodicSync,
	}, messenger.types())
	assert.True(t, requested, "foreground kicks off a fresh sync")
}

func TestForegroundWaitsForLockRelease(t *testing.T) {
	messenger := &recordingMessenger{}
	locks := lock.New(t.TempDir(), "test-lock", testLogger())

	// Simulate a background run still holding the lock.
	release, err := locks.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	var mu sync.Mutex
	var requestedAt time.Time
	coord := New(messenger, locks, func() {
		mu.Lock()
		requestedAt = time.Now()
		mu.Unlock()
	}, &Config{ResumeWait: 2 * time.Second}, testLogger())

	start := time.Now()
	go func() {
		time.Sleep(100 * time.Millisecond)
		release()
	}()

	coord.Handle(context.Background(), Change{Foreground: true, Timestamp: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	require.False(t, requestedAt.IsZero())
	assert.GreaterOrEqual(t, requestedAt.Sub(start), 100*time.Millisecond,
		"sync waits for the background run to release the lock")
}

func TestForegroundProceedsOnWaitTimeout(t *testing.T) {
	messenger := &recordingMessenger{}
	locks := lock.New(t.TempDir(), "test-lock", testLogger())

	release, err := locks.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer release()

	var requested bool
	coord := New(messenger, locks, func() { requested = true },
		&Config{ResumeWait: 100 * time.Millisecond}, testLogger())

	// Must return despite the lock never being released.
	coord.Handle(context.Background(), Change{Foreground: true, Timestamp: time.Now()})
	assert.True(t, requested)
}

func TestNilMessengerSafe(t *testing.T) {
	locks := lock.New(t.TempDir(), "test-lock", testLogger())
	coord := New(nil, locks, nil, &Config{AutoSync: true}, testLogger())

	assert.NotPanics(t, func() {
		coord.Handle(context.Background(), Change{Foreground: false, Timestamp: time.Now()})
		coord.Handle(context.Background(), Change{Foreground: true, Timestamp: time.Now()})
	})
}

func TestMessengerErrorsSwallowed(t *testing.T) {
	messenger := &recordingMessenger{err: errors.New("channel closed")}
	locks := lock.New(t.TempDir(), "test-lock", testLogger())
	coord := New(messenger, locks, nil, &Config{AutoSync: true}, testLogger())

	assert.NotPanics(t, func() {
		coord.Handle(context.Background(), Change{Foreground: false, Timestamp: time.Now()})
	})
}

func TestWatchStopsOnClose(t *testing.T) {
	messenger := &recordingMessenger{}
	locks := lock.New(t.TempDir(), "test-lock", testLogger())
	coord := New(messenger, locks, nil, &Config{}, testLogger())

	changes := make(chan Change)
	done := make(chan struct{})
	go func() {
		coord.Watch(context.Background(), changes)
		close(done)
	}()

	changes <- Change{Foreground: false, Timestamp: time.Now()}
	close(changes)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not stop on channel close")
	}

	assert.Equal(t, []models.MessageType{models.MsgAppBackground}, messenger.types())
}

func TestChanMessengerDropsWhenFull(t *testing.T) {
	m := NewChanMessenger(1)

	require.NoError(t, m.Send(models.SyncMessage{Type: models.MsgAppBackground}))
	require.NoError(t, m.Send(models.SyncMessage{Type: models.MsgAppForeground}), "full buffer drops, never blocks")

	msg := <-m.C
	assert.Equal(t, models.MsgAppBackground, msg.Type)
	select {
	case <-m.C:
		t.Fatal("second message should have been dropped")
	default:
	}
}
