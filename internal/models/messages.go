package models

import "time"

// MessageType discriminates messages of the internal sync protocol.
type MessageType string

const (
	MsgSyncInitiated  MessageType = "SYNC_INITIATED"
	MsgSyncStarted    MessageType = "SYNC_STARTED"
	MsgSyncProgress   MessageType = "SYNC_PROGRESS"
	MsgBookmarkSynced MessageType = "BOOKMARK_SYNCED"
	MsgSyncComplete   MessageType = "SYNC_COMPLETE"
	MsgSyncError      MessageType = "SYNC_ERROR"

	MsgAppForeground          MessageType = "APP_FOREGROUND"
	MsgAppBackground          MessageType = "APP_BACKGROUND"
	MsgRegisterPeriodicSync   MessageType = "REGISTER_PERIODIC_SYNC"
	MsgUnregisterPeriodicSync MessageType = "UNREGISTER_PERIODIC_SYNC"
	MsgCancelSync             MessageType = "CANCEL_SYNC"
	MsgRequestSync            MessageType = "REQUEST_SYNC"
)

// SyncMessage is the unit that crosses the worker boundary. No shared memory
// crosses the boundary, only these discrete typed messages. Every message is
// tagged with the run that produced it so a consumer can ignore messages from
// runs it did not request.
type SyncMessage struct {
	Type      MessageType `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Phase     SyncPhase   `json:"phase,omitempty"`
	Timestamp time.Time   `json:"timestamp"`

	// Progress counters. Current is non-decreasing within a run and reaches
	// Total before the terminal SYNC_COMPLETE.
	Current int `json:"current,omitempty"`
	Total   int `json:"total,omitempty"`

	// BOOKMARK_SYNCED payload.
	Bookmark *Bookmark `json:"bookmark,omitempty"`

	// SYNC_COMPLETE payload.
	Processed int           `json:"processed,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`

	// SYNC_ERROR payload. Recoverable means the condition clears on its own
	// (transient network failure) rather than requiring user action.
	Error       string `json:"error,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// Terminal reports whether the message ends a run's message stream.
func (m SyncMessage) Terminal() bool {
	return m.Type == MsgSyncComplete || m.Type == MsgSyncError
}
