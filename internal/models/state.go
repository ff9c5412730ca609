package models

// SyncPhase names a stage of one sync run.
type SyncPhase string

const (
	PhaseNone              SyncPhase = ""
	PhaseBookmarks         SyncPhase = "bookmarks"
	PhaseArchivedBookmarks SyncPhase = "archived-bookmarks"
	PhaseAssets            SyncPhase = "assets"
	PhaseReadStatus        SyncPhase = "read-status"
	PhaseComplete          SyncPhase = "complete"
)

// SyncStatus is the controller-visible status of sync activity.
type SyncStatus string

const (
	StatusIdle     SyncStatus = "idle"
	StatusStarting SyncStatus = "starting"
	StatusSyncing  SyncStatus = "syncing"
	StatusPaused   SyncStatus = "paused"
	StatusFailed   SyncStatus = "failed"
	StatusComplete SyncStatus = "complete"
)

// SyncState is the per-controller view of sync activity, mutated only by
// reducing inbound messages. IsSyncing is independent of lock possession:
// a context may display syncing while another context holds the lock and
// does the actual work.
type SyncState struct {
	IsSyncing    bool       `json:"is_syncing"`
	Phase        SyncPhase  `json:"phase"`
	SyncProgress int        `json:"sync_progress"`
	SyncTotal    int        `json:"sync_total"`
	SyncStatus   SyncStatus `json:"sync_status"`

	// SyncedBookmarkIDs is a transient set used for UI highlight. It is
	// cleared on completion and on error.
	SyncedBookmarkIDs map[string]struct{} `json:"synced_bookmark_ids,omitempty"`

	// LastError holds the message of the run's terminal error, if any.
	LastError string `json:"last_error,omitempty"`

	// Recoverable qualifies LastError: true for conditions that clear on
	// their own, false for ones requiring user action.
	Recoverable bool `json:"recoverable,omitempty"`
}

// NewSyncState returns the idle state.
func NewSyncState() SyncState {
	return SyncState{
		SyncStatus:        StatusIdle,
		SyncedBookmarkIDs: make(map[string]struct{}),
	}
}

// Clone returns a deep copy so reductions never alias the synced-id set.
func (s SyncState) Clone() SyncState {
	clone := s
	clone.SyncedBookmarkIDs = make(map[string]struct{}, len(s.SyncedBookmarkIDs))
	for id := range s.SyncedBookmarkIDs {
		clone.SyncedBookmarkIDs[id] = struct{}{}
	}
	return clone
}

// Active reports whether a run is currently requested or underway.
func (s SyncState) Active() bool {
	return s.SyncStatus == StatusStarting ||
		s.SyncStatus == StatusSyncing ||
		s.SyncStatus == StatusPaused
}
