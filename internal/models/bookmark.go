package models

import (
	"strings"
	"time"
)

// Asset status values reported by the server.
const (
	AssetPending  = "pending"
	AssetComplete = "complete"
)

// Bookmark is a single bookmark record. Remote-owned fields are overwritten
// by sync writes; local-only fields survive remote updates unless explicitly
// carried forward with MergeLocalFields.
type Bookmark struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	SiteName     string    `json:"site_name,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Unread       bool      `json:"unread"`
	IsArchived   bool      `json:"is_archived"`
	DateModified time.Time `json:"date_modified"`

	// Local-only fields. The server never sees these and a sync write must
	// never clobber them.
	ReadProgress float64    `json:"read_progress,omitempty"`
	LastReadAt   *time.Time `json:"last_read_at,omitempty"`
	ReadingMode  string     `json:"reading_mode,omitempty"`

	// ReadDirty marks a local read-status change awaiting push to the server.
	ReadDirty bool `json:"read_dirty,omitempty"`
}

// MergeLocalFields carries prev's local-only fields forward into b.
func (b *Bookmark) MergeLocalFields(prev *Bookmark) {
	if prev == nil {
		return
	}
	b.ReadProgress = prev.ReadProgress
	b.LastReadAt = prev.LastReadAt
	b.ReadingMode = prev.ReadingMode
	b.ReadDirty = prev.ReadDirty
}

// NeedsUpdate reports whether the remote record should replace the local one:
// the bookmark is missing locally or the server copy is newer.
func NeedsUpdate(local, remote *Bookmark) bool {
	if local == nil {
		return true
	}
	return remote.DateModified.After(local.DateModified)
}

// Clone returns a deep copy of the bookmark.
func (b *Bookmark) Clone() *Bookmark {
	clone := *b
	if b.Tags != nil {
		clone.Tags = make([]string, len(b.Tags))
		copy(clone.Tags, b.Tags)
	}
	if b.LastReadAt != nil {
		t := *b.LastReadAt
		clone.LastReadAt = &t
	}
	return &clone
}

// Validate checks the minimal invariants of a bookmark record.
func (b *Bookmark) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return ErrInvalidBookmark
	}
	if strings.TrimSpace(b.URL) == "" {
		return ErrInvalidBookmark
	}
	return nil
}

// Asset is a downloadable attachment of a bookmark (article snapshot,
// image, and so on). An archived bookmark's assets carry metadata but no
// cached content.
type Asset struct {
	ID         string     `json:"id"`
	BookmarkID string     `json:"bookmark_id"`
	Status     string     `json:"status"`
	Content    []byte     `json:"-"`
	CachedAt   *time.Time `json:"cached_at,omitempty"`
}

// Cached reports whether the asset content is present locally.
func (a *Asset) Cached() bool {
	return a.CachedAt != nil && len(a.Content) > 0
}
