package store

import (
	"errors"
	"time"

	"github.com/marksync/marksync/internal/models"
)

// Store is the record-level local persistence the sync engine requires.
// Schema and query implementation live behind this interface.
type Store interface {
	// GetBookmark returns a bookmark by id, or ErrNotFound.
	GetBookmark(id string) (*models.Bookmark, error)

	// ListBookmarks returns all local bookmarks.
	ListBookmarks() ([]*models.Bookmark, error)

	// UpsertBookmark writes a bookmark by id.
	UpsertBookmark(b *models.Bookmark) error

	// ListAssets returns all assets owned by a bookmark.
	ListAssets(bookmarkID string) ([]*models.Asset, error)

	// UpsertAsset writes asset metadata by id, preserving any cached content.
	UpsertAsset(a *models.Asset) error

	// SaveAssetContent stores a downloaded content blob.
	SaveAssetContent(assetID string, content []byte, cachedAt time.Time) error

	// ClearAssetContent drops cached content (not metadata) for all assets
	// of a bookmark.
	ClearAssetContent(bookmarkID string) error

	// BookmarksNeedingReadSync returns bookmarks with unpushed read-status
	// changes.
	BookmarksNeedingReadSync() ([]*models.Bookmark, error)

	// MarkReadSynced clears the read-dirty flag after a successful push.
	MarkReadSynced(id string) error

	// Cursor returns the last-successful-sync cursor, or "" when unset.
	Cursor() (string, error)

	// SetCursor persists the cursor. An empty value clears it.
	SetCursor(cursor string) error

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrNotFound = errors.New("record not found")
)
