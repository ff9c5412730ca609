package store

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/models"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUpsertAndGetBookmark(t *testing.T) {
	st := testStore(t)

	readAt := time.Now().UTC().Truncate(time.Second)
	b := &models.Bookmark{
		ID:           "b1",
		URL:          "https://example.com",
		Title:        "Example",
		Tags:         []string{"go", "sync"},
		Unread:       true,
		DateModified: time.Now().UTC().Truncate(time.Second),
		ReadProgress: 0.25,
		LastReadAt:   &readAt,
		ReadingMode:  "serif",
		ReadDirty:    true,
	}
	require.NoError(t, st.UpsertBookmark(b))

	got, err := st.GetBookmark("b1")
	require.NoError(t, err)
	assert.Equal(t, b.Title, got.Title)
	assert.Equal(t, b.Tags, got.Tags)
	assert.True(t, got.Unread)
	assert.Equal(t, 0.25, got.ReadProgress)
	require.NotNil(t, got.LastReadAt)
	assert.True(t, readAt.Equal(*got.LastReadAt))
	assert.True(t, got.ReadDirty)

	// Second upsert replaces.
	b.Title = "Updated"
	require.NoError(t, st.UpsertBookmark(b))
	got, err = st.GetBookmark("b1")
	require.NoError(t, err)
	assert.Equal(t, "Updated", got.Title)
}

func TestGetBookmarkNotFound(t *testing.T) {
	st := testStore(t)
	_, err := st.GetBookmark("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertInvalidBookmark(t *testing.T) {
	st := testStore(t)
	err := st.UpsertBookmark(&models.Bookmark{ID: "b1"})
	assert.ErrorIs(t, err, models.ErrInvalidBookmark)
}

func TestListBookmarks(t *testing.T) {
	st := testStore(t)

	for _, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, st.UpsertBookmark(&models.Bookmark{
			ID: id, URL: "https://example.com/" + id, DateModified: time.Now(),
		}))
	}

	all, err := st.ListBookmarks()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAssetContentLifecycle(t *testing.T) {
	st := testStore(t)

	require.NoError(t, st.UpsertBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com", DateModified: time.Now(),
	}))

	asset := &models.Asset{ID: "a1", BookmarkID: "b1", Status: models.AssetComplete}
	require.NoError(t, st.UpsertAsset(asset))

	assets, err := st.ListAssets("b1")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.False(t, assets[0].Cached())

	cachedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.SaveAssetContent("a1", []byte("snapshot"), cachedAt))

	assets, err = st.ListAssets("b1")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.True(t, assets[0].Cached())
	assert.Equal(t, []byte("snapshot"), assets[0].Content)

	// Metadata-only upsert must not clobber cached content.
	require.NoError(t, st.UpsertAsset(&models.Asset{ID: "a1", BookmarkID: "b1", Status: models.AssetComplete}))
	assets, err = st.ListAssets("b1")
	require.NoError(t, err)
	assert.True(t, assets[0].Cached())

	// Archival eviction clears it.
	require.NoError(t, st.ClearAssetContent("b1"))
	assets, err = st.ListAssets("b1")
	require.NoError(t, err)
	assert.False(t, assets[0].Cached())
	assert.Empty(t, assets[0].Content)
}

func TestSaveAssetContentMissingAsset(t *testing.T) {
	st := testStore(t)
	err := st.SaveAssetContent("missing", []byte("x"), time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBookmarksNeedingReadSync(t *testing.T) {
	st := testStore(t)

	require.NoError(t, st.UpsertBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com/1", DateModified: time.Now(), ReadDirty: true,
	}))
	require.NoError(t, st.UpsertBookmark(&models.Bookmark{
		ID: "b2", URL: "https://example.com/2", DateModified: time.Now(),
	}))

	dirty, err := st.BookmarksNeedingReadSync()
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.Equal(t, "b1", dirty[0].ID)

	require.NoError(t, st.MarkReadSynced("b1"))
	dirty, err = st.BookmarksNeedingReadSync()
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestCursor(t *testing.T) {
	st := testStore(t)

	cursor, err := st.Cursor()
	require.NoError(t, err)
	assert.Empty(t, cursor, "fresh store has no cursor")

	require.NoError(t, st.SetCursor("2026-08-23T10:00:00Z"))
	cursor, err = st.Cursor()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-23T10:00:00Z", cursor)

	require.NoError(t, st.SetCursor("2026-08-23T11:00:00Z"))
	cursor, err = st.Cursor()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-23T11:00:00Z", cursor)

	require.NoError(t, st.SetCursor(""))
	cursor, err = st.Cursor()
	require.NoError(t, err)
	assert.Empty(t, cursor)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)

	st, err := NewSQLiteStore(path, logger)
	require.NoError(t, err)
	require.NoError(t, st.UpsertBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com", DateModified: time.Now(),
	}))
	require.NoError(t, st.SetCursor("2026-08-23T10:00:00Z"))
	require.NoError(t, st.Close())

	st, err = NewSQLiteStore(path, logger)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.GetBookmark("b1")
	assert.NoError(t, err)
	cursor, err := st.Cursor()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-23T10:00:00Z", cursor)
}
