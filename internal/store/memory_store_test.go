package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marksync/marksync/internal/models"
)

// The in-memory store must match the SQLite store's semantics where the
// engine depends on them.

func TestMemoryStoreAssetContentPreserved(t *testing.T) {
	st := NewMemoryStore()

	require.NoError(t, st.UpsertAsset(&models.Asset{ID: "a1", BookmarkID: "b1", Status: models.AssetComplete}))
	require.NoError(t, st.SaveAssetContent("a1", []byte("blob"), time.Now()))

	// Metadata-only upsert keeps the cached content.
	require.NoError(t, st.UpsertAsset(&models.Asset{ID: "a1", BookmarkID: "b1", Status: models.AssetComplete}))

	assets, err := st.ListAssets("b1")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.True(t, assets[0].Cached())

	require.NoError(t, st.ClearAssetContent("b1"))
	assets, _ = st.ListAssets("b1")
	assert.False(t, assets[0].Cached())
}

func TestMemoryStoreFailWrites(t *testing.T) {
	st := NewMemoryStore()
	st.FailWrites = true

	var quotaErr *models.QuotaExceededError
	err := st.UpsertBookmark(&models.Bookmark{ID: "b1", URL: "https://example.com"})
	assert.ErrorAs(t, err, &quotaErr)

	err = st.SetCursor("x")
	assert.ErrorAs(t, err, &quotaErr)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	st := NewMemoryStore()
	require.NoError(t, st.UpsertBookmark(&models.Bookmark{
		ID: "b1", URL: "https://example.com", Title: "Original",
	}))

	got, err := st.GetBookmark("b1")
	require.NoError(t, err)
	got.Title = "Mutated"

	again, err := st.GetBookmark("b1")
	require.NoError(t, err)
	assert.Equal(t, "Original", again.Title)
}
