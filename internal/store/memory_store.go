package store

import (
	"sync"
	"time"

	"github.com/marksync/marksync/internal/models"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu        sync.Mutex
	bookmarks map[string]*models.Bookmark
	assets    map[string]*models.Asset
	cursor    string

	// FailWrites makes every write return a quota error.
	FailWrites bool

	// UpsertCount tracks bookmark writes, for idempotence assertions.
	UpsertCount int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookmarks: make(map[string]*models.Bookmark),
		assets:    make(map[string]*models.Asset),
	}
}

func (s *MemoryStore) GetBookmark(id string) (*models.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookmarks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) ListBookmarks() ([]*models.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Bookmark
	for _, b := range s.bookmarks {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (s *MemoryStore) UpsertBookmark(b *models.Bookmark) error {
	if err := b.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return &models.QuotaExceededError{Err: ErrNotFound}
	}

	s.UpsertCount++
	s.bookmarks[b.ID] = b.Clone()
	return nil
}

func (s *MemoryStore) ListAssets(bookmarkID string) ([]*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Asset
	for _, a := range s.assets {
		if a.BookmarkID == bookmarkID {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertAsset(a *models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return &models.QuotaExceededError{Err: ErrNotFound}
	}

	if existing, ok := s.assets[a.ID]; ok {
		// Metadata update preserves cached content.
		existing.BookmarkID = a.BookmarkID
		existing.Status = a.Status
		return nil
	}

	copied := *a
	s.assets[a.ID] = &copied
	return nil
}

func (s *MemoryStore) SaveAssetContent(assetID string, content []byte, cachedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return &models.QuotaExceededError{Err: ErrNotFound}
	}

	a, ok := s.assets[assetID]
	if !ok {
		return ErrNotFound
	}
	a.Content = append([]byte(nil), content...)
	t := cachedAt
	a.CachedAt = &t
	return nil
}

func (s *MemoryStore) ClearAssetContent(bookmarkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.assets {
		if a.BookmarkID == bookmarkID {
			a.Content = nil
			a.CachedAt = nil
		}
	}
	return nil
}

func (s *MemoryStore) BookmarksNeedingReadSync() ([]*models.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Bookmark
	for _, b := range s.bookmarks {
		if b.ReadDirty {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkReadSynced(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bookmarks[id]; ok {
		b.ReadDirty = false
	}
	return nil
}

func (s *MemoryStore) Cursor() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *MemoryStore) SetCursor(cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return &models.QuotaExceededError{Err: ErrNotFound}
	}
	s.cursor = cursor
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
