package remote

import (
	"context"
	"sync"
	"time"

	"github.com/marksync/marksync/internal/models"
)

// MockClient is an in-memory Client for tests.
type MockClient struct {
	mu sync.Mutex

	bookmarks []*models.Bookmark
	assets    map[string][]*models.Asset // bookmark id -> assets
	content   map[string][]byte          // asset id -> blob

	// Error injection
	ListErr     error
	AssetsErr   error
	DownloadErr error
	ReadErr     error

	// Delay applied to every call, for cancellation and exclusion tests.
	Delay time.Duration

	// Call counters
	ListCalls     int
	AssetsCalls   int
	DownloadCalls int
	ReadCalls     map[string]int
}

// NewMockClient creates an empty mock API client.
func NewMockClient() *MockClient {
	return &MockClient{
		assets:    make(map[string][]*models.Asset),
		content:   make(map[string][]byte),
		ReadCalls: make(map[string]int),
	}
}

// AddBookmark registers a remote bookmark.
func (m *MockClient) AddBookmark(b *models.Bookmark) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookmarks = append(m.bookmarks, b)
}

// AddAsset registers asset metadata plus optional content.
func (m *MockClient) AddAsset(a *models.Asset, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.BookmarkID] = append(m.assets[a.BookmarkID], a)
	if content != nil {
		m.content[a.ID] = content
	}
}

func (m *MockClient) GetAllBookmarks(ctx context.Context, sinceCursor string) ([]*models.Bookmark, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++

	if m.ListErr != nil {
		return nil, m.ListErr
	}

	var since time.Time
	if sinceCursor != "" {
		if t, err := time.Parse(time.RFC3339, sinceCursor); err == nil {
			since = t
		}
	}

	var out []*models.Bookmark
	for _, b := range m.bookmarks {
		if since.IsZero() || b.DateModified.After(since) {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (m *MockClient) GetBookmarkAssets(ctx context.Context, bookmarkID string) ([]*models.Asset, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.AssetsCalls++

	if m.AssetsErr != nil {
		return nil, m.AssetsErr
	}

	var out []*models.Asset
	for _, a := range m.assets[bookmarkID] {
		copied := *a
		out = append(out, &copied)
	}
	return out, nil
}

func (m *MockClient) DownloadAsset(ctx context.Context, bookmarkID, assetID string) ([]byte, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.DownloadCalls++

	if m.DownloadErr != nil {
		return nil, m.DownloadErr
	}

	blob, ok := m.content[assetID]
	if !ok {
		return nil, &models.NotFoundError{URL: "mock://" + bookmarkID + "/" + assetID}
	}
	return blob, nil
}

func (m *MockClient) MarkBookmarkAsRead(ctx context.Context, bookmarkID string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls[bookmarkID]++

	return m.ReadErr
}

func (m *MockClient) wait(ctx context.Context) error {
	if m.Delay == 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
