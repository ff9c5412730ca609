package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/models"
)

const cursorKey = "last_sync_cursor"

// SQLiteStore implements SQLite-based bookmark persistence.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore opens (and if needed creates) the bookmark database.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS bookmarks (
        id TEXT PRIMARY KEY,
        url TEXT NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        site_name TEXT NOT NULL DEFAULT '',
        tags TEXT NOT NULL DEFAULT '[]',
        unread INTEGER NOT NULL DEFAULT 0,
        is_archived INTEGER NOT NULL DEFAULT 0,
        date_modified TIMESTAMP NOT NULL,
        read_progress REAL NOT NULL DEFAULT 0,
        last_read_at TIMESTAMP,
        reading_mode TEXT NOT NULL DEFAULT '',
        read_dirty INTEGER NOT NULL DEFAULT 0
    );

    CREATE TABLE IF NOT EXISTS assets (
        id TEXT PRIMARY KEY,
        bookmark_id TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'pending',
        content BLOB,
        cached_at TIMESTAMP,
        FOREIGN KEY (bookmark_id) REFERENCES bookmarks(id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_assets_bookmark ON assets(bookmark_id);
    CREATE INDEX IF NOT EXISTS idx_bookmarks_read_dirty ON bookmarks(read_dirty);

    CREATE TABLE IF NOT EXISTS sync_meta (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	return nil
}

// GetBookmark returns a bookmark by id.
func (s *SQLiteStore) GetBookmark(id string) (*models.Bookmark, error) {
	row := s.db.QueryRow(`
        SELECT id, url, title, description, site_name, tags, unread,
               is_archived, date_modified, read_progress, last_read_at,
               reading_mode, read_dirty
        FROM bookmarks WHERE id = ?
    `, id)

	b, err := scanBookmark(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bookmark: %w", err)
	}
	return b, nil
}

// ListBookmarks returns all local bookmarks.
func (s *SQLiteStore) ListBookmarks() ([]*models.Bookmark, error) {
	rows, err := s.db.Query(`
        SELECT id, url, title, description, site_name, tags, unread,
               is_archived, date_modified, read_progress, last_read_at,
               reading_mode, read_dirty
        FROM bookmarks
    `)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	defer rows.Close()

	var bookmarks []*models.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		bookmarks = append(bookmarks, b)
	}
	return bookmarks, rows.Err()
}

// UpsertBookmark writes a bookmark by id.
func (s *SQLiteStore) UpsertBookmark(b *models.Bookmark) error {
	if err := b.Validate(); err != nil {
		return err
	}

	tags, err := json.Marshal(b.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.Exec(`
        INSERT INTO bookmarks (id, url, title, description, site_name, tags,
            unread, is_archived, date_modified, read_progress, last_read_at,
            reading_mode, read_dirty)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            url = excluded.url,
            title = excluded.title,
            description = excluded.description,
            site_name = excluded.site_name,
            tags = excluded.tags,
            unread = excluded.unread,
            is_archived = excluded.is_archived,
            date_modified = excluded.date_modified,
            read_progress = excluded.read_progress,
            last_read_at = excluded.last_read_at,
            reading_mode = excluded.reading_mode,
            read_dirty = excluded.read_dirty
    `, b.ID, b.URL, b.Title, b.Description, b.SiteName, string(tags),
		b.Unread, b.IsArchived, b.DateModified.UTC(), b.ReadProgress,
		nullableTime(b.LastReadAt), b.ReadingMode, b.ReadDirty)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// ListAssets returns all assets owned by a bookmark.
func (s *SQLiteStore) ListAssets(bookmarkID string) ([]*models.Asset, error) {
	rows, err := s.db.Query(`
        SELECT id, bookmark_id, status, content, cached_at
        FROM assets WHERE bookmark_id = ?
    `, bookmarkID)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		var a models.Asset
		var cachedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.BookmarkID, &a.Status, &a.Content, &cachedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		if cachedAt.Valid {
			t := cachedAt.Time
			a.CachedAt = &t
		}
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

// UpsertAsset writes asset metadata, preserving any cached content.
func (s *SQLiteStore) UpsertAsset(a *models.Asset) error {
	_, err := s.db.Exec(`
        INSERT INTO assets (id, bookmark_id, status)
        VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            bookmark_id = excluded.bookmark_id,
            status = excluded.status
    `, a.ID, a.BookmarkID, a.Status)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// SaveAssetContent stores a downloaded content blob.
func (s *SQLiteStore) SaveAssetContent(assetID string, content []byte, cachedAt time.Time) error {
	res, err := s.db.Exec(`
        UPDATE assets SET content = ?, cached_at = ? WHERE id = ?
    `, content, cachedAt.UTC(), assetID)
	if err != nil {
		return mapWriteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearAssetContent drops cached content for all assets of a bookmark.
func (s *SQLiteStore) ClearAssetContent(bookmarkID string) error {
	_, err := s.db.Exec(`
        UPDATE assets SET content = NULL, cached_at = NULL WHERE bookmark_id = ?
    `, bookmarkID)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// BookmarksNeedingReadSync returns bookmarks with unpushed read-status changes.
func (s *SQLiteStore) BookmarksNeedingReadSync() ([]*models.Bookmark, error) {
	rows, err := s.db.Query(`
        SELECT id, url, title, description, site_name, tags, unread,
               is_archived, date_modified, read_progress, last_read_at,
               reading_mode, read_dirty
        FROM bookmarks WHERE read_dirty = 1
    `)
	if err != nil {
		return nil, fmt.Errorf("query read-dirty bookmarks: %w", err)
	}
	defer rows.Close()

	var bookmarks []*models.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		bookmarks = append(bookmarks, b)
	}
	return bookmarks, rows.Err()
}

// MarkReadSynced clears the read-dirty flag after a successful push.
func (s *SQLiteStore) MarkReadSynced(id string) error {
	_, err := s.db.Exec(`UPDATE bookmarks SET read_dirty = 0 WHERE id = ?`, id)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// Cursor returns the last-successful-sync cursor, or "" when unset.
func (s *SQLiteStore) Cursor() (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_meta WHERE key = ?`, cursorKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query cursor: %w", err)
	}
	return value, nil
}

// SetCursor persists the cursor. An empty value clears it.
func (s *SQLiteStore) SetCursor(cursor string) error {
	if cursor == "" {
		_, err := s.db.Exec(`DELETE FROM sync_meta WHERE key = ?`, cursorKey)
		return err
	}

	_, err := s.db.Exec(`
        INSERT INTO sync_meta (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value
    `, cursorKey, cursor)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// Close releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBookmark(row rowScanner) (*models.Bookmark, error) {
	var b models.Bookmark
	var tags string
	var lastReadAt sql.NullTime

	err := row.Scan(&b.ID, &b.URL, &b.Title, &b.Description, &b.SiteName,
		&tags, &b.Unread, &b.IsArchived, &b.DateModified, &b.ReadProgress,
		&lastReadAt, &b.ReadingMode, &b.ReadDirty)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &b.Tags); err != nil {
		return nil, fmt.Errorf("parse tags: %w", err)
	}
	if lastReadAt.Valid {
		t := lastReadAt.Time
		b.LastReadAt = &t
	}
	return &b, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// mapWriteError converts a full-database failure into the quota error the
// engine treats as fatal.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "database or disk is full") {
		return &models.QuotaExceededError{Err: err}
	}
	return err
}
