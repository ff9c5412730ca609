package sync

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/models"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/store"
)

// Settings configures one sync run.
type Settings struct {
	Full bool // Clear the cursor and resync everything
}

// Outcome summarizes a completed run.
type Outcome struct {
	Processed int
	Synced    int
	Skipped   int
	Duration  time.Duration
	Cursor    string
}

// Emitter delivers a message across the worker boundary. The engine never
// shares memory with its consumers, only discrete typed messages.
type Emitter func(models.SyncMessage)

// FaviconPrefetcher warms the favicon cache for a page as a non-blocking
// side effect. Prefetching itself is an external collaborator.
type FaviconPrefetcher interface {
	Prefetch(pageURL string)
}

// NopPrefetcher ignores prefetch requests.
type NopPrefetcher struct{}

func (NopPrefetcher) Prefetch(string) {}

// Config contains engine configuration.
type Config struct {
	// YieldEvery is the number of processed items between cooperative
	// yields, keeping the host responsive during long passes.
	YieldEvery int

	Favicons FaviconPrefetcher
}

// Engine performs the reconciliation pass between the remote server and the
// local store. It assumes the caller holds the sync lock.
type Engine struct {
	remote   remote.Client
	store    store.Store
	favicons FaviconPrefetcher
	logger   *events.Logger

	yieldEvery int

	mu        sync.Mutex
	syncing   bool
	cancelled atomic.Bool
}

// NewEngine creates a sync engine.
func NewEngine(client remote.Client, st store.Store, cfg *Config, logger *events.Logger) *Engine {
	yieldEvery := cfg.YieldEvery
	if yieldEvery <= 0 {
		yieldEvery = 5
	}

	favicons := cfg.Favicons
	if favicons == nil {
		favicons = NopPrefetcher{}
	}

	return &Engine{
		remote:     client,
		store:      st,
		favicons:   favicons,
		logger:     logger.WithField("component", "sync_engine"),
		yieldEvery: yieldEvery,
	}
}

// Cancel requests cooperative cancellation. The flag is checked between
// items; a network request already in flight completes and its result is
// discarded.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// PerformSync runs one full reconciliation pass. Progress messages are
// emitted in order with non-decreasing counters; every BOOKMARK_SYNCED
// precedes the terminal SYNC_COMPLETE, and a SYNC_ERROR terminates the
// stream for the run. The cursor advances only on full success, so an
// aborted run retries missed work next time.
func (e *Engine) PerformSync(ctx context.Context, settings Settings, emit Emitter) (*Outcome, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, models.ErrSyncInProgress
	}
	e.syncing = true
	e.cancelled.Store(false)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	start := time.Now()
	emit(models.SyncMessage{Type: models.MsgSyncInitiated})

	e.logger.WithField("full", settings.Full).Info("Starting sync")

	// Resolve the cursor. A full sync ignores (and will overwrite) it.
	cursor := ""
	if !settings.Full {
		var err error
		cursor, err = e.store.Cursor()
		if err != nil {
			return nil, e.fail(emit, fmt.Errorf("load cursor: %w", err))
		}
	}

	// Fetch remote changes. A failure here aborts the whole run.
	remoteBookmarks, err := e.remote.GetAllBookmarks(ctx, cursor)
	if err != nil {
		return nil, e.fail(emit, fmt.Errorf("fetch bookmarks: %w", err))
	}

	// Build an id-keyed map of local bookmarks.
	locals, err := e.store.ListBookmarks()
	if err != nil {
		return nil, e.fail(emit, fmt.Errorf("list local bookmarks: %w", err))
	}
	localByID := make(map[string]*models.Bookmark, len(locals))
	for _, b := range locals {
		localByID[b.ID] = b
	}

	total := len(remoteBookmarks)
	emit(models.SyncMessage{
		Type:  models.MsgSyncStarted,
		Phase: models.PhaseBookmarks,
		Total: total,
	})

	var live, archived []*models.Bookmark
	for _, b := range remoteBookmarks {
		if b.IsArchived {
			archived = append(archived, b)
		} else {
			live = append(live, b)
		}
	}

	outcome := &Outcome{}
	run := &runState{emit: emit, total: total}

	// Unarchived bookmarks first, then archived metadata-only work.
	updated, err := e.syncBookmarks(ctx, models.PhaseBookmarks, live, localByID, run, outcome)
	if err != nil {
		return nil, e.fail(emit, err)
	}

	if _, err := e.syncBookmarks(ctx, models.PhaseArchivedBookmarks, archived, localByID, run, outcome); err != nil {
		return nil, e.fail(emit, err)
	}

	// Asset pass for the unarchived bookmarks that changed.
	if err := e.syncAssets(ctx, updated, run); err != nil {
		return nil, e.fail(emit, err)
	}

	// Best-effort read-status push; per-item failures never abort the run.
	e.pushReadStatus(ctx, run)

	if err := e.checkCancelled(ctx); err != nil {
		return outcome, err
	}

	// Only a fully successful pass advances the cursor.
	newCursor := start.UTC().Format(time.RFC3339)
	if err := e.store.SetCursor(newCursor); err != nil {
		return nil, e.fail(emit, fmt.Errorf("save cursor: %w", err))
	}
	outcome.Cursor = newCursor
	outcome.Duration = time.Since(start)

	emit(models.SyncMessage{
		Type:      models.MsgSyncComplete,
		Phase:     models.PhaseComplete,
		Processed: outcome.Processed,
		Duration:  outcome.Duration,
	})

	e.logger.WithFields(map[string]interface{}{
		"processed": outcome.Processed,
		"synced":    outcome.Synced,
		"skipped":   outcome.Skipped,
		"duration":  outcome.Duration,
	}).Info("Sync completed")

	return outcome, nil
}

// runState carries per-run progress across phases.
type runState struct {
	emit    Emitter
	current int
	total   int
}

// syncBookmarks reconciles one partition of the remote set. It returns the
// bookmarks that were actually written, for the later asset pass.
func (e *Engine) syncBookmarks(
	ctx context.Context,
	phase models.SyncPhase,
	remoteBookmarks []*models.Bookmark,
	localByID map[string]*models.Bookmark,
	run *runState,
	outcome *Outcome,
) ([]*models.Bookmark, error) {
	var updated []*models.Bookmark

	for i, b := range remoteBookmarks {
		if err := e.checkCancelled(ctx); err != nil {
			return updated, err
		}

		local := localByID[b.ID]
		changed, err := e.processBookmark(ctx, phase, b, local, run, outcome)
		if err != nil {
			return updated, err
		}
		if changed {
			updated = append(updated, b)
		}

		outcome.Processed++
		run.current++
		run.emit(models.SyncMessage{
			Type:    models.MsgSyncProgress,
			Phase:   phase,
			Current: run.current,
			Total:   run.total,
		})

		if (i+1)%e.yieldEvery == 0 {
			e.yield(ctx)
		}
	}

	return updated, nil
}

// processBookmark reconciles one remote bookmark. Per-item failures are
// logged and skipped; only quota exhaustion aborts the run.
func (e *Engine) processBookmark(
	ctx context.Context,
	phase models.SyncPhase,
	remoteBookmark, local *models.Bookmark,
	run *runState,
	outcome *Outcome,
) (bool, error) {
	if !models.NeedsUpdate(local, remoteBookmark) {
		outcome.Skipped++
		return false, nil
	}

	merged := remoteBookmark.Clone()
	merged.MergeLocalFields(local)

	if err := e.store.UpsertBookmark(merged); err != nil {
		var quotaErr *models.QuotaExceededError
		if errors.As(err, &quotaErr) {
			return false, fmt.Errorf("upsert bookmark %s: %w", merged.ID, err)
		}
		e.logger.WithError(err).WithField("bookmark_id", merged.ID).Error("Failed to upsert bookmark, skipping")
		return false, nil
	}

	if remoteBookmark.IsArchived {
		// Archived bookmarks keep asset metadata but no cached content.
		if err := e.syncAssetMetadata(ctx, remoteBookmark.ID); err != nil {
			e.logger.WithError(err).WithField("bookmark_id", remoteBookmark.ID).Error("Failed to sync asset metadata, skipping")
		}
		if local != nil && !local.IsArchived {
			// Just transitioned to archived: evict previously cached content.
			if err := e.store.ClearAssetContent(remoteBookmark.ID); err != nil {
				e.logger.WithError(err).WithField("bookmark_id", remoteBookmark.ID).Error("Failed to clear cached assets")
			}
		}
	}

	outcome.Synced++
	run.emit(models.SyncMessage{
		Type:     models.MsgBookmarkSynced,
		Phase:    phase,
		Bookmark: merged,
		Current:  run.current + 1,
		Total:    run.total,
	})

	return true, nil
}

// syncAssetMetadata upserts a bookmark's asset records without touching
// content. Archived bookmarks keep metadata only.
func (e *Engine) syncAssetMetadata(ctx context.Context, bookmarkID string) error {
	remoteAssets, err := e.remote.GetBookmarkAssets(ctx, bookmarkID)
	if err != nil {
		return fmt.Errorf("fetch assets: %w", err)
	}

	for _, asset := range remoteAssets {
		if err := e.store.UpsertAsset(asset); err != nil {
			var quotaErr *models.QuotaExceededError
			if errors.As(err, &quotaErr) {
				return err
			}
			e.logger.WithError(err).WithField("asset_id", asset.ID).Error("Failed to upsert asset, skipping")
		}
	}
	return nil
}

// syncAssets downloads content for the changed unarchived bookmarks.
func (e *Engine) syncAssets(ctx context.Context, bookmarks []*models.Bookmark, run *runState) error {
	run.emit(models.SyncMessage{
		Type:    models.MsgSyncProgress,
		Phase:   models.PhaseAssets,
		Current: run.current,
		Total:   run.total,
	})

	for i, b := range bookmarks {
		if err := e.checkCancelled(ctx); err != nil {
			return err
		}

		if err := e.syncBookmarkAssets(ctx, b); err != nil {
			e.logger.WithError(err).WithField("bookmark_id", b.ID).Error("Failed to sync assets, skipping")
			continue
		}

		// Favicon warm-up never blocks the pass.
		go e.favicons.Prefetch(b.URL)

		if (i+1)%e.yieldEvery == 0 {
			e.yield(ctx)
		}
	}
	return nil
}

// syncBookmarkAssets reconciles one bookmark's assets: metadata always,
// content for completed assets not yet cached. Already-cached assets are
// skipped so content is downloaded exactly once.
func (e *Engine) syncBookmarkAssets(ctx context.Context, b *models.Bookmark) error {
	remoteAssets, err := e.remote.GetBookmarkAssets(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("fetch assets: %w", err)
	}

	localAssets, err := e.store.ListAssets(b.ID)
	if err != nil {
		return fmt.Errorf("list local assets: %w", err)
	}
	cached := make(map[string]bool, len(localAssets))
	for _, a := range localAssets {
		cached[a.ID] = a.Cached()
	}

	for _, asset := range remoteAssets {
		if err := e.store.UpsertAsset(asset); err != nil {
			var quotaErr *models.QuotaExceededError
			if errors.As(err, &quotaErr) {
				return err
			}
			e.logger.WithError(err).WithField("asset_id", asset.ID).Error("Failed to upsert asset, skipping")
			continue
		}

		if asset.Status != models.AssetComplete || cached[asset.ID] {
			continue
		}

		content, err := e.remote.DownloadAsset(ctx, b.ID, asset.ID)
		if err != nil {
			e.logger.WithError(err).WithField("asset_id", asset.ID).Error("Failed to download asset, skipping")
			continue
		}

		if err := e.store.SaveAssetContent(asset.ID, content, time.Now().UTC()); err != nil {
			var quotaErr *models.QuotaExceededError
			if errors.As(err, &quotaErr) {
				return err
			}
			e.logger.WithError(err).WithField("asset_id", asset.ID).Error("Failed to cache asset content")
		}
	}

	return nil
}

// pushReadStatus pushes local read-status changes back to the server, one
// item at a time. Failures are always swallowed.
func (e *Engine) pushReadStatus(ctx context.Context, run *runState) {
	run.emit(models.SyncMessage{
		Type:    models.MsgSyncProgress,
		Phase:   models.PhaseReadStatus,
		Current: run.current,
		Total:   run.total,
	})

	dirty, err := e.store.BookmarksNeedingReadSync()
	if err != nil {
		e.logger.WithError(err).Warn("Failed to query read-status changes")
		return
	}

	for i, b := range dirty {
		if e.cancelled.Load() || ctx.Err() != nil {
			return
		}

		if err := e.remote.MarkBookmarkAsRead(ctx, b.ID); err != nil {
			e.logger.WithError(err).WithField("bookmark_id", b.ID).Warn("Read-status push failed, will retry next run")
			continue
		}

		if err := e.store.MarkReadSynced(b.ID); err != nil {
			e.logger.WithError(err).WithField("bookmark_id", b.ID).Warn("Failed to clear read-dirty flag")
		}

		if (i+1)%e.yieldEvery == 0 {
			e.yield(ctx)
		}
	}
}

// fail maps a run-ending error to its terminal message. Cooperative
// cancellation ends the stream silently (the consumer resets to idle);
// everything else emits SYNC_ERROR, after which no further progress
// messages follow for the run.
func (e *Engine) fail(emit Emitter, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e.logger.Info("Sync cancelled")
		return err
	}
	e.logger.WithError(err).Error("Sync failed")
	emit(models.SyncMessage{
		Type:        models.MsgSyncError,
		Error:       err.Error(),
		Recoverable: models.Recoverable(err),
	})
	return err
}

// checkCancelled honors context cancellation and the cooperative flag.
func (e *Engine) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.cancelled.Load() {
		return context.Canceled
	}
	return nil
}

// yield hands control back to the scheduler between slices of work.
func (e *Engine) yield(ctx context.Context) {
	select {
	case <-ctx.Done():
	default:
		runtime.Gosched()
	}
}
