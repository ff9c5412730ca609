package remote

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/net/http2"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/models"
)

// Client is the remote bookmark API consumed by the sync engine. The cursor
// is an opaque ISO-8601 timestamp string; callers treat it as a black box.
type Client interface {
	// GetAllBookmarks fetches bookmarks changed since the cursor. An empty
	// cursor fetches everything.
	GetAllBookmarks(ctx context.Context, sinceCursor string) ([]*models.Bookmark, error)

	// GetBookmarkAssets fetches asset metadata for a bookmark.
	GetBookmarkAssets(ctx context.Context, bookmarkID string) ([]*models.Asset, error)

	// DownloadAsset fetches the content blob of one asset.
	DownloadAsset(ctx context.Context, bookmarkID, assetID string) ([]byte, error)

	// MarkBookmarkAsRead pushes a local read-status change to the server.
	MarkBookmarkAsRead(ctx context.Context, bookmarkID string) error
}

// HTTPClient implements Client over the server's REST API.
type HTTPClient struct {
	client     *http.Client
	baseURL    string
	token      string
	userAgent  string
	maxRetries int
	logger     *events.Logger
}

// NewHTTPClient creates an HTTP API client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		logger:     logger.WithField("component", "remote_client"),
	}
}

// SetToken sets the API token.
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// GetAllBookmarks fetches bookmarks changed since the cursor.
func (c *HTTPClient) GetAllBookmarks(ctx context.Context, sinceCursor string) ([]*models.Bookmark, error) {
	path := "/api/bookmarks"
	if sinceCursor != "" {
		path += "?since=" + url.QueryEscape(sinceCursor)
	}

	data, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var bookmarks []*models.Bookmark
	if err := json.Unmarshal(data, &bookmarks); err != nil {
		return nil, fmt.Errorf("parse bookmarks: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"count": len(bookmarks),
		"since": sinceCursor,
	}).Debug("Fetched bookmarks")

	return bookmarks, nil
}

// GetBookmarkAssets fetches asset metadata for a bookmark.
func (c *HTTPClient) GetBookmarkAssets(ctx context.Context, bookmarkID string) ([]*models.Asset, error) {
	data, err := c.get(ctx, fmt.Sprintf("/api/bookmarks/%s/assets", url.PathEscape(bookmarkID)))
	if err != nil {
		return nil, err
	}

	var assets []*models.Asset
	if err := json.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("parse assets: %w", err)
	}

	return assets, nil
}

// DownloadAsset fetches the content blob of one asset.
func (c *HTTPClient) DownloadAsset(ctx context.Context, bookmarkID, assetID string) ([]byte, error) {
	path := fmt.Sprintf("/api/bookmarks/%s/assets/%s/content",
		url.PathEscape(bookmarkID), url.PathEscape(assetID))

	data, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"asset_id": assetID,
		"size":     len(data),
	}).Debug("Downloaded asset")

	return data, nil
}

// MarkBookmarkAsRead pushes a read-status change to the server.
func (c *HTTPClient) MarkBookmarkAsRead(ctx context.Context, bookmarkID string) error {
	path := fmt.Sprintf("/api/bookmarks/%s/read", url.PathEscape(bookmarkID))
	_, err := c.do(ctx, http.MethodPost, path)
	return err
}

// get executes a GET request with retry.
func (c *HTTPClient) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path)
}

// do executes a request with exponential backoff. Transient failures (network
// errors, 429, 5xx) are retried; auth and endpoint errors fail immediately.
func (c *HTTPClient) do(ctx context.Context, method, path string) ([]byte, error) {
	reqURL := c.baseURL + path

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, backoff.Permanent(&models.AuthError{
				StatusCode: resp.StatusCode,
				Message:    string(body),
			})
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(&models.NotFoundError{URL: reqURL})
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, body)
		default:
			return nil, backoff.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, body))
		}
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
	)
	if err != nil {
		// Errors still transient after retries surface as network errors so
		// the next scheduled run retries them.
		if models.Recoverable(err) {
			return nil, &models.NetworkError{Op: method + " " + path, Err: err}
		}
		return nil, err
	}

	return data, nil
}
