package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeNetwork  = "NETWORK_ERROR"
	ErrCodeAuth     = "AUTH_ERROR"
	ErrCodeNotFound = "NOT_FOUND"
	ErrCodeQuota    = "QUOTA_EXCEEDED"
	ErrCodeLock     = "LOCK_TIMEOUT"
	ErrCodeStorage  = "STORAGE_ERROR"
)

// Sentinel errors
var (
	ErrSyncInProgress  = errors.New("sync already in progress")
	ErrLockTimeout     = errors.New("lock acquisition timed out")
	ErrInvalidBookmark = errors.New("invalid bookmark record")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// NetworkError is a transient failure talking to the server. It is retried
// on the next scheduled or manual run; the cursor is not advanced.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError is a 401/403 from the server. Non-retryable until credentials
// change; surfaced as action-required.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// NotFoundError indicates a misconfigured endpoint (404); surfaced as a
// configuration error.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("endpoint not found: %s", e.URL)
}

// QuotaExceededError is a persistence write failure. It aborts the run and
// is reported with recoverable=false.
type QuotaExceededError struct {
	Err error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: %v", e.Err)
}

func (e *QuotaExceededError) Unwrap() error { return e.Err }

// Recoverable reports whether a sync failure clears on its own. Network
// conditions recover on the next run; auth, endpoint, and quota conditions
// require user action.
func Recoverable(err error) bool {
	var authErr *AuthError
	var nfErr *NotFoundError
	var quotaErr *QuotaExceededError
	switch {
	case errors.As(err, &authErr), errors.As(err, &nfErr), errors.As(err, &quotaErr):
		return false
	default:
		return true
	}
}

// ErrorCode maps an error to its taxonomy code.
func ErrorCode(err error) string {
	var authErr *AuthError
	var nfErr *NotFoundError
	var quotaErr *QuotaExceededError
	var netErr *NetworkError
	switch {
	case errors.As(err, &authErr):
		return ErrCodeAuth
	case errors.As(err, &nfErr):
		return ErrCodeNotFound
	case errors.As(err, &quotaErr):
		return ErrCodeQuota
	case errors.Is(err, ErrLockTimeout):
		return ErrCodeLock
	case errors.As(err, &netErr):
		return ErrCodeNetwork
	default:
		return ErrCodeStorage
	}
}
