// Package activation persists each module's enabled/disabled flag.
//
// Store is the backend-agnostic contract; DatabaseStore is the SQLite-backed
// implementation. A module without a record has StatusUnknown: HasStatus
// reports false for both true and false queries, and it appears in neither
// Enabled nor Disabled.
package activation

import (
	"context"
	"errors"
	"time"

	"github.com/modkit/modkit/internal/module"
)

// Store owns activation records. Every write invalidates the cached status map.
type Store interface {
	// SetActive upserts the record for name. Setting the same status twice only
	// refreshes updated_at.
	SetActive(ctx context.Context, name string, active bool) error
	// HasStatus is true iff a record exists for name and equals status.
	HasStatus(ctx context.Context, name string, status bool) (bool, error)
	// Status returns the three-state view of name.
	Status(ctx context.Context, name string) (module.Status, error)
	// Statuses returns the full name -> status mapping.
	Statuses(ctx context.Context) (map[string]bool, error)
	// Delete removes the record for name; a missing name is a no-op.
	Delete(ctx context.Context, name string) error
	// Reset removes every record.
	Reset(ctx context.Context) error
	// BulkSetActive upserts all names in one transaction and invalidates once.
	BulkSetActive(ctx context.Context, names []string, active bool) error
	// Enabled returns the sorted names whose status is true.
	Enabled(ctx context.Context) ([]string, error)
	// Disabled returns the sorted names whose status is false.
	Disabled(ctx context.Context) ([]string, error)
}

// CacheInvalidator is implemented by stores that cache their status map.
type CacheInvalidator interface {
	// InvalidateCache drops the cached status map so the next read hits the backend.
	InvalidateCache(ctx context.Context) error
}

// Record is one persisted activation row.
type Record struct {
	Name      string    `json:"name"`
	Status    bool      `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrBackendUnavailable wraps failures talking to the persistence backend.
	ErrBackendUnavailable = errors.New("activation backend unavailable")
	// ErrInitialization reports that the activation table could not be created or verified.
	ErrInitialization = errors.New("activation store initialization failed")
	// ErrInvalidName rejects blank module names on writes.
	ErrInvalidName = errors.New("module name is required")
)
