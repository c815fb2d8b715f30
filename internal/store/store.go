package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store persists the capture journal.
type Store interface {
	// Append assigns c.ID and c.Time (if zero) and saves the capture.
	Append(c *Capture) error
	Get(id uint64) (*Capture, error)

	// List returns up to limit captures with ID < before, newest first.
	// before == 0 starts from the newest capture.
	List(limit int, before uint64) ([]*Capture, error)
	Count() (int, error)

	// Prune deletes the oldest captures so that at most keep remain and
	// reports how many were deleted.
	Prune(keep int) (int, error)

	PutMeta(key string, v any) error
	GetMeta(key string, v any) error

	Close() error
}
