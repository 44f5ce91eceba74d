// Package store persists subscriber documents and seen records.
//
// Every mutation is a field-level update. No backend ever replaces a whole
// subscriber document, so concurrent edits to different fields of the same
// subscriber never lose each other.
package store

import (
	"context"
	"errors"
	"fmt"

	"jobmate/notifier-service/internal/model"
)

var (
	// ErrNotFound is returned when a subscriber document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps every I/O failure of a backend.
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict is returned when an optimistic update kept losing races.
	ErrConflict = errors.New("concurrent update conflict")
)

// Store is the document store contract shared by all backends.
type Store interface {
	// GetSubscriber returns a copy of the subscriber document or ErrNotFound.
	GetSubscriber(ctx context.Context, id int64) (*model.Subscriber, error)
	// EnsureSubscriber creates an empty document if none exists and returns
	// the current one.
	EnsureSubscriber(ctx context.Context, id int64) (*model.Subscriber, error)

	AddSource(ctx context.Context, id int64, src model.Source) error
	// RemoveSource drops the first source with the given name. It reports
	// whether one was removed.
	RemoveSource(ctx context.Context, id int64, name string) (bool, error)
	SetSetting(ctx context.Context, id int64, key, value string) error
	SetFilter(ctx context.Context, id int64, v model.FilterValue) error
	ClearFilter(ctx context.Context, id int64, key model.FilterKey) error
	SetPaused(ctx context.Context, id int64, paused bool) error
	ListSubscriberIDs(ctx context.Context) ([]int64, error)

	// HasSeen reports whether entryID was already recorded for subscriberID.
	HasSeen(ctx context.Context, entryID string, subscriberID int64) (bool, error)
	// MarkSeen records the pair. Marking twice is not an error.
	MarkSeen(ctx context.Context, entryID string, subscriberID int64) error

	Close() error
}

// unavailable wraps a backend error so that errors.Is(err, ErrUnavailable)
// holds while the original cause stays visible.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
	_ Store = (*Firestore)(nil)
)
