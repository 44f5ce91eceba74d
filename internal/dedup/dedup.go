// Package dedup answers "has this subscriber already been shown this entry?".
//
// The document store is the durable record. When a Redis client is supplied,
// a set per subscriber (seen:<subscriberID>) sits in front of it: hits skip the
// store, misses fall through and back-fill the set. Redis is best effort, so
// its failures are logged and never surface to the caller.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"jobmate/notifier-service/internal/store"
)

// Seen is the narrow slice of store.Store the filter needs.
type Seen interface {
	HasSeen(ctx context.Context, entryID string, subscriberID int64) (bool, error)
	MarkSeen(ctx context.Context, entryID string, subscriberID int64) error
}

var _ Seen = store.Store(nil)

// Filter is the novelty filter.
type Filter struct {
	store  Seen
	rdb    *redis.Client
	logger *slog.Logger
}

// New returns a Filter backed by st. rdb may be nil.
func New(st Seen, rdb *redis.Client, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{store: st, rdb: rdb, logger: logger.With("component", "dedup")}
}

// CacheKey returns the Redis set holding the seen entry ids of subscriberID.
func CacheKey(subscriberID int64) string {
	return "seen:" + strconv.FormatInt(subscriberID, 10)
}

// HasBeenSeen reports whether entryID was already marked for subscriberID.
func (f *Filter) HasBeenSeen(ctx context.Context, entryID string, subscriberID int64) (bool, error) {
	if f.rdb != nil {
		hit, err := f.rdb.SIsMember(ctx, CacheKey(subscriberID), entryID).Result()
		if err != nil {
			f.logger.Warn("cache lookup failed", "subscriber_id", subscriberID, "err", err)
		} else if hit {
			return true, nil
		}
	}

	seen, err := f.store.HasSeen(ctx, entryID, subscriberID)
	if err != nil {
		return false, fmt.Errorf("has seen: %w", err)
	}
	if seen {
		f.cache(ctx, entryID, subscriberID)
	}
	return seen, nil
}

// MarkSeen records entryID for subscriberID. Marking twice is harmless.
func (f *Filter) MarkSeen(ctx context.Context, entryID string, subscriberID int64) error {
	if err := f.store.MarkSeen(ctx, entryID, subscriberID); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	f.cache(ctx, entryID, subscriberID)
	return nil
}

func (f *Filter) cache(ctx context.Context, entryID string, subscriberID int64) {
	if f.rdb == nil {
		return
	}
	if err := f.rdb.SAdd(ctx, CacheKey(subscriberID), entryID).Err(); err != nil {
		f.logger.Warn("cache write failed", "subscriber_id", subscriberID, "err", err)
	}
}
