// Package subscriber contains the business logic behind subscriber commands.
// It is transport-agnostic: used by the Telegram bot and the operator API.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"jobmate/notifier-service/internal/filter"
	"jobmate/notifier-service/internal/model"
	"jobmate/notifier-service/internal/scheduler"
	"jobmate/notifier-service/internal/store"
)

// ErrNotAuthorized is returned when a non-operator asks for operator data.
var ErrNotAuthorized = errors.New("not authorized")

// Scheduler is the slice of *scheduler.Scheduler the service drives.
type Scheduler interface {
	Ensure(id int64) bool
	Pause(id int64)
	Resume(id int64)
	RunNow(ctx context.Context, id int64) error
	Jobs() []scheduler.Job
}

// ─── Service ─────────────────────────────────────────────────────────────────

// Service encapsulates subscriber configuration and schedule control.
type Service struct {
	store     store.Store
	sched     Scheduler
	operators map[int64]bool
}

// NewService returns a configured Service. operatorIDs may see every job.
func NewService(st store.Store, sched Scheduler, operatorIDs []int64) *Service {
	ops := make(map[int64]bool, len(operatorIDs))
	for _, id := range operatorIDs {
		ops[id] = true
	}
	return &Service{store: st, sched: sched, operators: ops}
}

// IsOperator reports whether id is in the operator list.
func (s *Service) IsOperator(id int64) bool { return s.operators[id] }

// ─── Documents ───────────────────────────────────────────────────────────────

// Subscriber returns the document of id, creating an empty one on first
// contact.
func (s *Service) Subscriber(ctx context.Context, id int64) (*model.Subscriber, error) {
	sub, err := s.store.EnsureSubscriber(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ensure subscriber %d: %w", id, err)
	}
	return sub, nil
}

// Find returns the document of id without creating it. Returns
// store.ErrNotFound for unknown subscribers.
func (s *Service) Find(ctx context.Context, id int64) (*model.Subscriber, error) {
	return s.store.GetSubscriber(ctx, id)
}

// List returns every stored subscriber ordered by id.
func (s *Service) List(ctx context.Context) ([]*model.Subscriber, error) {
	ids, err := s.store.ListSubscriberIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	subs := make([]*model.Subscriber, 0, len(ids))
	for _, id := range ids {
		sub, err := s.store.GetSubscriber(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get subscriber %d: %w", id, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ─── Sources ─────────────────────────────────────────────────────────────────

// AddSource validates and appends a source. The first source of a subscriber
// without a job schedules it; a paused subscriber stays paused.
func (s *Service) AddSource(ctx context.Context, id int64, rawURL, name string) (model.Source, error) {
	src, err := filter.ParseSource(rawURL, name)
	if err != nil {
		return model.Source{}, err
	}
	if err := s.store.AddSource(ctx, id, src); err != nil {
		return model.Source{}, fmt.Errorf("add source: %w", err)
	}
	if s.sched.Ensure(id) {
		slog.Info("subscriber scheduled", "subscriber_id", id)
	}
	return src, nil
}

// Sources returns the configured sources in order.
func (s *Service) Sources(ctx context.Context, id int64) ([]model.Source, error) {
	sub, err := s.Subscriber(ctx, id)
	if err != nil {
		return nil, err
	}
	return sub.Sources, nil
}

// RemoveSource removes the first source named name. Returns store.ErrNotFound
// when there is none.
func (s *Service) RemoveSource(ctx context.Context, id int64, name string) error {
	removed, err := s.store.RemoveSource(ctx, id, name)
	if err != nil {
		return fmt.Errorf("remove source: %w", err)
	}
	if !removed {
		return store.ErrNotFound
	}
	return nil
}

// ─── Settings & filters ──────────────────────────────────────────────────────

// SetSetting validates and stores one display preference. It returns the
// stored value.
func (s *Service) SetSetting(ctx context.Context, id int64, key, raw string) (string, error) {
	value, err := filter.ParseSetting(key, raw)
	if err != nil {
		return "", err
	}
	if err := s.store.SetSetting(ctx, id, canonicalSetting(key), value); err != nil {
		return "", fmt.Errorf("set setting: %w", err)
	}
	return value, nil
}

// Settings returns the stored preferences.
func (s *Service) Settings(ctx context.Context, id int64) (model.Settings, error) {
	sub, err := s.Subscriber(ctx, id)
	if err != nil {
		return nil, err
	}
	return sub.Settings, nil
}

// SetFilter validates and stores one rule, replacing any previous value.
func (s *Service) SetFilter(ctx context.Context, id int64, key, raw string) (model.FilterValue, error) {
	v, err := filter.ParseFilter(key, raw)
	if err != nil {
		return model.FilterValue{}, err
	}
	if err := s.store.SetFilter(ctx, id, v); err != nil {
		return model.FilterValue{}, fmt.Errorf("set filter: %w", err)
	}
	return v, nil
}

// ClearFilter removes one rule.
func (s *Service) ClearFilter(ctx context.Context, id int64, key string) (model.FilterKey, error) {
	k, err := filter.ParseFilterKey(key)
	if err != nil {
		return "", err
	}
	if err := s.store.ClearFilter(ctx, id, k); err != nil {
		return "", fmt.Errorf("clear filter: %w", err)
	}
	return k, nil
}

// Filters returns the configured rules.
func (s *Service) Filters(ctx context.Context, id int64) (model.Filters, error) {
	sub, err := s.Subscriber(ctx, id)
	if err != nil {
		return model.Filters{}, err
	}
	return sub.Filters, nil
}

// ─── Schedule control ────────────────────────────────────────────────────────

// Pause stops the recurring tick of id and remembers it across restarts.
func (s *Service) Pause(ctx context.Context, id int64) error {
	if err := s.store.SetPaused(ctx, id, true); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	s.sched.Pause(id)
	return nil
}

// Resume restarts the recurring tick of id.
func (s *Service) Resume(ctx context.Context, id int64) error {
	if err := s.store.SetPaused(ctx, id, false); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	s.sched.Resume(id)
	return nil
}

// RunNow runs one tick for id immediately, whatever its schedule state.
func (s *Service) RunNow(ctx context.Context, id int64) error {
	return s.sched.RunNow(ctx, id)
}

// Jobs lists every scheduled subscriber. Only operators may call it.
func (s *Service) Jobs(operatorID int64) ([]scheduler.Job, error) {
	if !s.IsOperator(operatorID) {
		return nil, ErrNotAuthorized
	}
	return s.sched.Jobs(), nil
}

// Restore schedules every stored subscriber that has sources. Subscribers
// paused before the restart stay paused. Returns the number scheduled.
func (s *Service) Restore(ctx context.Context) (int, error) {
	subs, err := s.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}
	scheduled := 0
	for _, sub := range subs {
		if sub.Paused {
			s.sched.Pause(sub.ID)
			continue
		}
		if len(sub.Sources) == 0 {
			continue
		}
		if s.sched.Ensure(sub.ID) {
			scheduled++
		}
	}
	slog.Info("subscribers restored", "total", len(subs), "scheduled", scheduled)
	return scheduled, nil
}

// canonicalSetting returns the stored spelling of an already validated key.
func canonicalSetting(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
