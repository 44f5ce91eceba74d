package store

import (
	"context"
	"sort"
	"sync"

	"jobmate/notifier-service/internal/model"
)

type seenKey struct {
	entryID      string
	subscriberID int64
}

// Memory is an in-process Store. It is used by tests and for local runs
// without a database; nothing survives a restart.
type Memory struct {
	mu   sync.RWMutex
	subs map[int64]*model.Subscriber
	seen map[seenKey]struct{}
	fail error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		subs: make(map[int64]*model.Subscriber),
		seen: make(map[seenKey]struct{}),
	}
}

func (m *Memory) check(op string) error {
	if m.fail != nil {
		return unavailable(op, m.fail)
	}
	return nil
}

// SetFailure makes every following call fail with err wrapped as
// ErrUnavailable. nil restores normal operation.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *Memory) GetSubscriber(_ context.Context, id int64) (*model.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("get subscriber"); err != nil {
		return nil, err
	}
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) EnsureSubscriber(_ context.Context, id int64) (*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ensure subscriber"); err != nil {
		return nil, err
	}
	return m.ensure(id).Clone(), nil
}

// ensure must be called with mu held.
func (m *Memory) ensure(id int64) *model.Subscriber {
	s, ok := m.subs[id]
	if !ok {
		s = model.NewSubscriber(id)
		m.subs[id] = s
	}
	return s
}

// update runs fn on the live document under the write lock and bumps the
// version.
func (m *Memory) update(op string, id int64, fn func(s *model.Subscriber)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(op); err != nil {
		return err
	}
	s := m.ensure(id)
	fn(s)
	s.Version++
	return nil
}

func (m *Memory) AddSource(_ context.Context, id int64, src model.Source) error {
	return m.update("add source", id, func(s *model.Subscriber) {
		s.Sources = append(s.Sources, src)
	})
}

func (m *Memory) RemoveSource(_ context.Context, id int64, name string) (bool, error) {
	var removed bool
	err := m.update("remove source", id, func(s *model.Subscriber) {
		removed = s.RemoveSource(name)
	})
	return removed, err
}

func (m *Memory) SetSetting(_ context.Context, id int64, key, value string) error {
	return m.update("set setting", id, func(s *model.Subscriber) {
		if s.Settings == nil {
			s.Settings = model.Settings{}
		}
		s.Settings[key] = value
	})
}

func (m *Memory) SetFilter(_ context.Context, id int64, v model.FilterValue) error {
	return m.update("set filter", id, func(s *model.Subscriber) {
		s.Filters.Apply(v)
	})
}

func (m *Memory) ClearFilter(_ context.Context, id int64, key model.FilterKey) error {
	return m.update("clear filter", id, func(s *model.Subscriber) {
		s.Filters.Clear(key)
	})
}

func (m *Memory) SetPaused(_ context.Context, id int64, paused bool) error {
	return m.update("set paused", id, func(s *model.Subscriber) {
		s.Paused = paused
	})
}

func (m *Memory) ListSubscriberIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("list subscribers"); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) HasSeen(_ context.Context, entryID string, subscriberID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("has seen"); err != nil {
		return false, err
	}
	_, ok := m.seen[seenKey{entryID, subscriberID}]
	return ok, nil
}

func (m *Memory) MarkSeen(_ context.Context, entryID string, subscriberID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("mark seen"); err != nil {
		return err
	}
	m.seen[seenKey{entryID, subscriberID}] = struct{}{}
	return nil
}

// SeenCount returns the number of recorded (entry, subscriber) pairs.
func (m *Memory) SeenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.seen)
}

func (m *Memory) Close() error { return nil }
