package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/notifier-service/internal/model"
	"jobmate/notifier-service/internal/store"
)

func TestMemory_GetUnknownIsNotFound(t *testing.T) {
	m := store.NewMemory()
	_, err := m.GetSubscriber(context.Background(), 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemory_EnsureCreatesEmptyDocument(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	s, err := m.EnsureSubscriber(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.ID)
	assert.Empty(t, s.Sources)
	assert.Empty(t, s.Settings)
	assert.True(t, s.Filters.IsEmpty())
	assert.False(t, s.Paused)

	ids, err := m.ListSubscriberIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids)
}

func TestMemory_SourcesAppendAndRemoveFirstMatch(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.AddSource(ctx, 1, model.Source{Name: "go", URL: "https://a"}))
	require.NoError(t, m.AddSource(ctx, 1, model.Source{Name: "go", URL: "https://b"}))
	require.NoError(t, m.AddSource(ctx, 1, model.Source{Name: "py", URL: "https://c"}))

	removed, err := m.RemoveSource(ctx, 1, "go")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.RemoveSource(ctx, 1, "rust")
	require.NoError(t, err)
	assert.False(t, removed)

	s, err := m.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []model.Source{{Name: "go", URL: "https://b"}, {Name: "py", URL: "https://c"}}, s.Sources)
}

func TestMemory_FieldUpdatesDoNotClobber(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.SetSetting(ctx, 1, model.SettingTimezone, "Europe/Paris"))
	require.NoError(t, m.SetFilter(ctx, 1, model.FilterValue{Key: model.FilterKeywords, List: []string{"go"}}))
	require.NoError(t, m.SetFilter(ctx, 1, model.FilterValue{Key: model.FilterMinimumBudget, Number: 100}))
	require.NoError(t, m.SetSetting(ctx, 1, model.SettingShowSummary, "yes"))
	require.NoError(t, m.SetPaused(ctx, 1, true))

	s, err := m.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", s.Settings[model.SettingTimezone])
	assert.Equal(t, "yes", s.Settings[model.SettingShowSummary])
	assert.Equal(t, []string{"go"}, s.Filters.Keywords)
	require.NotNil(t, s.Filters.MinimumBudget)
	assert.Equal(t, 100.0, *s.Filters.MinimumBudget)
	assert.True(t, s.Paused)
	assert.Equal(t, int64(5), s.Version)

	require.NoError(t, m.ClearFilter(ctx, 1, model.FilterKeywords))
	s, err = m.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, s.Filters.Keywords)
	assert.NotNil(t, s.Filters.MinimumBudget)
}

func TestMemory_ListFilterReplaces(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.SetFilter(ctx, 1, model.FilterValue{Key: model.FilterExcludeCountries, List: []string{"India"}}))
	require.NoError(t, m.SetFilter(ctx, 1, model.FilterValue{Key: model.FilterExcludeCountries, List: []string{"Pakistan"}}))

	s, err := m.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pakistan"}, s.Filters.ExcludeCountries)
}

func TestMemory_ReturnedDocumentIsACopy(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.AddSource(ctx, 1, model.Source{Name: "a", URL: "https://a"}))

	s, err := m.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	s.Sources[0].Name = "mutated"
	s.Settings["timezone"] = "Asia/Tokyo"

	again, err := m.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Sources[0].Name)
	assert.Empty(t, again.Settings)
}

func TestMemory_SeenIsPerSubscriberAndIdempotent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.MarkSeen(ctx, "e1", 1))
	require.NoError(t, m.MarkSeen(ctx, "e1", 1))

	seen, err := m.HasSeen(ctx, "e1", 1)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = m.HasSeen(ctx, "e1", 2)
	require.NoError(t, err)
	assert.False(t, seen)

	assert.Equal(t, 1, m.SeenCount())
}

func TestMemory_FailureIsUnavailable(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.SetFailure(errors.New("connection refused"))

	_, err := m.GetSubscriber(ctx, 1)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	_, err = m.HasSeen(ctx, "e", 1)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.ErrorIs(t, m.MarkSeen(ctx, "e", 1), store.ErrUnavailable)
	assert.ErrorContains(t, m.AddSource(ctx, 1, model.Source{}), "connection refused")

	m.SetFailure(nil)
	_, err = m.EnsureSubscriber(ctx, 1)
	assert.NoError(t, err)
}

func TestMemory_ConcurrentEditsAreNotLost(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.AddSource(ctx, 1, model.Source{Name: "s", URL: "https://s"})
		}()
		go func() {
			defer wg.Done()
			_ = m.SetSetting(ctx, 1, model.SettingShowSummary, "yes")
		}()
	}
	wg.Wait()

	s, err := m.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, s.Sources, 50)
	assert.Equal(t, "yes", s.Settings[model.SettingShowSummary])
	assert.Equal(t, int64(100), s.Version)
}
