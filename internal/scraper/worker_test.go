package scraper_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/notifier-service/internal/dedup"
	"jobmate/notifier-service/internal/model"
	"jobmate/notifier-service/internal/notify"
	"jobmate/notifier-service/internal/scraper"
	"jobmate/notifier-service/internal/store"
)

var testNow = time.Date(2020, 10, 24, 6, 0, 0, 0, time.UTC)

// ── fakes ──────────────────────────────────────────────────────────────────

type fakeFetcher struct {
	mu    sync.Mutex
	feeds map[string][]model.RawEntry
	errs  map[string]error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]model.RawEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.feeds[url], nil
}

type message struct {
	subscriberID int64
	text         string
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []message
}

func (s *recordingSink) Deliver(_ context.Context, id int64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, message{id, text})
}

func (s *recordingSink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.text
	}
	return out
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (a *recordingAlerter) Alert(_ context.Context, al notify.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
}

type recordingRecords struct {
	items []model.Item
}

func (r *recordingRecords) Upsert(_ context.Context, it model.Item) error {
	r.items = append(r.items, it)
	return nil
}

// entry builds a raw feed entry published minutes before testNow.
func entry(id, title, country, budget string, minutesAgo int) model.RawEntry {
	body := fmt.Sprintf("Lead text for %s.<br /><br /><b>Budget</b>: %s\n<br /><b>Country</b>: %s\n<br /><b>Skills</b>: Go, SQL\n", title, budget, country)
	return model.RawEntry{
		ID:        "https://jobs.example/" + id,
		Title:     title,
		Body:      body,
		Published: testNow.Add(-time.Duration(minutesAgo) * time.Minute).Format("Mon, 02 Jan 2006 15:04:05 -0700"),
		Link:      "https://jobs.example/" + id + "?src=rss",
	}
}

type harness struct {
	st      *store.Memory
	fetcher *fakeFetcher
	sink    *recordingSink
	alerter *recordingAlerter
	records *recordingRecords
	worker  *scraper.Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		st:      store.NewMemory(),
		fetcher: &fakeFetcher{feeds: map[string][]model.RawEntry{}, errs: map[string]error{}},
		sink:    &recordingSink{},
		alerter: &recordingAlerter{},
		records: &recordingRecords{},
	}
	h.worker = scraper.NewWorker(h.st, h.fetcher, dedup.New(h.st, nil, nil), h.sink,
		scraper.WithAlerter(h.alerter),
		scraper.WithRecordSink(h.records),
		scraper.WithClock(func() time.Time { return testNow }),
	)
	return h
}

func (h *harness) addSource(t *testing.T, id int64, name, url string) {
	t.Helper()
	require.NoError(t, h.st.AddSource(context.Background(), id, model.Source{Name: name, URL: url}))
}

// ── Process ────────────────────────────────────────────────────────────────

func TestProcess_ReturnsOldestFirstAndMarksSeen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetcher.feeds["u"] = []model.RawEntry{
		entry("3", "Newest", "India", "$300", 1),
		entry("2", "Middle", "India", "$200", 2),
		entry("1", "Oldest", "India", "$100", 3),
	}
	sub := model.NewSubscriber(1)

	items, err := h.worker.Process(ctx, model.Source{Name: "go", URL: "u"}, sub)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"Oldest", "Middle", "Newest"}, []string{items[0].Title, items[1].Title, items[2].Title})
	assert.Equal(t, "go", items[0].Source)
	assert.Equal(t, 3, h.st.SeenCount())

	again, err := h.worker.Process(ctx, model.Source{Name: "go", URL: "u"}, sub)
	require.NoError(t, err)
	assert.Empty(t, again, "seen entries must never be re-emitted")
}

func TestProcess_FilteredEntriesAreMarkedSeen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetcher.feeds["u"] = []model.RawEntry{
		entry("1", "Cheap", "India", "$5", 1),
		entry("2", "Excluded", "pakistan ", "$900", 2),
		entry("3", "Good", "Germany", "$900", 3),
	}
	sub := model.NewSubscriber(1)
	sub.Filters.Apply(model.FilterValue{Key: model.FilterMinimumBudget, Number: 50})
	sub.Filters.Apply(model.FilterValue{Key: model.FilterExcludeCountries, List: []string{"Pakistan"}})

	items, err := h.worker.Process(ctx, model.Source{Name: "s", URL: "u"}, sub)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Good", items[0].Title)
	assert.Equal(t, 3, h.st.SeenCount())

	// Relaxing the filters does not resurrect rejected entries.
	sub.Filters = model.Filters{}
	items, err = h.worker.Process(ctx, model.Source{Name: "s", URL: "u"}, sub)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestProcess_ExtractionFailureSkipsEntryOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	bad := entry("2", "Broken", "India", "$100", 2)
	bad.Published = "not a timestamp"
	h.fetcher.feeds["u"] = []model.RawEntry{entry("3", "A", "India", "$1", 1), bad, entry("1", "B", "India", "$1", 3)}

	items, err := h.worker.Process(ctx, model.Source{Name: "s", URL: "u"}, model.NewSubscriber(1))
	require.Error(t, err)
	var xe *scraper.ExtractionError
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, bad.ID, xe.EntryID)
	assert.Len(t, items, 2)

	seen, err := h.st.HasSeen(ctx, bad.ID, 1)
	require.NoError(t, err)
	assert.False(t, seen, "entries that failed extraction stay unmarked")
}

func TestProcess_FetchErrorReturnsNoItems(t *testing.T) {
	h := newHarness(t)
	h.fetcher.errs["u"] = &scraper.FetchError{URL: "u", Err: errors.New("timeout")}

	items, err := h.worker.Process(context.Background(), model.Source{Name: "s", URL: "u"}, model.NewSubscriber(1))
	assert.Nil(t, items)
	var fe *scraper.FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestProcess_EmptyFeed(t *testing.T) {
	h := newHarness(t)
	items, err := h.worker.Process(context.Background(), model.Source{Name: "s", URL: "u"}, model.NewSubscriber(1))
	assert.NoError(t, err)
	assert.Empty(t, items)
}

// flakyNovelty starts failing lookups after failAfter successful ones.
type flakyNovelty struct {
	scraper.Novelty
	failAfter int
	calls     int
}

func (n *flakyNovelty) HasBeenSeen(ctx context.Context, entryID string, subscriberID int64) (bool, error) {
	n.calls++
	if n.calls > n.failAfter {
		return false, fmt.Errorf("has seen: %w", store.ErrUnavailable)
	}
	return n.Novelty.HasBeenSeen(ctx, entryID, subscriberID)
}

func TestProcess_StoreFailureReturnsMarkedItems(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	f := &fakeFetcher{feeds: map[string][]model.RawEntry{
		"u": {entry("2", "Second", "India", "$1", 1), entry("1", "First", "India", "$1", 2)},
	}}
	seen := &flakyNovelty{Novelty: dedup.New(st, nil, nil), failAfter: 1}
	w := scraper.NewWorker(st, f, seen, &recordingSink{}, scraper.WithClock(func() time.Time { return testNow }))

	items, err := w.Process(ctx, model.Source{Name: "s", URL: "u"}, model.NewSubscriber(1))
	assert.ErrorIs(t, err, store.ErrUnavailable)
	require.Len(t, items, 1)
	assert.Equal(t, "Second", items[0].Title)

	marked, err := st.HasSeen(ctx, items[0].ID, 1)
	require.NoError(t, err)
	assert.True(t, marked)
}

// ── Run ────────────────────────────────────────────────────────────────────

func TestRun_TwoTicksDeliverOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSource(t, 1, "golang", "u")
	h.fetcher.feeds["u"] = []model.RawEntry{entry("1", "Go API", "India", "$500", 5)}

	require.NoError(t, h.worker.Run(ctx, 1))
	require.NoError(t, h.worker.Run(ctx, 1))

	texts := h.sink.texts()
	require.Len(t, texts, 1)
	assert.True(t, strings.HasPrefix(texts[0], "[golang]\n\n<b>Go API</b>"), texts[0])
	assert.Contains(t, texts[0], "Budget: $500")
	assert.Contains(t, texts[0], "Type: Fixed-price")
	assert.Len(t, h.records.items, 1)
}

func TestRun_SourcesInConfiguredOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSource(t, 1, "first", "a")
	h.addSource(t, 1, "second", "b")
	h.fetcher.feeds["a"] = []model.RawEntry{entry("a2", "A2", "India", "$1", 1), entry("a1", "A1", "India", "$1", 2)}
	h.fetcher.feeds["b"] = []model.RawEntry{entry("b1", "B1", "India", "$1", 3)}

	require.NoError(t, h.worker.Run(ctx, 1))

	texts := h.sink.texts()
	require.Len(t, texts, 3)
	assert.Contains(t, texts[0], "<b>A1</b>")
	assert.Contains(t, texts[1], "<b>A2</b>")
	assert.Contains(t, texts[2], "<b>B1</b>")
}

func TestRun_FetchFailureDoesNotStopOtherSources(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSource(t, 1, "broken", "bad")
	h.addSource(t, 1, "ok", "good")
	h.fetcher.errs["bad"] = &scraper.FetchError{URL: "bad", Status: 503, Err: errors.New("503")}
	h.fetcher.feeds["good"] = []model.RawEntry{entry("1", "Fine", "India", "$1", 1)}

	err := h.worker.Run(ctx, 1)
	var fe *scraper.FetchError
	assert.ErrorAs(t, err, &fe)
	assert.Len(t, h.sink.texts(), 1)
	assert.Empty(t, h.alerter.alerts)
}

func TestRun_StoreOutageAlertsOperators(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSource(t, 1, "s", "u")
	h.st.SetFailure(errors.New("db down"))

	err := h.worker.Run(ctx, 1)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	require.Len(t, h.alerter.alerts, 1)
	assert.Equal(t, notify.EventTickFailed, h.alerter.alerts[0].Type)
	assert.Equal(t, int64(1), h.alerter.alerts[0].SubscriberID)
	assert.NotEmpty(t, h.alerter.alerts[0].RunID)
	assert.Zero(t, h.fetcher.calls)
}

func TestRun_UnknownSubscriberIsNoop(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.worker.Run(context.Background(), 99))
	assert.Empty(t, h.sink.texts())
}

func TestRun_ShowSummarySetting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSource(t, 1, "s", "u")
	require.NoError(t, h.st.SetSetting(ctx, 1, model.SettingShowSummary, "yes"))
	h.fetcher.feeds["u"] = []model.RawEntry{entry("1", "Job", "India", "$1", 1)}

	require.NoError(t, h.worker.Run(ctx, 1))
	texts := h.sink.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Lead text for Job.")
}

// Concurrent ticks for one subscriber are serialised, so every entry is
// delivered exactly once.
func TestRun_ConcurrentTicksDeliverOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSource(t, 1, "s", "u")
	var feed []model.RawEntry
	for i := 0; i < 20; i++ {
		feed = append(feed, entry(fmt.Sprint(i), fmt.Sprintf("Job %d", i), "India", "$1", i+1))
	}
	h.fetcher.feeds["u"] = feed

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.worker.Run(ctx, 1)
		}()
	}
	wg.Wait()

	assert.Len(t, h.sink.texts(), 20)
}
