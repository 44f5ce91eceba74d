package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"jobmate/notifier-service/internal/extract"
	"jobmate/notifier-service/internal/filter"
	"jobmate/notifier-service/internal/model"
	"jobmate/notifier-service/internal/notify"
	"jobmate/notifier-service/internal/store"
)

// fetchConcurrency bounds the parallel source downloads of one tick.
const fetchConcurrency = 4

// Fetcher downloads the raw entries of one source.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]model.RawEntry, error)
}

// Novelty is the seen-entry record consulted before delivery.
type Novelty interface {
	HasBeenSeen(ctx context.Context, entryID string, subscriberID int64) (bool, error)
	MarkSeen(ctx context.Context, entryID string, subscriberID int64) error
}

// Subscribers loads subscriber documents.
type Subscribers interface {
	GetSubscriber(ctx context.Context, id int64) (*model.Subscriber, error)
}

// Worker runs ticks: for one subscriber it fetches every source, keeps the
// entries that are new and pass the filters, and hands them to the sink.
type Worker struct {
	subs    Subscribers
	fetcher Fetcher
	seen    Novelty
	sink    notify.Sink
	records notify.RecordSink // optional
	alerter notify.Alerter    // optional
	logger  *slog.Logger
	now     func() time.Time

	locks sync.Map // subscriber id → *sync.Mutex
}

// Option configures optional Worker collaborators.
type Option func(*Worker)

// WithRecordSink stores a copy of every delivered item in rs.
func WithRecordSink(rs notify.RecordSink) Option { return func(w *Worker) { w.records = rs } }

// WithAlerter sends tick-fatal failures to a.
func WithAlerter(a notify.Alerter) Option { return func(w *Worker) { w.alerter = a } }

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.logger = l } }

// WithClock replaces time.Now, used for relative publish times.
func WithClock(now func() time.Time) Option { return func(w *Worker) { w.now = now } }

// NewWorker constructs a Worker.
func NewWorker(subs Subscribers, fetcher Fetcher, seen Novelty, sink notify.Sink, opts ...Option) *Worker {
	w := &Worker{
		subs:    subs,
		fetcher: fetcher,
		seen:    seen,
		sink:    sink,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	w.logger = w.logger.With("component", "worker")
	return w
}

// ─── Processing ───────────────────────────────────────────────────────────────

// Process fetches source and returns the new items that pass sub's filters,
// oldest first. Every returned item has been marked seen for sub.
//
// A fetch failure returns the *FetchError and no items. An entry that fails
// extraction is skipped, left unmarked and reported as an *ExtractionError
// joined into the returned error. A store failure stops the batch; the items
// already marked seen are returned together with the error so they are not
// lost.
func (w *Worker) Process(ctx context.Context, source model.Source, sub *model.Subscriber) ([]model.Item, error) {
	entries, err := w.fetcher.Fetch(ctx, source.URL)
	if err != nil {
		return nil, err
	}
	return w.process(ctx, source, sub, entries)
}

func (w *Worker) process(ctx context.Context, source model.Source, sub *model.Subscriber, entries []model.RawEntry) ([]model.Item, error) {
	loc := sub.Settings.Location()
	now := w.now()

	var (
		items []model.Item
		errs  []error
	)
	for _, raw := range entries {
		if raw.ID == "" {
			continue
		}
		seen, err := w.seen.HasBeenSeen(ctx, raw.ID, sub.ID)
		if err != nil {
			errs = append(errs, err)
			break
		}
		if seen {
			continue
		}

		item, err := extract.Entry(raw, loc, now)
		if err != nil {
			errs = append(errs, &ExtractionError{EntryID: raw.ID, Err: err})
			continue
		}
		item.Source = source.Name

		// Marked before filtering: a rejected entry is never re-evaluated.
		if err := w.seen.MarkSeen(ctx, raw.ID, sub.ID); err != nil {
			errs = append(errs, err)
			break
		}
		if filter.Passes(item, sub.Filters) {
			items = append(items, item)
		}
	}

	slices.Reverse(items)
	return items, errors.Join(errs...)
}

// ─── Tick ─────────────────────────────────────────────────────────────────────

// Run executes one tick for subscriberID. Ticks for the same subscriber never
// overlap, whether scheduled or triggered manually.
//
// Fetch and extraction failures are logged and joined into the returned
// error; they never stop the other sources. A store failure aborts the tick
// and raises an operator alert.
func (w *Worker) Run(ctx context.Context, subscriberID int64) error {
	mu := w.lock(subscriberID)
	mu.Lock()
	defer mu.Unlock()

	runID := uuid.NewString()
	log := w.logger.With("subscriber_id", subscriberID, "run_id", runID)
	start := time.Now()

	sub, err := w.subs.GetSubscriber(ctx, subscriberID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("tick skipped, unknown subscriber")
		return nil
	}
	if err != nil {
		w.alert(ctx, subscriberID, runID, err)
		return fmt.Errorf("load subscriber %d: %w", subscriberID, err)
	}
	if len(sub.Sources) == 0 {
		log.Debug("tick skipped, no sources")
		return nil
	}

	fetched := w.fetchAll(ctx, sub.Sources)

	var (
		errs      []error
		delivered int
	)
	for i, src := range sub.Sources {
		if fetched[i].err != nil {
			log.Warn("fetch failed", "source", src.Name, "err", fetched[i].err)
			errs = append(errs, fetched[i].err)
			continue
		}

		items, err := w.process(ctx, src, sub, fetched[i].entries)
		for _, it := range items {
			w.deliver(ctx, sub, src, it)
			delivered++
		}
		if err == nil {
			continue
		}

		var storeFailure bool
		for _, e := range unwrapJoined(err) {
			var xe *ExtractionError
			if errors.As(e, &xe) {
				log.Warn("entry skipped", "source", src.Name, "entry_id", xe.EntryID, "err", xe.Err)
			} else {
				storeFailure = true
			}
			errs = append(errs, e)
		}
		if storeFailure {
			log.Error("tick aborted", "source", src.Name, "err", err)
			w.alert(ctx, subscriberID, runID, err)
			return errors.Join(errs...)
		}
	}

	log.Info("tick complete",
		"sources", len(sub.Sources), "delivered", delivered, "errors", len(errs),
		"duration", time.Since(start).Round(time.Millisecond))
	return errors.Join(errs...)
}

type fetchResult struct {
	entries []model.RawEntry
	err     error
}

// fetchAll downloads every source concurrently; results keep source order.
func (w *Worker) fetchAll(ctx context.Context, sources []model.Source) []fetchResult {
	results := make([]fetchResult, len(sources))
	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			entries, err := w.fetcher.Fetch(ctx, src.URL)
			results[i] = fetchResult{entries: entries, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (w *Worker) deliver(ctx context.Context, sub *model.Subscriber, src model.Source, item model.Item) {
	w.sink.Deliver(ctx, sub.ID, notify.Message(src.Name, item, sub.Settings))
	if w.records == nil {
		return
	}
	if err := w.records.Upsert(ctx, item); err != nil {
		w.logger.Warn("record upsert failed", "subscriber_id", sub.ID, "entry_id", item.ID, "err", err)
	}
}

func (w *Worker) alert(ctx context.Context, subscriberID int64, runID string, err error) {
	if w.alerter == nil {
		return
	}
	w.alerter.Alert(ctx, notify.Alert{
		Type:         notify.EventTickFailed,
		SubscriberID: subscriberID,
		RunID:        runID,
		Error:        err.Error(),
		At:           time.Now().UTC(),
	})
}

func (w *Worker) lock(id int64) *sync.Mutex {
	mu, _ := w.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func unwrapJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
