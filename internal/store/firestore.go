package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"jobmate/notifier-service/internal/model"
)

const (
	subscribersCollection = "subscribers"
	seenCollection        = "seen"
)

// Firestore keeps one document per subscriber under subscribers/{id} and the
// seen records in the subscribers/{id}/seen subcollection.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore wraps an open client.
func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

type fsSource struct {
	Name string `firestore:"name"`
	URL  string `firestore:"url"`
}

type fsFilters struct {
	ExcludeCountries []string `firestore:"exclude_countries,omitempty"`
	MinimumBudget    *float64 `firestore:"minimum_budget,omitempty"`
	Keywords         []string `firestore:"keywords,omitempty"`
}

type fsSubscriber struct {
	ID       int64             `firestore:"id"`
	Sources  []fsSource        `firestore:"sources"`
	Settings map[string]string `firestore:"settings"`
	Filters  fsFilters         `firestore:"filters"`
	Paused   bool              `firestore:"paused"`
	Version  int64             `firestore:"version"`
}

func (d fsSubscriber) toModel() *model.Subscriber {
	s := model.NewSubscriber(d.ID)
	for _, src := range d.Sources {
		s.Sources = append(s.Sources, model.Source{Name: src.Name, URL: src.URL})
	}
	for k, v := range d.Settings {
		s.Settings[k] = v
	}
	s.Filters = model.Filters{
		ExcludeCountries: d.Filters.ExcludeCountries,
		MinimumBudget:    d.Filters.MinimumBudget,
		Keywords:         d.Filters.Keywords,
	}
	s.Paused = d.Paused
	s.Version = d.Version
	return s
}

func fsSources(in []model.Source) []fsSource {
	out := make([]fsSource, len(in))
	for i, s := range in {
		out[i] = fsSource{Name: s.Name, URL: s.URL}
	}
	return out
}

func (f *Firestore) doc(id int64) *firestore.DocumentRef {
	return f.client.Collection(subscribersCollection).Doc(strconv.FormatInt(id, 10))
}

func (f *Firestore) seenDoc(entryID string, subscriberID int64) *firestore.DocumentRef {
	sum := sha256.Sum256([]byte(entryID))
	return f.doc(subscriberID).Collection(seenCollection).Doc(hex.EncodeToString(sum[:]))
}

func (f *Firestore) GetSubscriber(ctx context.Context, id int64) (*model.Subscriber, error) {
	snap, err := f.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get subscriber", err)
	}
	var d fsSubscriber
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode subscriber %d: %w", id, err)
	}
	d.ID = id
	return d.toModel(), nil
}

func (f *Firestore) EnsureSubscriber(ctx context.Context, id int64) (*model.Subscriber, error) {
	_, err := f.doc(id).Create(ctx, fsSubscriber{ID: id, Sources: []fsSource{}, Settings: map[string]string{}})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return nil, unavailable("ensure subscriber", err)
	}
	return f.GetSubscriber(ctx, id)
}

// editSources runs fn on the stored source list inside a transaction and
// writes back only the sources and version fields.
func (f *Firestore) editSources(ctx context.Context, op string, id int64, fn func(s *model.Subscriber) bool) (bool, error) {
	ref := f.doc(id)
	var changed bool
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		s := model.NewSubscriber(id)
		snap, err := tx.Get(ref)
		exists := true
		if status.Code(err) == codes.NotFound {
			exists = false
		} else if err != nil {
			return err
		} else {
			var d fsSubscriber
			if err := snap.DataTo(&d); err != nil {
				return err
			}
			d.ID = id
			s = d.toModel()
		}

		if !fn(s) {
			return nil
		}
		changed = true
		if !exists {
			return tx.Create(ref, fsSubscriber{
				ID:       id,
				Sources:  fsSources(s.Sources),
				Settings: map[string]string{},
				Version:  1,
			})
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "sources", Value: fsSources(s.Sources)},
			{Path: "version", Value: firestore.Increment(1)},
		})
	})
	if err != nil {
		return false, unavailable(op, err)
	}
	return changed, nil
}

func (f *Firestore) AddSource(ctx context.Context, id int64, src model.Source) error {
	_, err := f.editSources(ctx, "add source", id, func(s *model.Subscriber) bool {
		s.Sources = append(s.Sources, src)
		return true
	})
	return err
}

func (f *Firestore) RemoveSource(ctx context.Context, id int64, name string) (bool, error) {
	return f.editSources(ctx, "remove source", id, func(s *model.Subscriber) bool {
		return s.RemoveSource(name)
	})
}

// merge writes fields into the subscriber document without touching any
// other field.
func (f *Firestore) merge(ctx context.Context, op string, id int64, fields map[string]any) error {
	fields["id"] = id
	fields["version"] = firestore.Increment(1)
	if _, err := f.doc(id).Set(ctx, fields, firestore.MergeAll); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (f *Firestore) SetSetting(ctx context.Context, id int64, key, value string) error {
	return f.merge(ctx, "set setting", id, map[string]any{
		"settings": map[string]any{key: value},
	})
}

func (f *Firestore) SetFilter(ctx context.Context, id int64, v model.FilterValue) error {
	return f.merge(ctx, "set filter", id, map[string]any{
		"filters": map[string]any{string(v.Key): v.Raw()},
	})
}

func (f *Firestore) ClearFilter(ctx context.Context, id int64, key model.FilterKey) error {
	_, err := f.doc(id).Update(ctx, []firestore.Update{
		{Path: "filters." + string(key), Value: firestore.Delete},
		{Path: "version", Value: firestore.Increment(1)},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	if err != nil {
		return unavailable("clear filter", err)
	}
	return nil
}

func (f *Firestore) SetPaused(ctx context.Context, id int64, paused bool) error {
	return f.merge(ctx, "set paused", id, map[string]any{"paused": paused})
}

func (f *Firestore) ListSubscriberIDs(ctx context.Context) ([]int64, error) {
	iter := f.client.Collection(subscribersCollection).Select().Documents(ctx)
	defer iter.Stop()

	var ids []int64
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, unavailable("list subscribers", err)
		}
		id, err := strconv.ParseInt(snap.Ref.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *Firestore) HasSeen(ctx context.Context, entryID string, subscriberID int64) (bool, error) {
	_, err := f.seenDoc(entryID, subscriberID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, unavailable("has seen", err)
	}
	return true, nil
}

func (f *Firestore) MarkSeen(ctx context.Context, entryID string, subscriberID int64) error {
	_, err := f.seenDoc(entryID, subscriberID).Create(ctx, map[string]any{
		"entry_id": entryID,
		"seen_at":  firestore.ServerTimestamp,
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return unavailable("mark seen", err)
	}
	return nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}
