package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/notifier-service/internal/model"
)

// maxCASAttempts bounds the compare-and-swap loop of RemoveSource.
const maxCASAttempts = 5

const schema = `
CREATE TABLE IF NOT EXISTS subscribers (
	id         BIGINT      PRIMARY KEY,
	sources    JSONB       NOT NULL DEFAULT '[]'::jsonb,
	settings   JSONB       NOT NULL DEFAULT '{}'::jsonb,
	filters    JSONB       NOT NULL DEFAULT '{}'::jsonb,
	paused     BOOLEAN     NOT NULL DEFAULT false,
	version    BIGINT      NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS seen_entries (
	subscriber_id BIGINT      NOT NULL,
	entry_id      TEXT        NOT NULL,
	seen_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (subscriber_id, entry_id)
);`

// Postgres stores subscriber documents as JSONB columns of one row per
// subscriber. Field edits are single-statement upserts that merge into the
// stored JSON, so two edits never overwrite each other.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

func (p *Postgres) GetSubscriber(ctx context.Context, id int64) (*model.Subscriber, error) {
	var s model.Subscriber
	err := p.pool.QueryRow(ctx,
		`SELECT id, sources, settings, filters, paused, version
		 FROM subscribers WHERE id = $1`, id,
	).Scan(&s.ID, &s.Sources, &s.Settings, &s.Filters, &s.Paused, &s.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get subscriber", err)
	}
	if s.Sources == nil {
		s.Sources = []model.Source{}
	}
	if s.Settings == nil {
		s.Settings = model.Settings{}
	}
	return &s, nil
}

func (p *Postgres) EnsureSubscriber(ctx context.Context, id int64) (*model.Subscriber, error) {
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO subscribers (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id,
	); err != nil {
		return nil, unavailable("ensure subscriber", err)
	}
	return p.GetSubscriber(ctx, id)
}

func (p *Postgres) AddSource(ctx context.Context, id int64, src model.Source) error {
	raw, err := json.Marshal([]model.Source{src})
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO subscribers (id, sources) VALUES ($1, $2::jsonb)
		 ON CONFLICT (id) DO UPDATE
		 SET sources    = subscribers.sources || EXCLUDED.sources,
		     version    = subscribers.version + 1,
		     updated_at = now()`,
		id, string(raw),
	)
	if err != nil {
		return unavailable("add source", err)
	}
	return nil
}

// RemoveSource reads the list, drops the first match and writes it back only
// if nobody else bumped the version in between.
func (p *Postgres) RemoveSource(ctx context.Context, id int64, name string) (bool, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		s, err := p.GetSubscriber(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !s.RemoveSource(name) {
			return false, nil
		}

		raw, err := json.Marshal(s.Sources)
		if err != nil {
			return false, fmt.Errorf("marshal sources: %w", err)
		}
		tag, err := p.pool.Exec(ctx,
			`UPDATE subscribers
			 SET sources = $2::jsonb, version = version + 1, updated_at = now()
			 WHERE id = $1 AND version = $3`,
			id, string(raw), s.Version,
		)
		if err != nil {
			return false, unavailable("remove source", err)
		}
		if tag.RowsAffected() == 1 {
			return true, nil
		}
	}
	return false, fmt.Errorf("remove source %q for %d: %w", name, id, ErrConflict)
}

func (p *Postgres) SetSetting(ctx context.Context, id int64, key, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO subscribers (id, settings) VALUES ($1, jsonb_build_object($2::text, $3::text))
		 ON CONFLICT (id) DO UPDATE
		 SET settings   = subscribers.settings || EXCLUDED.settings,
		     version    = subscribers.version + 1,
		     updated_at = now()`,
		id, key, value,
	)
	if err != nil {
		return unavailable("set setting", err)
	}
	return nil
}

func (p *Postgres) SetFilter(ctx context.Context, id int64, v model.FilterValue) error {
	raw, err := json.Marshal(v.Raw())
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO subscribers (id, filters) VALUES ($1, jsonb_build_object($2::text, $3::jsonb))
		 ON CONFLICT (id) DO UPDATE
		 SET filters    = subscribers.filters || EXCLUDED.filters,
		     version    = subscribers.version + 1,
		     updated_at = now()`,
		id, string(v.Key), string(raw),
	)
	if err != nil {
		return unavailable("set filter", err)
	}
	return nil
}

func (p *Postgres) ClearFilter(ctx context.Context, id int64, key model.FilterKey) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO subscribers (id) VALUES ($1)
		 ON CONFLICT (id) DO UPDATE
		 SET filters    = subscribers.filters - $2::text,
		     version    = subscribers.version + 1,
		     updated_at = now()`,
		id, string(key),
	)
	if err != nil {
		return unavailable("clear filter", err)
	}
	return nil
}

func (p *Postgres) SetPaused(ctx context.Context, id int64, paused bool) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO subscribers (id, paused) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE
		 SET paused     = EXCLUDED.paused,
		     version    = subscribers.version + 1,
		     updated_at = now()`,
		id, paused,
	)
	if err != nil {
		return unavailable("set paused", err)
	}
	return nil
}

func (p *Postgres) ListSubscriberIDs(ctx context.Context) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, unavailable("list subscribers", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, unavailable("list subscribers", err)
	}
	return ids, nil
}

func (p *Postgres) HasSeen(ctx context.Context, entryID string, subscriberID int64) (bool, error) {
	var seen bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM seen_entries WHERE subscriber_id = $1 AND entry_id = $2)`,
		subscriberID, entryID,
	).Scan(&seen)
	if err != nil {
		return false, unavailable("has seen", err)
	}
	return seen, nil
}

func (p *Postgres) MarkSeen(ctx context.Context, entryID string, subscriberID int64) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO seen_entries (subscriber_id, entry_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		subscriberID, entryID,
	)
	if err != nil {
		return unavailable("mark seen", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
