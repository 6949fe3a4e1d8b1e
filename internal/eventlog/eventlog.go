// Package eventlog appends audit events (usage grants, saved attempts) to the
// event_log table.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Event struct {
	Offset    int64           `json:"offset"`
	SiteID    string          `json:"site_id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

type Repo struct {
	db     *sql.DB
	siteID string
	now    func() time.Time
}

func NewRepo(db *sql.DB, siteID string) *Repo {
	if siteID == "" {
		siteID = "local"
	}
	return &Repo{db: db, siteID: siteID, now: time.Now}
}

func (r *Repo) Append(ctx context.Context, e Event) error {
	if e.SiteID == "" {
		e.SiteID = r.siteID
	}
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("{}")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.SiteID, e.Type, e.Key, string(e.Data), r.now().Unix())
	return err
}

// Record marshals data and appends it as one event.
func (r *Repo) Record(ctx context.Context, typ, key string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("eventlog: marshal %s: %w", typ, err)
	}
	return r.Append(ctx, Event{Type: typ, Key: key, Data: b})
}

// Since returns events after offset in append order, at most limit of them.
func (r *Repo) Since(ctx context.Context, offset int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT "offset", site_id, typ, key, data, created_at
		   FROM event_log WHERE "offset" > $1 ORDER BY "offset" LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var data string
		if err := rows.Scan(&e.Offset, &e.SiteID, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}
