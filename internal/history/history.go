// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package history provides persistence of viewed image records.
package history

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	// For sql.DB registration.
	_ "modernc.org/sqlite"
)

// DB is a persistent store of viewed images.
type DB struct {
	mu    sync.Mutex
	store *sql.DB
	log   *slog.Logger
}

// Schema is the DB schema. The last column is an RFC3339 nano timestamp.
const Schema = `
create table if not exists history(
	path   TEXT NOT NULL PRIMARY KEY,
	last   TEXT NOT NULL,
	frames INTEGER NOT NULL,
	visits INTEGER NOT NULL
);
`

const (
	upsert = `
insert into history values(?, ?, ?, 1)
  on conflict do update set last=?, frames=?, visits=visits+1;
`

	recent = `
select path, last, frames, visits from history order by last desc limit ?;
`

	prune = `
delete from history where path in (
  select path from history order by last desc limit -1 offset ?
);
`
)

// Record is a single viewed image entry.
type Record struct {
	Path   string    `json:"path"`
	Last   time.Time `json:"last"`
	Frames int       `json:"frames"`
	Visits int       `json:"visits"`
}

// Open opens a DB, creating the table if required.
// See https://pkg.go.dev/modernc.org/sqlite#Driver.Open for name handling
// details.
func Open(name string, log *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		return nil, err
	}
	return &DB{store: db, log: log.With(slog.String("component", "history"))}, nil
}

// Add records a view of path at seen, incrementing the visit count if the
// path has been seen before.
func (db *DB) Add(ctx context.Context, path string, frames int, seen time.Time) error {
	db.log.LogAttrs(ctx, slog.LevelDebug, "add",
		slog.String("path", path),
		slog.Int("frames", frames),
		slog.Time("seen", seen),
	)
	last := seen.UTC().Format(time.RFC3339Nano)
	db.mu.Lock()
	_, err := db.store.ExecContext(ctx, upsert, path, last, frames, last, frames)
	db.mu.Unlock()
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "add", slog.String("path", path), slog.Any("error", err))
	}
	return err
}

// Recent returns up to n records in descending order of last view time.
// A negative n returns all records.
func (db *DB) Recent(ctx context.Context, n int) (recs []Record, err error) {
	db.log.LogAttrs(ctx, slog.LevelDebug, "recent", slog.Int("n", n))
	db.mu.Lock()
	defer db.mu.Unlock()
	rows, err := db.store.QueryContext(ctx, recent, n)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "recent", slog.Any("error", err))
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r    Record
			last string
		)
		err = rows.Scan(&r.Path, &last, &r.Frames, &r.Visits)
		if err != nil {
			return nil, err
		}
		r.Last, err = time.Parse(time.RFC3339Nano, last)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Prune removes all but the keep most recently viewed records, returning
// the number removed.
func (db *DB) Prune(ctx context.Context, keep int) (removed int64, err error) {
	db.log.LogAttrs(ctx, slog.LevelDebug, "prune", slog.Int("keep", keep))
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.store.ExecContext(ctx, prune, keep)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "prune", slog.Any("error", err))
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database.
func (db *DB) Close() error {
	return db.store.Close()
}
