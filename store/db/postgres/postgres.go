// Package postgres persists the tag cache in a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/tagcache/internal/profile"
	"github.com/hrygo/tagcache/store"
)

const schema = `CREATE TABLE IF NOT EXISTS tag_record (
	content_id TEXT NOT NULL PRIMARY KEY,
	simhash BIGINT,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	file_description TEXT,
	ts TIMESTAMPTZ NOT NULL
)`

var recordFields = []string{"content_id", "simhash", "tags", "file_description", "ts"}

type DB struct {
	db *sql.DB
}

var _ store.Driver = (*DB)(nil)

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}
	return Open(context.Background(), profile.DSN)
}

// Open connects to dsn, verifies the connection and creates the schema if needed.
func Open(ctx context.Context, dsn string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// The cache is written by one process at a time.
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(2 * time.Hour)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "failed to create tag_record table")
	}
	return &DB{db: sqlDB}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Load(ctx context.Context) ([]*store.TagRecord, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+strings.Join(recordFields, ", ")+` FROM tag_record`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query tag records")
	}
	defer rows.Close()

	list := make([]*store.TagRecord, 0)
	for rows.Next() {
		var (
			contentID   string
			simhash     sql.NullInt64
			tags        []byte
			description sql.NullString
			ts          time.Time
		)
		if err := rows.Scan(&contentID, &simhash, &tags, &description, &ts); err != nil {
			return nil, errors.Wrap(err, "failed to scan tag record")
		}
		rec, err := toRecord(contentID, simhash, tags, description, ts)
		if err != nil {
			slog.Warn("skipping invalid tag record", "content_id", contentID, "error", err)
			continue
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate tag records")
	}
	return list, nil
}

func toRecord(contentID string, simhash sql.NullInt64, tags []byte, description sql.NullString, ts time.Time) (*store.TagRecord, error) {
	if err := store.ValidateContentID(contentID); err != nil {
		return nil, err
	}
	rec := &store.TagRecord{ContentID: contentID, Tags: []string{}, Timestamp: ts.UTC()}
	if simhash.Valid {
		v := uint64(simhash.Int64)
		rec.SimHash = &v
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &rec.Tags); err != nil {
			return nil, errors.Wrap(err, "failed to decode tags")
		}
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
	}
	if description.Valid {
		v := description.String
		rec.FileDescription = &v
	}
	return rec, nil
}

// Save replaces the table contents in one transaction, streaming rows with COPY.
func (d *DB) Save(ctx context.Context, records []*store.TagRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tag_record`); err != nil {
		return errors.Wrap(err, "failed to clear tag records")
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("tag_record", recordFields...))
	if err != nil {
		return errors.Wrap(err, "failed to prepare copy")
	}
	for _, r := range records {
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			stmt.Close()
			return errors.Wrap(err, "failed to encode tags")
		}
		var simhash sql.NullInt64
		if r.SimHash != nil {
			simhash = sql.NullInt64{Int64: int64(*r.SimHash), Valid: true}
		}
		var description sql.NullString
		if r.FileDescription != nil {
			description = sql.NullString{String: *r.FileDescription, Valid: true}
		}
		// TIMESTAMPTZ keeps microseconds.
		ts := r.Timestamp.UTC().Truncate(time.Microsecond)
		if _, err := stmt.ExecContext(ctx, r.ContentID, simhash, string(tagsJSON), description, ts); err != nil {
			stmt.Close()
			return errors.Wrapf(err, "failed to copy tag record %s", r.ContentID)
		}
	}
	// Flush the COPY buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return errors.Wrap(err, "failed to finish copy")
	}
	if err := stmt.Close(); err != nil {
		return errors.Wrap(err, "failed to close copy statement")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit tag records")
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
