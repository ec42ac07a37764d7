// Package sqlite persists the tag cache in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/tagcache/internal/profile"
	"github.com/hrygo/tagcache/store"
)

const schema = `CREATE TABLE IF NOT EXISTS tag_record (
	content_id TEXT NOT NULL PRIMARY KEY,
	simhash INTEGER,
	tags TEXT NOT NULL DEFAULT '[]',
	file_description TEXT,
	ts TEXT NOT NULL
)`

var recordFields = []string{"content_id", "simhash", "tags", "file_description", "ts"}

type DB struct {
	db *sql.DB
}

var _ store.Driver = (*DB)(nil)

// NewDB opens the database at profile.DSN and creates the schema if needed.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}
	return Open(profile.DSN)
}

// Open opens the database file at dsn.
func Open(dsn string) (*DB, error) {
	// Connection parameters follow modernc's _pragma syntax.
	sqlDB, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}
	// A single connection keeps writes serialized.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(schema); err != nil {
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
			tags        string
			description sql.NullString
			ts          string
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

func toRecord(contentID string, simhash sql.NullInt64, tags string, description sql.NullString, ts string) (*store.TagRecord, error) {
	if err := store.ValidateContentID(contentID); err != nil {
		return nil, err
	}
	rec := &store.TagRecord{ContentID: contentID, Tags: []string{}}
	if simhash.Valid {
		v := uint64(simhash.Int64)
		rec.SimHash = &v
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
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
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse ts")
	}
	rec.Timestamp = parsed.UTC()
	return rec, nil
}

// Save replaces every row inside one transaction.
func (d *DB) Save(ctx context.Context, records []*store.TagRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tag_record`); err != nil {
		return errors.Wrap(err, "failed to clear tag records")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tag_record (`+strings.Join(recordFields, ", ")+`) VALUES (`+placeholders(len(recordFields))+`)`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare insert")
	}
	defer stmt.Close()

	for _, r := range records {
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
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
		if _, err := stmt.ExecContext(ctx, r.ContentID, simhash, string(tagsJSON), description, r.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return errors.Wrapf(err, "failed to insert tag record %s", r.ContentID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit tag records")
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
