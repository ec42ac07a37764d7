// Package jsonfile persists the tag cache as a single JSON document.
package jsonfile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/tagcache/internal/profile"
	"github.com/hrygo/tagcache/store"
)

// DB stores records in one file that is replaced atomically on every save.
type DB struct {
	path string
}

var _ store.Driver = (*DB)(nil)

// NewDB creates a driver for profile.DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	return New(profile.DSN)
}

// New creates a driver for the given file path.
func New(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("cache file path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve cache path %s", path)
	}
	return &DB{path: abs}, nil
}

// Path returns the cache document path.
func (d *DB) Path() string {
	return d.path
}

func (d *DB) Load(_ context.Context) ([]*store.TagRecord, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*store.TagRecord{}, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", d.path)
	}
	records, err := store.DecodeDocument(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", d.path)
	}
	return records, nil
}

// Save writes the document to a temporary file in the same directory, syncs it,
// and renames it over the target.
func (d *DB) Save(ctx context.Context, records []*store.TagRecord) error {
	data, err := store.EncodeDocument(records)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(d.path)+"."+shortuuid.New()+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync temp file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", d.path)
	}
	committed = true

	syncDir(dir)
	return nil
}

// syncDir makes the rename durable where the platform allows it.
func syncDir(dir string) {
	df, err := os.Open(dir)
	if err != nil {
		return
	}
	defer df.Close()
	if err := df.Sync(); err != nil {
		slog.Debug("directory sync not supported", "dir", dir, "error", err)
	}
}

func (*DB) Close() error {
	return nil
}
