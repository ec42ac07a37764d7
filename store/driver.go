package store

import "context"

// Driver persists the whole record set.
type Driver interface {
	// Load returns every persisted record. A missing backing file or table yields no records.
	Load(ctx context.Context) ([]*TagRecord, error)
	// Save replaces the persisted set atomically: readers see either the old or the new set.
	Save(ctx context.Context, records []*TagRecord) error
	Close() error
}
