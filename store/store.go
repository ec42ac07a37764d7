// Package store holds the content-addressed tag cache.
package store

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	terrors "github.com/hrygo/tagcache/internal/errors"
	"github.com/hrygo/tagcache/internal/profile"
)

// DefaultApproxThreshold is the maximum Hamming distance accepted as a near-duplicate.
const DefaultApproxThreshold = 8

// Config controls lookup behavior.
type Config struct {
	// ApproxThreshold is the maximum accepted Hamming distance for approximate reuse.
	ApproxThreshold int
	// MaxRecords bounds the number of stored records. Zero means unbounded.
	// Once reached, unseen content gets transient records that are never stored.
	MaxRecords int
	// NewIndex builds the approximate index. Defaults to NewLinearIndex.
	NewIndex func() ApproxIndex
	// Now returns the modification time stamped on records. The default is UTC at
	// microsecond precision, the finest every driver round-trips.
	Now func() time.Time
}

// ConfigFromProfile derives the store configuration from a profile.
func ConfigFromProfile(p *profile.Profile) Config {
	return Config{
		ApproxThreshold: p.ApproxThreshold,
		MaxRecords:      p.MaxRecords,
	}
}

// Store is the authoritative in-memory record map with a persistence driver.
// Reads may run concurrently; mutations and flushes are serialized.
type Store struct {
	driver Driver
	config Config

	mu      sync.RWMutex
	records map[string]*TagRecord
	index   ApproxIndex
	indexed map[string]struct{}

	flushMu sync.Mutex
}

// New creates an empty store. Call Load to read persisted records.
func New(driver Driver, config Config) *Store {
	if config.NewIndex == nil {
		config.NewIndex = func() ApproxIndex { return NewLinearIndex() }
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return &Store{
		driver:  driver,
		config:  config,
		records: make(map[string]*TagRecord),
		index:   config.NewIndex(),
		indexed: make(map[string]struct{}),
	}
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Load replaces the in-memory map with the persisted records.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.driver.Load(ctx)
	if err != nil {
		if terrors.IsCode(err, terrors.ErrCodePersistenceFailed) {
			return err
		}
		return terrors.NewPersistenceError("failed to load records", err)
	}

	// Index in modification order so ties favor older records.
	slices.SortFunc(records, func(a, b *TagRecord) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ContentID, b.ContentID)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*TagRecord, len(records))
	s.index = s.config.NewIndex()
	s.indexed = make(map[string]struct{})
	for _, r := range records {
		rec := r.Clone()
		s.records[rec.ContentID] = rec
		s.indexLocked(rec)
	}
	slog.Debug("tag cache loaded", "records", len(s.records), "indexed", s.index.Len())
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// GetOrInit returns the record for contentID, creating it when missing.
// With approx enabled, a new record copies tags and description from the nearest
// stored near-duplicate within the threshold. The returned record is a copy.
func (s *Store) GetOrInit(contentID string, simhash uint64, approx bool) (*TagRecord, MatchKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[contentID]; ok {
		if rec.SimHash == nil {
			v := simhash
			rec.SimHash = &v
			s.indexLocked(rec)
		}
		return rec.Clone(), MatchExact
	}

	v := simhash
	rec := &TagRecord{
		ContentID: contentID,
		SimHash:   &v,
		Tags:      []string{},
		Timestamp: s.config.Now(),
	}
	kind := MatchNone
	if approx {
		if id, dist, ok := s.index.Nearest(simhash, s.config.ApproxThreshold); ok {
			src := s.records[id].Clone()
			rec.Tags = src.Tags
			rec.FileDescription = src.FileDescription
			kind = MatchApprox
			slog.Debug("approximate cache hit", "content_id", contentID, "source_id", id, "distance", dist)
		}
	}

	if s.config.MaxRecords > 0 && len(s.records) >= s.config.MaxRecords {
		slog.Warn("tag cache is full, record not stored", "content_id", contentID, "max_records", s.config.MaxRecords)
		return rec, kind
	}
	s.records[contentID] = rec
	s.indexLocked(rec)
	return rec.Clone(), kind
}

// GetByID returns a copy of the stored record.
func (s *Store) GetByID(contentID string) (*TagRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[contentID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// UpdateTags sets tags on rec and on the stored record with the same id.
// It reports whether a stored record changed.
func (s *Store) UpdateTags(rec *TagRecord, tags []string) bool {
	return s.update(rec, func(r *TagRecord) {
		r.Tags = slices.Clone(tags)
		if r.Tags == nil {
			r.Tags = []string{}
		}
	})
}

// UpdateDescription sets the file description on rec and on the stored record.
// It reports whether a stored record changed.
func (s *Store) UpdateDescription(rec *TagRecord, description string) bool {
	return s.update(rec, func(r *TagRecord) {
		d := description
		r.FileDescription = &d
	})
}

func (s *Store) update(rec *TagRecord, mutate func(r *TagRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.config.Now()
	mutate(rec)
	rec.Timestamp = now

	stored, ok := s.records[rec.ContentID]
	if !ok {
		return false
	}
	mutate(stored)
	stored.Timestamp = now
	s.indexLocked(stored)
	return true
}

// indexLocked adds rec to the approximate index once it has something to share.
func (s *Store) indexLocked(rec *TagRecord) {
	if rec.SimHash == nil || (len(rec.Tags) == 0 && rec.FileDescription == nil) {
		return
	}
	if _, ok := s.indexed[rec.ContentID]; ok {
		return
	}
	s.index.Add(rec.ContentID, *rec.SimHash)
	s.indexed[rec.ContentID] = struct{}{}
}

// snapshot returns copies of all records ordered by content id.
func (s *Store) snapshot() []*TagRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TagRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b *TagRecord) int { return cmp.Compare(a.ContentID, b.ContentID) })
	return out
}

// Flush writes every record through the driver. The in-memory map is never modified.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	records := s.snapshot()
	if err := s.driver.Save(ctx, records); err != nil {
		return terrors.NewPersistenceError("failed to flush tag cache", err).
			WithContext("records", len(records))
	}
	slog.Debug("tag cache flushed", "records", len(records))
	return nil
}
