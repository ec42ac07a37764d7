// Package stats summarizes the tag cache: how many records are resolved,
// which tags dominate, and when the cache last changed.
package stats

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hrygo/tagcache/store"
)

// DefaultTopTags is the number of tags reported by default.
const DefaultTopTags = 10

// TagCount is a tag and the number of records carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats is a point-in-time summary of the cache.
type Stats struct {
	TotalRecords    int        `json:"total_records"`
	Resolved        int        `json:"resolved"`
	Unresolved      int        `json:"unresolved"`
	WithDescription int        `json:"with_description"`
	WithSimHash     int        `json:"with_simhash"`
	DistinctTags    int        `json:"distinct_tags"`
	TopTags         []TagCount `json:"top_tags"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
	CollectedAt     time.Time  `json:"collected_at"`
}

// Compute walks every record once.
func Compute(ctx context.Context, st *store.Store, topN int) (*Stats, error) {
	records, err := st.ListRecords(ctx, nil)
	if err != nil {
		return nil, err
	}

	s := &Stats{TotalRecords: len(records), CollectedAt: time.Now().UTC()}
	counts := make(map[string]int)
	for _, r := range records {
		if r.Resolved() {
			s.Resolved++
		} else {
			s.Unresolved++
		}
		if r.FileDescription != nil {
			s.WithDescription++
		}
		if r.SimHash != nil {
			s.WithSimHash++
		}
		for _, tag := range r.Tags {
			counts[tag]++
		}
	}
	// ListRecords is newest first.
	if len(records) > 0 {
		ts := records[0].Timestamp
		s.LastActivity = &ts
	}

	s.DistinctTags = len(counts)
	s.TopTags = topTags(counts, topN)
	return s, nil
}

func topTags(counts map[string]int, n int) []TagCount {
	list := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		list = append(list, TagCount{Tag: tag, Count: count})
	}
	slices.SortFunc(list, func(a, b TagCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
	if n > 0 && len(list) > n {
		list = list[:n]
	}
	return list
}

// Collector caches the last summary for maxAge.
type Collector struct {
	store  *store.Store
	topN   int
	maxAge time.Duration

	mu     sync.Mutex
	cached *Stats
}

// NewCollector creates a collector. A non-positive maxAge recomputes on every call.
func NewCollector(st *store.Store, topN int, maxAge time.Duration) *Collector {
	if topN <= 0 {
		topN = DefaultTopTags
	}
	return &Collector{store: st, topN: topN, maxAge: maxAge}
}

// GetStats returns a copy of the current summary.
func (c *Collector) GetStats(ctx context.Context) (*Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil || c.maxAge <= 0 || time.Since(c.cached.CollectedAt) > c.maxAge {
		s, err := Compute(ctx, c.store, c.topN)
		if err != nil {
			return nil, err
		}
		c.cached = s
	}
	out := *c.cached
	out.TopTags = slices.Clone(c.cached.TopTags)
	return &out, nil
}

// Invalidate drops the cached summary.
func (c *Collector) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
