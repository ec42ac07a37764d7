package store

import (
	"slices"
	"time"
)

// TagRecord is the cached labeling result for one piece of content.
type TagRecord struct {
	// ContentID is the hex digest of the identity text. Immutable.
	ContentID string
	// SimHash is the approximate fingerprint, nil until computed.
	SimHash *uint64
	// Tags are ordered; empty means not yet labeled. The first tag is the coarse content kind.
	Tags []string
	// FileDescription is generated text for content without a textual identity, such as images.
	FileDescription *string
	// Timestamp is the last modification time.
	Timestamp time.Time
}

// Resolved reports whether the record carries tags.
func (r *TagRecord) Resolved() bool {
	return len(r.Tags) > 0
}

// Description returns the file description or "".
func (r *TagRecord) Description() string {
	if r.FileDescription == nil {
		return ""
	}
	return *r.FileDescription
}

// Clone returns a deep copy.
func (r *TagRecord) Clone() *TagRecord {
	if r == nil {
		return nil
	}
	c := &TagRecord{
		ContentID: r.ContentID,
		Tags:      slices.Clone(r.Tags),
		Timestamp: r.Timestamp,
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if r.SimHash != nil {
		v := *r.SimHash
		c.SimHash = &v
	}
	if r.FileDescription != nil {
		v := *r.FileDescription
		c.FileDescription = &v
	}
	return c
}

// MatchKind tells how GetOrInit resolved a content id.
type MatchKind int

const (
	// MatchNone means a new empty record was created.
	MatchNone MatchKind = iota
	// MatchExact means a record with the same content id already existed.
	MatchExact
	// MatchApprox means a new record was created from a near-duplicate.
	MatchApprox
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchApprox:
		return "approx"
	default:
		return "none"
	}
}
