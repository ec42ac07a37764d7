package store

import "github.com/hrygo/tagcache/plugin/fingerprint"

// ApproxIndex finds the stored fingerprint nearest to a query.
// Implementations are not required to be safe for concurrent use; Store serializes access.
type ApproxIndex interface {
	// Add registers a content id with its fingerprint. Each id is added at most once.
	Add(contentID string, simhash uint64)
	// Nearest returns the id with the smallest Hamming distance to simhash, provided that
	// distance is at most maxDistance. Ties go to the earliest added id.
	Nearest(simhash uint64, maxDistance int) (contentID string, distance int, ok bool)
	// Len returns the number of indexed ids.
	Len() int
}

type indexEntry struct {
	contentID string
	simhash   uint64
}

// LinearIndex scans every entry on each query.
type LinearIndex struct {
	entries []indexEntry
}

var _ ApproxIndex = (*LinearIndex)(nil)

// NewLinearIndex creates an empty LinearIndex.
func NewLinearIndex() *LinearIndex {
	return &LinearIndex{}
}

func (x *LinearIndex) Add(contentID string, simhash uint64) {
	x.entries = append(x.entries, indexEntry{contentID: contentID, simhash: simhash})
}

func (x *LinearIndex) Nearest(simhash uint64, maxDistance int) (string, int, bool) {
	bestID, bestDist := "", fingerprint.Bits+1
	for _, e := range x.entries {
		d := fingerprint.HammingDistance(simhash, e.simhash)
		if d < bestDist {
			bestID, bestDist = e.contentID, d
			if d == 0 {
				break
			}
		}
	}
	if bestID == "" || bestDist > maxDistance {
		return "", bestDist, false
	}
	return bestID, bestDist, true
}

func (x *LinearIndex) Len() int {
	return len(x.entries)
}
