package store

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/tagcache/plugin/fingerprint"
)

// documentRecord is the persisted shape of a TagRecord.
type documentRecord struct {
	ContentID       string    `json:"content_id"`
	SimHash         *uint64   `json:"simhash,omitempty"`
	SimHash64       *uint64   `json:"simhash64,omitempty"`
	Tags            []string  `json:"tags"`
	FileDescription *string   `json:"file_description,omitempty"`
	Timestamp       Timestamp `json:"ts"`
}

// Timestamp reads RFC 3339 and zone-less ISO 8601 times and writes RFC 3339 in UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "timestamp must be a string")
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return errors.Errorf("unrecognized timestamp %q", s)
}

// EncodeDocument serializes records as a JSON object keyed by content id.
func EncodeDocument(records []*TagRecord) ([]byte, error) {
	doc := make(map[string]documentRecord, len(records))
	for _, r := range records {
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		doc[r.ContentID] = documentRecord{
			ContentID:       r.ContentID,
			SimHash:         r.SimHash,
			Tags:            tags,
			FileDescription: r.FileDescription,
			Timestamp:       Timestamp{r.Timestamp},
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode cache document")
	}
	return data, nil
}

// DecodeDocument parses a cache document. Unknown fields are ignored, absent tags
// become empty, and entries with an invalid or mismatched content id are skipped.
func DecodeDocument(data []byte) ([]*TagRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []*TagRecord{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "cache document is not a JSON object")
	}

	records := make([]*TagRecord, 0, len(raw))
	for key, value := range raw {
		var dr documentRecord
		if err := json.Unmarshal(value, &dr); err != nil {
			slog.Warn("skipping malformed cache entry", "key", key, "error", err)
			continue
		}
		rec, err := dr.toRecord(key)
		if err != nil {
			slog.Warn("skipping invalid cache entry", "key", key, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (dr documentRecord) toRecord(key string) (*TagRecord, error) {
	id := dr.ContentID
	if id == "" {
		id = key
	}
	if id != key {
		return nil, errors.Errorf("content_id %q does not match key", id)
	}
	if err := ValidateContentID(id); err != nil {
		return nil, err
	}

	rec := &TagRecord{
		ContentID:       id,
		SimHash:         dr.SimHash,
		Tags:            dr.Tags,
		FileDescription: dr.FileDescription,
		Timestamp:       dr.Timestamp.Time,
	}
	if rec.SimHash == nil {
		rec.SimHash = dr.SimHash64
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return rec, nil
}

// ValidateContentID rejects ids that ContentID could not have produced.
func ValidateContentID(id string) error {
	if !fingerprint.IsContentID(id) {
		return errors.Errorf("invalid content id %q", id)
	}
	return nil
}
