package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRoundTrip(t *testing.T) {
	sh := uint64(0xFFFFFFFFFFFFFFFF)
	desc := "一张猫的照片"
	records := []*TagRecord{
		{ContentID: id("a"), SimHash: &sh, Tags: []string{"图像", "动物"}, FileDescription: &desc, Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)},
		{ContentID: id("b"), Tags: []string{}, Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
	}

	data, err := EncodeDocument(records)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content_id": "`+id("a")+`"`)
	assert.Contains(t, string(data), `"simhash": 18446744073709551615`)

	decoded, err := DecodeDocument(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	byID := map[string]*TagRecord{}
	for _, r := range decoded {
		byID[r.ContentID] = r
	}
	for _, want := range records {
		got := byID[want.ContentID]
		require.NotNil(t, got)
		assert.Equal(t, want.SimHash, got.SimHash)
		assert.Equal(t, want.Tags, got.Tags)
		assert.Equal(t, want.FileDescription, got.FileDescription)
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
	}
}

func TestDecodeDocument_Tolerant(t *testing.T) {
	a, b := id("a"), id("b")
	doc := `{
  "` + a + `": {"content_id": "` + a + `", "simhash64": 5, "ts": "2025-01-01T12:00:00.123456", "extra": {"x": 1}},
  "` + b + `": {"tags": ["文本"], "ts": "2025-01-01T12:00:00+08:00"},
  "not-an-id": {"content_id": "not-an-id", "tags": ["x"]},
  "` + id("c") + `": {"content_id": "` + a + `", "tags": ["mismatch"]},
  "` + id("d") + `": "garbage"
}`
	records, err := DecodeDocument([]byte(doc))
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]*TagRecord{}
	for _, r := range records {
		byID[r.ContentID] = r
	}

	ra := byID[a]
	require.NotNil(t, ra)
	assert.Equal(t, []string{}, ra.Tags, "absent tags default to empty")
	require.NotNil(t, ra.SimHash)
	assert.Equal(t, uint64(5), *ra.SimHash)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 123456000, time.UTC), ra.Timestamp)

	rb := byID[b]
	require.NotNil(t, rb, "content_id defaults to the key")
	assert.Equal(t, []string{"文本"}, rb.Tags)
	assert.Nil(t, rb.SimHash)
	assert.Equal(t, 4, rb.Timestamp.Hour())
}

func TestDecodeDocument_Invalid(t *testing.T) {
	_, err := DecodeDocument([]byte(`[1, 2]`))
	assert.Error(t, err)

	records, err := DecodeDocument([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestValidateContentID(t *testing.T) {
	assert.NoError(t, ValidateContentID(id("x")))
	assert.Error(t, ValidateContentID(strings.ToUpper(id("x"))))
	assert.Error(t, ValidateContentID("abc"))
}
