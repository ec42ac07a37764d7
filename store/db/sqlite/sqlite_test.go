package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tagcache/internal/profile"
	"github.com/hrygo/tagcache/plugin/fingerprint"
	"github.com/hrygo/tagcache/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "tagcache_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	high := uint64(1<<63 | 5)
	desc := "流程图"
	want := []*store.TagRecord{
		{ContentID: fingerprint.ContentID("a"), SimHash: &high, Tags: []string{"图像", "流程"}, FileDescription: &desc, Timestamp: time.Date(2025, 2, 1, 0, 0, 0, 42, time.UTC)},
		{ContentID: fingerprint.ContentID("b"), Tags: []string{}, Timestamp: time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, db.Save(ctx, want))

	got, err := db.Load(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)

	// A second save replaces the set.
	require.NoError(t, db.Save(ctx, want[:1]))
	got, err = db.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLoad_SkipsInvalidRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, err := db.GetDB().ExecContext(ctx, `INSERT INTO tag_record (content_id, tags, ts) VALUES (?, ?, ?)`,
		"bogus", `["x"]`, time.Now().UTC().Format(time.RFC3339Nano))
	require.NoError(t, err)

	got, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewDB(t *testing.T) {
	_, err := NewDB(nil)
	assert.Error(t, err)
	_, err = NewDB(&profile.Profile{})
	assert.Error(t, err)

	driver, err := NewDB(&profile.Profile{DSN: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.NoError(t, driver.Close())
}
