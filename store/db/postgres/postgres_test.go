package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tagcache/internal/profile"
	"github.com/hrygo/tagcache/plugin/fingerprint"
	"github.com/hrygo/tagcache/store"
)

// newTestDB connects to POSTGRES_TEST_DSN and starts from an empty table.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	db, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	_, err = db.GetDB().Exec(`DELETE FROM tag_record`)
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
		{ContentID: fingerprint.ContentID("a"), SimHash: &high, Tags: []string{"图像", "流程"}, FileDescription: &desc, Timestamp: time.Date(2025, 2, 1, 0, 0, 0, 1000, time.UTC)},
		{ContentID: fingerprint.ContentID("b"), Tags: []string{}, Timestamp: time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, db.Save(ctx, want))

	got, err := db.Load(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)

	require.NoError(t, db.Save(ctx, want[:1]))
	got, err = db.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLoad_SkipsInvalidRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, err := db.GetDB().ExecContext(ctx, `INSERT INTO tag_record (content_id, tags, ts) VALUES ($1, $2, $3)`,
		"bogus", `["x"]`, time.Now().UTC())
	require.NoError(t, err)

	got, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewDB_RequiresDSN(t *testing.T) {
	_, err := NewDB(nil)
	assert.Error(t, err)
	_, err = NewDB(&profile.Profile{})
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	// Default clock, so timestamps carry sub-second precision.
	st := store.New(db, store.Config{ApproxThreshold: store.DefaultApproxThreshold})
	a, _ := st.GetOrInit(fingerprint.ContentID("机器学习模型优化"), fingerprint.SimHash("机器学习模型优化", 3), true)
	st.UpdateTags(a, []string{"文本", "技术"})
	b, _ := st.GetOrInit(fingerprint.ContentIDBytes([]byte{0x89, 'P', 'N', 'G'}), 42, false)
	st.UpdateDescription(b, "流程图")
	require.NoError(t, st.Flush(ctx))

	reloaded := store.New(db, store.Config{ApproxThreshold: store.DefaultApproxThreshold})
	require.NoError(t, reloaded.Load(ctx))
	for _, rec := range []*store.TagRecord{a, b} {
		want, ok := st.GetByID(rec.ContentID)
		require.True(t, ok)
		got, ok := reloaded.GetByID(rec.ContentID)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestSave_TruncatesNanoseconds(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ts := time.Date(2025, 2, 1, 0, 0, 0, 123456789, time.UTC)
	require.NoError(t, db.Save(ctx, []*store.TagRecord{{ContentID: fingerprint.ContentID("a"), Tags: []string{"文本"}, Timestamp: ts}}))
	got, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ts.Truncate(time.Microsecond), got[0].Timestamp)
}
