package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

func openTestJournal(t *testing.T, opts ...Option) *SQLiteJournal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordDelivered_ThenDelivered(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	ok, err := j.Delivered(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, j.RecordDelivered(ctx, "r1", core.Receipt{Reference: "srv-1"}))

	ok, err = j.Delivered(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	d, err := j.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", d.Reference)
}

func TestRecordDelivered_KeepsFirstEntry(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordDelivered(ctx, "r1", core.Receipt{Reference: "first"}))
	require.NoError(t, j.RecordDelivered(ctx, "r1", core.Receipt{Reference: "second"}))

	d, err := j.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "first", d.Reference)
}

func TestRecordDelivered_RejectsInvalidID(t *testing.T) {
	j := openTestJournal(t)
	err := j.RecordDelivered(context.Background(), "../escape", core.Receipt{})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestGet_Missing(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.Get(context.Background(), "nope")
	assert.True(t, core.IsNotFound(err))
}

func TestJournal_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordDelivered(ctx, "r1", core.Receipt{}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	ok, err := j.Delivered(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestForget_RemovesOldEntries(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base
	j := openTestJournal(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, j.RecordDelivered(ctx, "old", core.Receipt{}))
	now = base.Add(48 * time.Hour)
	require.NoError(t, j.RecordDelivered(ctx, "new", core.Receipt{}))

	n, err := j.Forget(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, _ := j.Delivered(ctx, "old")
	assert.False(t, ok)
	ok, _ = j.Delivered(ctx, "new")
	assert.True(t, ok)
}

func TestRecent_NewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	j := openTestJournal(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	ctx := context.Background()

	for _, id := range []core.ReportID{"a", "b", "c"} {
		require.NoError(t, j.RecordDelivered(ctx, id, core.Receipt{}))
	}

	got, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.ReportID("c"), got[0].ReportID)
	assert.Equal(t, core.ReportID("b"), got[1].ReportID)
}

func TestClose_Idempotent(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
}
