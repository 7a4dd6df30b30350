package artifact

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenCreatesStoreFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "state.db")

	store, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	assert.FileExists(t, path)
}

func TestRecordOutputsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	built := time.Now().UTC().Truncate(time.Millisecond)
	in := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	rec := Record{
		Path:        "mapped/a.sam",
		RuleName:    "align",
		JobID:       "align|sample=a",
		RunID:       "run-1",
		BuiltAt:     built,
		Fingerprint: "abc123",
		Temp:        true,
		Inputs: []InputStamp{
			{Path: "reads/a.fastq", MTime: in},
		},
	}
	require.NoError(t, store.RecordOutputs(ctx, []Record{rec}))

	got, err := store.Get(ctx, "mapped/a.sam")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "align", got.RuleName)
	assert.Equal(t, "align|sample=a", got.JobID)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "abc123", got.Fingerprint)
	assert.True(t, got.BuiltAt.Equal(built))
	assert.True(t, got.Temp)
	assert.False(t, got.Protected)
	assert.False(t, got.Suspect)
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, "reads/a.fastq", got.Inputs[0].Path)
	assert.True(t, got.Inputs[0].MTime.Equal(in))
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordOutputsReplacesAndClearsSuspect(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := Record{Path: "out.txt", RuleName: "r", BuiltAt: time.Now()}
	require.NoError(t, store.RecordOutputs(ctx, []Record{rec}))
	require.NoError(t, store.MarkSuspect(ctx, []string{"out.txt"}))

	got, err := store.Get(ctx, "out.txt")
	require.NoError(t, err)
	require.True(t, got.Suspect)

	// A successful rebuild replaces the record and clears the flag.
	rec.Fingerprint = "new"
	require.NoError(t, store.RecordOutputs(ctx, []Record{rec}))

	got, err = store.Get(ctx, "out.txt")
	require.NoError(t, err)
	assert.False(t, got.Suspect)
	assert.Equal(t, "new", got.Fingerprint)
}

func TestRecordOutputsReplacesInputStamps(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := Record{
		Path:    "out.txt",
		BuiltAt: time.Now(),
		Inputs: []InputStamp{
			{Path: "a.txt", MTime: time.Now()},
			{Path: "b.txt", MTime: time.Now()},
		},
	}
	require.NoError(t, store.RecordOutputs(ctx, []Record{rec}))

	rec.Inputs = []InputStamp{{Path: "c.txt", MTime: time.Now()}}
	require.NoError(t, store.RecordOutputs(ctx, []Record{rec}))

	got, err := store.Get(ctx, "out.txt")
	require.NoError(t, err)
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, "c.txt", got.Inputs[0].Path)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.RecordOutputs(ctx, []Record{{Path: "out.txt", BuiltAt: time.Now()}}))
	require.NoError(t, store.Delete(ctx, "out.txt"))

	got, err := store.Get(ctx, "out.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRunsAndStats(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	started := time.Now().UTC()
	require.NoError(t, store.StartRun(ctx, "run-1", []string{"mapped/a.sam"}, started))
	require.NoError(t, store.FinishRun(ctx, "run-1", RunStatusSuccess, started.Add(time.Second)))

	require.NoError(t, store.RecordOutputs(ctx, []Record{
		{Path: "a.txt", BuiltAt: time.Now(), Protected: true},
		{Path: "b.txt", BuiltAt: time.Now()},
	}))
	require.NoError(t, store.MarkSuspect(ctx, []string{"b.txt"}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Artifacts)
	assert.Equal(t, int64(1), stats.Protected)
	assert.Equal(t, int64(1), stats.Suspect)
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, "run-1", stats.LastRunID)
	require.NotNil(t, stats.LastRunAt)
}
