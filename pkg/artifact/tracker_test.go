package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile creates path with the given modification time.
func writeFile(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestIsStale(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	tracker := NewTracker(store)
	dir := t.TempDir()

	out := filepath.Join(dir, "mapped", "a.sam")
	in := filepath.Join(dir, "reads", "a.fastq")

	built := time.Now().Add(-time.Hour)
	inMTime := built.Add(-time.Minute)
	writeFile(t, out, built)
	writeFile(t, in, inMTime)

	record := func(fingerprint string) {
		t.Helper()
		require.NoError(t, store.RecordOutputs(ctx, []Record{{
			Path:        out,
			RuleName:    "align",
			BuiltAt:     built,
			Fingerprint: fingerprint,
			Inputs:      []InputStamp{{Path: in, MTime: inMTime}},
		}}))
	}

	t.Run("missing output", func(t *testing.T) {
		stale, reason, err := tracker.IsStale(ctx, filepath.Join(dir, "nope.txt"), nil, "fp")
		require.NoError(t, err)
		assert.True(t, stale)
		assert.Equal(t, ReasonMissingOutput, reason)
	})

	t.Run("no record", func(t *testing.T) {
		stale, reason, err := tracker.IsStale(ctx, out, []string{in}, "fp")
		require.NoError(t, err)
		assert.True(t, stale)
		assert.Equal(t, ReasonNoRecord, reason)
	})

	record("fp")

	t.Run("fresh", func(t *testing.T) {
		stale, reason, err := tracker.IsStale(ctx, out, []string{in}, "fp")
		require.NoError(t, err)
		assert.False(t, stale)
		assert.Equal(t, ReasonFresh, reason)
	})

	t.Run("rule changed", func(t *testing.T) {
		stale, reason, err := tracker.IsStale(ctx, out, []string{in}, "other")
		require.NoError(t, err)
		assert.True(t, stale)
		assert.Equal(t, ReasonRuleChanged, reason)
	})

	t.Run("input set changed", func(t *testing.T) {
		extra := filepath.Join(dir, "reads", "b.fastq")
		writeFile(t, extra, inMTime)
		stale, reason, err := tracker.IsStale(ctx, out, []string{in, extra}, "fp")
		require.NoError(t, err)
		assert.True(t, stale)
		assert.Equal(t, ReasonInputSet, reason)
	})

	t.Run("input newer than output", func(t *testing.T) {
		require.NoError(t, os.Chtimes(in, time.Now(), time.Now()))
		stale, reason, err := tracker.IsStale(ctx, out, []string{in}, "fp")
		require.NoError(t, err)
		assert.True(t, stale)
		assert.Equal(t, ReasonStaleInput, reason)
		require.NoError(t, os.Chtimes(in, inMTime, inMTime))
	})

	t.Run("unrecorded input", func(t *testing.T) {
		stale, reason, err := tracker.IsStale(ctx, out, []string{filepath.Join(dir, "gone.fastq")}, "fp")
		require.NoError(t, err)
		assert.True(t, stale)
		assert.Equal(t, ReasonInputSet, reason)
	})

	t.Run("input vanished", func(t *testing.T) {
		require.NoError(t, os.Remove(in))
		stale, reason, err := tracker.IsStale(ctx, out, []string{in}, "fp")
		require.NoError(t, err)
		assert.True(t, stale)
		assert.Equal(t, ReasonStaleInput, reason)
		writeFile(t, in, inMTime)
	})

	t.Run("suspect", func(t *testing.T) {
		require.NoError(t, store.MarkSuspect(ctx, []string{out}))
		stale, reason, err := tracker.IsStale(ctx, out, []string{in}, "fp")
		require.NoError(t, err)
		assert.True(t, stale)
		assert.Equal(t, ReasonSuspect, reason)
	})
}

func TestCheckProtected(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	tracker := NewTracker(store)
	dir := t.TempDir()

	out := filepath.Join(dir, "final.bam")
	writeFile(t, out, time.Now())

	// No record at all: not protected.
	require.NoError(t, tracker.CheckProtected(ctx, out))

	// Missing file is never protected even with a record.
	require.NoError(t, tracker.CheckProtected(ctx, filepath.Join(dir, "gone.bam")))

	require.NoError(t, store.RecordOutputs(ctx, []Record{{
		Path:      out,
		RuleName:  "finalize",
		BuiltAt:   time.Now(),
		Protected: true,
	}}))

	err := tracker.CheckProtected(ctx, out)
	require.Error(t, err)
	var protErr *ProtectedOutputError
	require.ErrorAs(t, err, &protErr)
	assert.Equal(t, out, protErr.Path)
	assert.Equal(t, "finalize", protErr.Rule)
}

func TestProtectUnprotect(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	tracker := NewTracker(store)
	dir := t.TempDir()

	out := filepath.Join(dir, "final.bam")
	writeFile(t, out, time.Now())
	require.NoError(t, store.RecordOutputs(ctx, []Record{{Path: out, BuiltAt: time.Now()}}))

	require.NoError(t, tracker.Protect(ctx, out))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	rec, err := store.Get(ctx, out)
	require.NoError(t, err)
	assert.True(t, rec.Protected)

	require.NoError(t, tracker.Unprotect(ctx, out))
	info, err = os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	rec, err = store.Get(ctx, out)
	require.NoError(t, err)
	assert.False(t, rec.Protected)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	tracker := NewTracker(store)
	dir := t.TempDir()

	tmp := filepath.Join(dir, "mapped", "a.sam")
	writeFile(t, tmp, time.Now())
	require.NoError(t, store.RecordOutputs(ctx, []Record{{Path: tmp, BuiltAt: time.Now(), Temp: true}}))

	require.NoError(t, tracker.Cleanup(ctx, tmp))
	assert.NoFileExists(t, tmp)

	rec, err := store.Get(ctx, tmp)
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Cleaning an already-removed file only drops the record.
	require.NoError(t, tracker.Cleanup(ctx, tmp))
}
