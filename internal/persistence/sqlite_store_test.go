package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
)

func newTestStore(t *testing.T, opts ...SQLiteOption) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "progress.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_UpdateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	result := &progress.Result{
		ExtractedText: "merged text",
		Params:        map[string]string{"Company": "Acme Roofing Ltd"},
		ProjectName:   "Riverside Park",
		Language:      "en",
	}
	require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{
		Stage:    progress.StageCompleted,
		Progress: 100,
		Message:  "Processing completed! Results are ready.",
		Result:   result,
	}))

	job, err := store.GetProgress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, progress.StageCompleted, job.Stage)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, "Riverside Park", job.Result.ProjectName)
	assert.Equal(t, "Acme Roofing Ltd", job.Result.Params["Company"])
}

func TestSQLiteStore_GetProgress_Unknown(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetProgress(context.Background(), "missing")
	assert.ErrorIs(t, err, progress.ErrJobNotFound)
}

func TestSQLiteStore_ProgressNeverDecreases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{Stage: progress.StageProcessingPDFs, Progress: 50}))
	require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{Stage: progress.StageProcessingPDFs, Progress: 30}))

	job, err := store.GetProgress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 50, job.Progress)
}

func TestSQLiteStore_ErrorStageFreezesProgress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{Stage: progress.StageProcessingEmails, Progress: 60}))
	require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{
		Stage: progress.StageError,
		Error: "boom",
	}))

	job, err := store.GetProgress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, progress.StageError, job.Stage)
	assert.Equal(t, 60, job.Progress)
	assert.Equal(t, "boom", job.Error)
}

func TestSQLiteStore_ReadStreamAfterOffset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{
			Stage:    progress.StageProcessingPDFs,
			Progress: i * 10,
		}))
	}

	entries, err := store.ReadStream(ctx, "job-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	prev := uint64(3)
	for _, entry := range entries {
		assert.Greater(t, entry.ID, prev)
		prev = entry.ID
	}
}

func TestSQLiteStore_PartialEntryCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{Stage: progress.StageProcessing, Progress: 10}))
	for i := 0; i < progress.MaxPartialEntries+5; i++ {
		require.NoError(t, store.StreamPartialResult(ctx, "job-1", fmt.Sprintf("PDF_PROCESSED:%d.pdf", i), "ok"))
	}

	entries, err := store.ReadStream(ctx, "job-1", 0)
	require.NoError(t, err)

	partials, progressEntries := 0, 0
	for _, entry := range entries {
		if entry.IsPartialResult() {
			partials++
		} else {
			progressEntries++
		}
	}
	assert.Equal(t, progress.MaxPartialEntries, partials)
	// The progress entry must survive the partial-side eviction.
	assert.Equal(t, 1, progressEntries)
}

func TestSQLiteStore_PartialResultRequiresJob(t *testing.T) {
	store := newTestStore(t)
	err := store.StreamPartialResult(context.Background(), "missing", "PDF_PROCESSED:a.pdf", "ok")
	assert.ErrorIs(t, err, progress.ErrJobNotFound)
}

func TestSQLiteStore_SweepEvictsExpired(t *testing.T) {
	now := time.Now()
	store := newTestStore(t, WithTTL(time.Hour), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.UpdateProgress(ctx, "old", progress.Update{Stage: progress.StageCompleted, Progress: 100}))
	now = now.Add(30 * time.Minute)
	require.NoError(t, store.UpdateProgress(ctx, "fresh", progress.Update{Stage: progress.StageProcessing, Progress: 10}))
	now = now.Add(45 * time.Minute)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetProgress(ctx, "old")
	assert.ErrorIs(t, err, progress.ErrJobNotFound)
	_, err = store.GetProgress(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{
		Stage:    progress.StageFinalizing,
		Progress: 95,
		Message:  "Finalizing results...",
	}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	job, err := reopened.GetProgress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, progress.StageFinalizing, job.Stage)
	assert.Equal(t, 95, job.Progress)

	entries, err := reopened.ReadStream(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLiteStore_ReadStreamWait_PicksUpNewEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{Stage: progress.StageInitializing}))
	entries, err := store.ReadStream(ctx, "job-1", 0)
	require.NoError(t, err)
	last := entries[len(entries)-1].ID

	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = store.UpdateProgress(ctx, "job-1", progress.Update{Stage: progress.StageProcessing, Progress: 10})
	}()

	got, err := store.ReadStreamWait(ctx, "job-1", last, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, string(progress.StageProcessing), got[0].Fields["stage"])
}
