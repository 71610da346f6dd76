package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
)

func TestRelay_ForwardsEntriesInOrder(t *testing.T) {
	store := progress.NewMemoryStore()
	hub := NewHub()
	rel := New(store, hub)
	defer rel.Stop()

	ctx := context.Background()
	ch := hub.Join("job-1")
	defer hub.Leave("job-1", ch)

	rel.EnsureRunning("job-1")

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{
			Stage:    progress.StageProcessingPDFs,
			Progress: i * 10,
			Message:  fmt.Sprintf("step %d", i),
		}))
	}

	var got []progress.StreamEntry
	deadline := time.After(3 * time.Second)
	for len(got) < 5 {
		select {
		case entry := <-ch:
			got = append(got, entry)
		case <-deadline:
			t.Fatalf("timed out, received %d entries", len(got))
		}
	}

	prev := uint64(0)
	for i, entry := range got {
		require.Greater(t, entry.ID, prev, "entry %d out of order", i)
		prev = entry.ID
		assert.Equal(t, fmt.Sprintf("step %d", i+1), entry.Fields["message"])
	}
}

func TestRelay_EnsureRunningIsIdempotent(t *testing.T) {
	store := progress.NewMemoryStore()
	hub := NewHub()
	rel := New(store, hub)
	defer rel.Stop()

	ctx := context.Background()
	ch := hub.Join("job-1")
	defer hub.Leave("job-1", ch)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel.EnsureRunning("job-1")
		}()
	}
	wg.Wait()
	assert.True(t, rel.Running("job-1"))

	// A duplicate tailer would deliver every entry more than once.
	for i := 1; i <= 3; i++ {
		require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{
			Stage:    progress.StageProcessing,
			Progress: i * 10,
		}))
	}

	seen := make(map[uint64]int)
	deadline := time.After(3 * time.Second)
	for count := 0; count < 3; count++ {
		select {
		case entry := <-ch:
			seen[entry.ID]++
		case <-deadline:
			t.Fatalf("timed out, received %d entries", count)
		}
	}

	// Drain anything extra that might arrive shortly after.
	select {
	case entry := <-ch:
		seen[entry.ID]++
	case <-time.After(100 * time.Millisecond):
	}

	for id, count := range seen {
		assert.Equal(t, 1, count, "entry %d duplicated", id)
	}
}

func TestRelay_SubscriberJoiningBeforeEventsSeesAll(t *testing.T) {
	store := progress.NewMemoryStore()
	hub := NewHub()
	rel := New(store, hub)
	defer rel.Stop()

	// Join and start tailing before the job exists at all.
	ch := hub.Join("job-1")
	defer hub.Leave("job-1", ch)
	rel.EnsureRunning("job-1")

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, store.UpdateProgress(context.Background(), "job-1", progress.Update{
		Stage:   progress.StageInitializing,
		Message: "Initializing file processing...",
	}))

	select {
	case entry := <-ch:
		assert.Equal(t, string(progress.StageInitializing), entry.Fields["stage"])
	case <-time.After(3 * time.Second):
		t.Fatal("never received the first entry")
	}
}

func TestRelay_StopEndsTailers(t *testing.T) {
	store := progress.NewMemoryStore()
	hub := NewHub()
	rel := New(store, hub)

	rel.EnsureRunning("job-1")
	rel.Stop()

	assert.False(t, rel.Running("job-1"))
	// EnsureRunning after Stop must not start new tailers.
	rel.EnsureRunning("job-2")
	assert.False(t, rel.Running("job-2"))
}

func TestRelay_StopJobEndsSingleTailer(t *testing.T) {
	store := progress.NewMemoryStore()
	hub := NewHub()
	rel := New(store, hub)
	defer rel.Stop()

	rel.EnsureRunning("job-1")
	rel.EnsureRunning("job-2")

	rel.StopJob("job-1")
	assert.Eventually(t, func() bool { return !rel.Running("job-1") }, 2*time.Second, 20*time.Millisecond)
	assert.True(t, rel.Running("job-2"))

	// A stopped job can be tailed again later.
	rel.EnsureRunning("job-1")
	assert.True(t, rel.Running("job-1"))
}

func TestHub_LeaveClosesChannel(t *testing.T) {
	hub := NewHub()
	ch := hub.Join("job-1")
	require.Equal(t, 1, hub.Subscribers("job-1"))

	hub.Leave("job-1", ch)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("job-1"))

	// Double leave is a no-op.
	hub.Leave("job-1", ch)
}

func TestHub_SlowSubscriberDoesNotBlockBroadcast(t *testing.T) {
	hub := NewHub()
	ch := hub.Join("job-1")
	defer hub.Leave("job-1", ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			hub.Broadcast("job-1", progress.StreamEntry{ID: uint64(i + 1)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}
}
