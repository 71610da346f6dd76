package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ExecutesEnqueuedTask(t *testing.T) {
	q := NewQueue(2)

	executed := make(chan string, 1)
	q.Start(func(_ context.Context, task *Task) error {
		executed <- task.ID
		return nil
	})
	defer q.Stop()

	task := q.Enqueue("job-1")
	require.Equal(t, StatusPending, task.Status)

	select {
	case id := <-executed:
		assert.Equal(t, "job-1", id)
	case <-time.After(time.Second):
		t.Fatal("task never executed")
	}

	require.Eventually(t, func() bool {
		got, ok := q.Get("job-1")
		return ok && got.Status == StatusSuccess
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_FailedExecutionMarksTask(t *testing.T) {
	q := NewQueue(1)
	q.Start(func(_ context.Context, _ *Task) error {
		return assert.AnError
	})
	defer q.Stop()

	q.Enqueue("job-1")

	require.Eventually(t, func() bool {
		got, ok := q.Get("job-1")
		return ok && got.Status == StatusFailed && got.Error == assert.AnError.Error()
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_DrainsPendingOnStart(t *testing.T) {
	q := NewQueue(2)

	q.Enqueue("job-1")
	q.Enqueue("job-2")

	executed := make(chan string, 2)
	q.Start(func(_ context.Context, task *Task) error {
		executed <- task.ID
		return nil
	})
	defer q.Stop()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-executed:
			seen[id] = true
		case <-time.After(time.Second):
			t.Fatal("pending tasks not drained")
		}
	}
	assert.True(t, seen["job-1"])
	assert.True(t, seen["job-2"])
}

func TestQueue_GetReturnsSnapshot(t *testing.T) {
	q := NewQueue(1)
	q.Enqueue("job-1")

	first, ok := q.Get("job-1")
	require.True(t, ok)
	first.Status = StatusFailed

	second, ok := q.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, second.Status)
}

func TestQueue_ListReturnsSubmissionOrder(t *testing.T) {
	q := NewQueue(1)
	q.Enqueue("job-b")
	q.Enqueue("job-a")
	q.Enqueue("job-c")

	tasks := q.List()
	require.Len(t, tasks, 3)

	// Enqueues within one clock tick fall back to id order.
	for i := 1; i < len(tasks); i++ {
		prev, cur := tasks[i-1], tasks[i]
		ordered := prev.CreatedAt.Before(cur.CreatedAt) ||
			(prev.CreatedAt.Equal(cur.CreatedAt) && prev.ID < cur.ID)
		assert.True(t, ordered, "tasks %s and %s out of order", prev.ID, cur.ID)
	}

	// Listed tasks are snapshots.
	tasks[0].Status = StatusFailed
	got, ok := q.Get(tasks[0].ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
}

func TestQueue_StopIsIdempotent(t *testing.T) {
	q := NewQueue(1)
	q.Start(func(_ context.Context, _ *Task) error { return nil })
	q.Stop()
	q.Stop()
}
