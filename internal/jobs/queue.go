package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

// Status tracks one background extraction task.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Task is the background-runtime record for one submitted job. The user
// visible state lives in the progress store; this record exists so
// operators can observe failed executions.
type Task struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Executor runs one task to completion. A returned error marks the task
// failed.
type Executor func(ctx context.Context, task *Task) error

// Queue executes one background task per submitted job on a bounded set of
// worker goroutines, decoupled from the request path: submission returns
// before execution starts.
type Queue struct {
	workerCount int
	maxTasks    int

	mu         sync.RWMutex
	tasks      map[string]*Task
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewQueue(workerCount int) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Queue{
		workerCount: workerCount,
		maxTasks:    1000,
		tasks:       make(map[string]*Task),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
}

// Enqueue registers a new task and schedules it for execution once Start
// has been called.
func (q *Queue) Enqueue(id string) *Task {
	now := time.Now()
	task := &Task{
		ID:        id,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	q.tasks[id] = task
	started := q.started
	snapshot := cloneTask(task)
	q.mu.Unlock()

	if started {
		q.enqueuePendingID(id)
	}
	return snapshot
}

func (q *Queue) Get(id string) (*Task, bool) {
	q.mu.RLock()
	task, ok := q.tasks[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneTask(task), true
}

func (q *Queue) List() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ret := make([]*Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		ret = append(ret, cloneTask(task))
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	pending := make([]string, 0)
	for id, task := range q.tasks {
		if task.Status == StatusPending {
			pending = append(pending, id)
		}
	}
	q.mu.Unlock()

	for _, id := range pending {
		q.enqueuePendingID(id)
	}

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			task, ok := q.markRunning(id)
			if !ok {
				continue
			}

			err := exec(context.Background(), task)
			if err != nil {
				log.Error("Task %s failed: %v", id, err)
				q.markFailed(id, err)
				continue
			}
			q.markSuccess(id)
		}
	}
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() { q.pendingIDs <- id }()
	}
}

func (q *Queue) markRunning(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok || task.Status != StatusPending {
		return nil, false
	}
	task.Status = StatusRunning
	task.UpdatedAt = time.Now()
	return cloneTask(task), true
}

func (q *Queue) markSuccess(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return
	}
	task.Status = StatusSuccess
	task.Error = ""
	task.UpdatedAt = time.Now()
	q.pruneTerminalTasksLocked()
}

func (q *Queue) markFailed(id string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return
	}
	task.Status = StatusFailed
	if err != nil {
		task.Error = err.Error()
	}
	task.UpdatedAt = time.Now()
	q.pruneTerminalTasksLocked()
}

func (q *Queue) pruneTerminalTasksLocked() {
	if q.maxTasks <= 0 || len(q.tasks) <= q.maxTasks {
		return
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.tasks))
	for id, task := range q.tasks {
		if task.Status == StatusPending || task.Status == StatusRunning {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: task.UpdatedAt})
	}
	if len(terminal) == 0 {
		return
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := len(q.tasks) - q.maxTasks
	if toRemove > len(terminal) {
		toRemove = len(terminal)
	}
	for i := 0; i < toRemove; i++ {
		delete(q.tasks, terminal[i].id)
	}
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	tmp := *task
	return &tmp
}
