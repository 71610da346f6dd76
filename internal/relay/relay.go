// Package relay tails job event logs from the progress store and fans the
// entries out to connected subscribers, one tailer per job no matter how
// many subscribers attach.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

const (
	// tailWait is how long one blocking read waits for new entries.
	tailWait = time.Second
	// notFoundBackoff paces retries while the job's log does not exist yet.
	notFoundBackoff = 500 * time.Millisecond
)

// Relay guarantees at most one tail loop per job id. EnsureRunning is safe
// to call from every subscriber attach; only the first call for a job starts
// a tailer.
type Relay struct {
	store progress.Store
	hub   *Hub

	mu      sync.Mutex
	running map[string]context.CancelFunc
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store progress.Store, hub *Hub) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		store:   store,
		hub:     hub,
		running: make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// EnsureRunning starts the tail loop for a job unless one is already
// running.
func (r *Relay) EnsureRunning(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	if _, ok := r.running[jobID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(r.ctx)
	r.running[jobID] = cancel

	r.wg.Add(1)
	go r.tail(ctx, jobID)
}

// Running reports whether a tailer is active for the job.
func (r *Relay) Running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[jobID]
	return ok
}

// StopJob cancels the tailer for one job, if any. The loop observes the
// cancellation on its next iteration.
func (r *Relay) StopJob(jobID string) {
	r.mu.Lock()
	cancel, ok := r.running[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every tailer and waits for them to exit.
func (r *Relay) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

// tail forwards the job's entries to the hub in log order until the job's
// log disappears or the tailer is cancelled. Before the first entry arrives,
// a missing log only means the producer has not written yet, so the tailer
// backs off and retries; after entries were seen, a missing log means TTL
// eviction and the tailer exits.
func (r *Relay) tail(ctx context.Context, jobID string) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		if cancel, ok := r.running[jobID]; ok {
			cancel()
			delete(r.running, jobID)
		}
		r.mu.Unlock()
	}()

	var lastSeen uint64
	seenAny := false

	for {
		entries, err := r.store.ReadStreamWait(ctx, jobID, lastSeen, tailWait)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, progress.ErrJobNotFound) {
				if seenAny {
					log.Debug("Job %s log expired, stopping relay", jobID)
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(notFoundBackoff):
				}
				continue
			}
			log.Error("Relay for job %s: read failed: %v", jobID, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(notFoundBackoff):
			}
			continue
		}

		for _, entry := range entries {
			r.hub.Broadcast(jobID, entry)
			lastSeen = entry.ID
			seenAny = true
		}
	}
}
