package progress

import (
	"context"
	"sync"
	"time"
)

type record struct {
	job     Job
	expires time.Time

	entries       []StreamEntry
	nextID        uint64
	progressCount int
	partialCount  int

	// notify is closed and replaced on every append so blocked readers
	// wake up.
	notify chan struct{}
}

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*record

	ttl         time.Duration
	progressCap int
	partialCap  int
	now         func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL overrides the retention window.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		jobs:        make(map[string]*record),
		ttl:         DefaultTTL,
		progressCap: MaxProgressEntries,
		partialCap:  MaxPartialEntries,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, jobID string, update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.jobs[jobID]
	if rec == nil || !rec.expires.After(now) {
		rec = &record{
			job:    Job{ID: jobID, CreatedAt: now},
			nextID: 1,
			notify: make(chan struct{}),
		}
		s.jobs[jobID] = rec
	}

	applyUpdate(&rec.job, update, now)
	rec.expires = now.Add(s.ttl)

	s.appendLocked(rec, ProgressEntryFields(&rec.job, now))
	return nil
}

func (s *MemoryStore) StreamPartialResult(ctx context.Context, jobID, resultType, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.jobs[jobID]
	if rec == nil || !rec.expires.After(now) {
		return ErrJobNotFound
	}

	s.appendLocked(rec, PartialEntryFields(resultType, content, now))
	return nil
}

func (s *MemoryStore) GetProgress(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.jobs[jobID]
	if rec == nil || !rec.expires.After(s.now()) {
		return nil, ErrJobNotFound
	}

	snapshot := rec.job
	if rec.job.Result != nil {
		result := *rec.job.Result
		snapshot.Result = &result
	}
	return &snapshot, nil
}

func (s *MemoryStore) ReadStream(ctx context.Context, jobID string, after uint64) ([]StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(jobID, after)
}

func (s *MemoryStore) ReadStreamWait(ctx context.Context, jobID string, after uint64, wait time.Duration) ([]StreamEntry, error) {
	deadline := s.now().Add(wait)

	for {
		s.mu.Lock()
		entries, err := s.readLocked(jobID, after)
		var notify chan struct{}
		if err == nil && len(entries) == 0 {
			notify = s.jobs[jobID].notify
		}
		s.mu.Unlock()

		if err != nil || len(entries) > 0 {
			return entries, err
		}

		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			return []StreamEntry{}, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-notify:
			timer.Stop()
		case <-timer.C:
			return []StreamEntry{}, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, rec := range s.jobs {
		if !rec.expires.After(now) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) readLocked(jobID string, after uint64) ([]StreamEntry, error) {
	rec := s.jobs[jobID]
	if rec == nil || !rec.expires.After(s.now()) {
		return nil, ErrJobNotFound
	}

	ret := make([]StreamEntry, 0)
	for _, entry := range rec.entries {
		if entry.ID > after {
			ret = append(ret, entry)
		}
	}
	return ret, nil
}

func (s *MemoryStore) appendLocked(rec *record, fields map[string]string) {
	entry := StreamEntry{ID: rec.nextID, Fields: fields}
	rec.nextID++
	rec.entries = append(rec.entries, entry)

	if entry.IsPartialResult() {
		rec.partialCount++
		if rec.partialCount > s.partialCap {
			s.evictOldestLocked(rec, true)
			rec.partialCount--
		}
	} else {
		rec.progressCount++
		if rec.progressCount > s.progressCap {
			s.evictOldestLocked(rec, false)
			rec.progressCount--
		}
	}

	close(rec.notify)
	rec.notify = make(chan struct{})
}

// evictOldestLocked drops the oldest entry of the given kind; the caps for
// progress and partial-result entries are enforced independently.
func (s *MemoryStore) evictOldestLocked(rec *record, partial bool) {
	for i, entry := range rec.entries {
		if entry.IsPartialResult() == partial {
			rec.entries = append(rec.entries[:i], rec.entries[i+1:]...)
			return
		}
	}
}

// applyUpdate folds one update into the snapshot. Progress is clamped to be
// non-decreasing; a transition to the error stage freezes it at its last
// value.
func applyUpdate(job *Job, update Update, now time.Time) {
	job.Stage = update.Stage
	job.CurrentItem = update.CurrentItem
	job.Message = update.Message
	job.Error = update.Error
	job.UpdatedAt = now

	if update.Stage != StageError && update.Progress > job.Progress {
		job.Progress = update.Progress
	}

	if update.Result != nil {
		result := *update.Result
		job.Result = &result
	}
}
