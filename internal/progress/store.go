package progress

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned for unknown or expired job ids.
var ErrJobNotFound = errors.New("job not found")

const (
	// DefaultTTL is the retention window for a job's snapshot and log,
	// refreshed on every progress update.
	DefaultTTL = time.Hour

	// MaxProgressEntries caps full progress updates kept per job log.
	MaxProgressEntries = 100
	// MaxPartialEntries caps partial-result entries kept per job log.
	// The two caps are enforced independently on the shared log.
	MaxPartialEntries = 200
)

// Store persists job snapshots and their append-only event logs.
// Writes for one job come from exactly one orchestrator task; reads are safe
// for arbitrarily many concurrent consumers.
type Store interface {
	// UpdateProgress overwrites the job snapshot (refreshing its TTL) and
	// appends one stream entry with the same fields. Non-error updates
	// never lower the stored progress percentage; an error transition
	// freezes it.
	UpdateProgress(ctx context.Context, jobID string, update Update) error

	// StreamPartialResult appends a partial-result entry to the job's log
	// for progressive delivery before the job completes.
	StreamPartialResult(ctx context.Context, jobID, resultType, content string) error

	// GetProgress returns the current snapshot or ErrJobNotFound.
	GetProgress(ctx context.Context, jobID string) (*Job, error)

	// ReadStream returns the log entries with ID > after, in order.
	// Non-blocking.
	ReadStream(ctx context.Context, jobID string, after uint64) ([]StreamEntry, error)

	// ReadStreamWait behaves like ReadStream but blocks up to wait for new
	// entries when none are immediately available.
	ReadStreamWait(ctx context.Context, jobID string, after uint64, wait time.Duration) ([]StreamEntry, error)

	// Sweep evicts jobs whose TTL has elapsed and returns how many were
	// removed.
	Sweep(ctx context.Context) (int, error)
}

// Tracker is a per-job handle over a Store, mirroring how the orchestrator
// reports progress.
type Tracker struct {
	store Store
	jobID string
}

func NewTracker(store Store, jobID string) *Tracker {
	return &Tracker{store: store, jobID: jobID}
}

func (t *Tracker) JobID() string {
	return t.jobID
}

func (t *Tracker) Update(ctx context.Context, update Update) error {
	return t.store.UpdateProgress(ctx, t.jobID, update)
}

func (t *Tracker) PartialResult(ctx context.Context, resultType, content string) error {
	return t.store.StreamPartialResult(ctx, t.jobID, resultType, content)
}
