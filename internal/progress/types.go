package progress

import "time"

// Stage is one step of a job's lifecycle.
type Stage string

const (
	StageInitializing         Stage = "initializing"
	StageProcessing           Stage = "processing"
	StageProcessingPDFs       Stage = "processing_pdfs"
	StageProcessingEmails     Stage = "processing_emails"
	StageExtractingParameters Stage = "extracting_parameters"
	StageFinalizing           Stage = "finalizing"
	StageCompleted            Stage = "completed"
	StageError                Stage = "error"
)

// Terminal reports whether no further stage transitions are expected.
// Updates after a terminal stage are not prohibited; they extend the log
// until TTL eviction.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// Job is the latest-state snapshot for one submitted batch. The snapshot is
// the source of truth for "current state"; the stream log records what
// changed, in order.
type Job struct {
	ID          string    `json:"job_id"`
	Stage       Stage     `json:"stage"`
	Progress    int       `json:"progress"`
	CurrentItem string    `json:"current_item,omitempty"`
	Message     string    `json:"message"`
	Result      *Result   `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Result is the aggregated output of a completed job.
type Result struct {
	ExtractedText string            `json:"extractedText"`
	Params        map[string]string `json:"params,omitempty"`
	ProjectName   string            `json:"projectName,omitempty"`
	Language      string            `json:"language,omitempty"`
}

// Update carries one progress transition into the store.
type Update struct {
	Stage       Stage
	CurrentItem string
	Progress    int
	Message     string
	Result      *Result
	Error       string
}

// StreamEntry is one append-only record in a job's event log. IDs are
// strictly increasing within a job; entries are never mutated once appended.
type StreamEntry struct {
	ID     uint64            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// IsPartialResult reports whether the entry is a lightweight partial-result
// record rather than a full progress update.
func (e StreamEntry) IsPartialResult() bool {
	return e.Fields["type"] == "partial_result"
}
