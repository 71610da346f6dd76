package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/extract"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/reasoning"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/workpool"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

var (
	ErrNoFiles          = errors.New("no files provided")
	ErrNoSupportedFiles = errors.New("no supported files provided")
)

// Orchestrator turns submitted file batches into background extraction runs.
// Submit returns as soon as the job is registered; the pipeline itself runs
// on the queue's workers and reports through the progress store.
type Orchestrator struct {
	queue          *Queue
	store          progress.Store
	extractor      *extract.Extractor
	params         paramExtractor
	maxItemWorkers int

	mu       sync.Mutex
	payloads map[string][]extract.File
}

func NewOrchestrator(queue *Queue, store progress.Store, extractor *extract.Extractor, svc reasoning.Service, model string, maxItemWorkers int) *Orchestrator {
	if maxItemWorkers <= 0 {
		maxItemWorkers = 1
	}
	return &Orchestrator{
		queue:          queue,
		store:          store,
		extractor:      extractor,
		params:         paramExtractor{svc: svc, model: model},
		maxItemWorkers: maxItemWorkers,
		payloads:       make(map[string][]extract.File),
	}
}

// Start launches the queue workers.
func (o *Orchestrator) Start() {
	o.queue.Start(o.run)
}

func (o *Orchestrator) Stop() {
	o.queue.Stop()
}

// Task exposes the background task record for operators.
func (o *Orchestrator) Task(id string) (*Task, bool) {
	return o.queue.Get(id)
}

// Tasks lists every background task record in submission order.
func (o *Orchestrator) Tasks() []*Task {
	return o.queue.List()
}

// Submit registers a new job for the given upload batch and returns its id.
// The initializing snapshot is written before Submit returns, so a progress
// poll issued right after never sees an unknown job.
func (o *Orchestrator) Submit(ctx context.Context, files []extract.File) (string, error) {
	if len(files) == 0 {
		return "", ErrNoFiles
	}
	supported := false
	for _, f := range files {
		if extract.AllowedFile(f.Filename) {
			supported = true
			break
		}
	}
	if !supported {
		return "", ErrNoSupportedFiles
	}

	jobID := uuid.NewString()
	err := o.store.UpdateProgress(ctx, jobID, progress.Update{
		Stage:   progress.StageInitializing,
		Message: "Initializing file processing...",
	})
	if err != nil {
		return "", fmt.Errorf("register job: %w", err)
	}

	o.mu.Lock()
	o.payloads[jobID] = files
	o.mu.Unlock()

	o.queue.Enqueue(jobID)
	log.Info("Job %s submitted with %d files", jobID, len(files))
	return jobID, nil
}

func (o *Orchestrator) run(ctx context.Context, task *Task) error {
	files, ok := o.takePayload(task.ID)
	if !ok {
		return fmt.Errorf("no payload for job %s", task.ID)
	}
	return o.Execute(ctx, task.ID, files)
}

func (o *Orchestrator) takePayload(jobID string) ([]extract.File, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	files, ok := o.payloads[jobID]
	if ok {
		delete(o.payloads, jobID)
	}
	return files, ok
}

// Execute runs the full pipeline for one job. Any failure transitions the
// job to the error stage before the error is returned to the queue.
func (o *Orchestrator) Execute(ctx context.Context, jobID string, files []extract.File) error {
	tracker := progress.NewTracker(o.store, jobID)
	start := time.Now()

	result, err := o.process(ctx, tracker, files)
	if err != nil {
		log.Error("Job %s failed: %v", jobID, err)
		if uerr := tracker.Update(ctx, progress.Update{
			Stage:   progress.StageError,
			Message: fmt.Sprintf("Error processing files: %v", err),
			Error:   err.Error(),
		}); uerr != nil {
			log.Error("Job %s: recording failure: %v", jobID, uerr)
		}
		return err
	}

	if err := tracker.Update(ctx, progress.Update{
		Stage:    progress.StageCompleted,
		Progress: 100,
		Message:  "Processing completed! Results are ready.",
		Result:   result,
	}); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	log.Info("Job %s completed in %.2fs", jobID, time.Since(start).Seconds())
	return nil
}

func (o *Orchestrator) process(ctx context.Context, tracker *progress.Tracker, files []extract.File) (*progress.Result, error) {
	err := tracker.Update(ctx, progress.Update{
		Stage:    progress.StageProcessing,
		Progress: 10,
		Message:  fmt.Sprintf("Starting to process %d files...", len(files)),
	})
	if err != nil {
		return nil, err
	}

	batch := extract.SplitFiles(files)
	pdfItems := extract.PDFWorkItems(batch.PDFs)
	emailItems := extract.EmailWorkItems(batch.Emails)
	imageItems := extract.ImageWorkItems(batch.Images)

	total := len(pdfItems) + len(emailItems) + len(imageItems)
	if total == 0 {
		return nil, ErrNoSupportedFiles
	}

	var done atomic.Int64

	pdfResults := o.runPass(ctx, tracker, progress.StageProcessingPDFs, "PDF", pdfItems, &done, total)
	emailResults := o.runPass(ctx, tracker, progress.StageProcessingEmails, "EMAIL", emailItems, &done, total)
	imageResults := o.runPass(ctx, tracker, progress.StageProcessingEmails, "IMAGE", imageItems, &done, total)

	allText := mergeResults(pdfResults, emailResults, imageResults)

	if err := tracker.Update(ctx, progress.Update{
		Stage:    progress.StageExtractingParameters,
		Progress: 85,
		Message:  "Extracting parameters from processed content...",
	}); err != nil {
		return nil, err
	}

	params, err := o.params.ExtractParameters(ctx, allText, "")
	if err != nil {
		return nil, err
	}

	projectName := ""
	if len(batch.Emails) > 0 {
		projectName, err = o.params.ExtractProjectName(ctx, allText)
		if err != nil {
			log.Warn("Project name extraction failed: %v", err)
			projectName = ""
		}
	}

	if err := tracker.Update(ctx, progress.Update{
		Stage:    progress.StageFinalizing,
		Progress: 95,
		Message:  "Finalizing results...",
	}); err != nil {
		return nil, err
	}

	return &progress.Result{
		ExtractedText: allText,
		Params:        params,
		ProjectName:   projectName,
		Language:      detectLanguage(allText),
	}, nil
}

// runPass fans the items of one stage out over the item pool. Per-item
// updates carry the shared completion counter so progress stays within the
// 20..80 band across passes.
func (o *Orchestrator) runPass(ctx context.Context, tracker *progress.Tracker, stage progress.Stage, tag string, workItems []extract.WorkItem, done *atomic.Int64, total int) []workpool.Result[string] {
	if len(workItems) == 0 {
		return nil
	}

	label := strings.ToLower(tag)
	if tag == "PDF" {
		label = tag
	}

	items := make([]workpool.Item[extract.WorkItem], len(workItems))
	for i, wi := range workItems {
		items[i] = workpool.Item[extract.WorkItem]{Key: wi.Key(), Value: wi}
	}

	return workpool.Run(ctx, items, func(ctx context.Context, item workpool.Item[extract.WorkItem]) (string, error) {
		pct := 20 + int(float64(done.Load())/float64(total)*60)
		if err := tracker.Update(ctx, progress.Update{
			Stage:       stage,
			CurrentItem: item.Key,
			Progress:    pct,
			Message:     fmt.Sprintf("Processing %s: %s", label, item.Key),
		}); err != nil {
			log.Warn("Job %s: progress update failed: %v", tracker.JobID(), err)
		}
		return o.extractor.Process(ctx, item.Value)
	}, workpool.Options{
		MaxWorkers: o.maxItemWorkers,
		OnItemDone: func(key string, err error) {
			done.Add(1)
			if err != nil {
				if perr := tracker.PartialResult(ctx, fmt.Sprintf("%s_ERROR:%s", tag, key),
					fmt.Sprintf("Error processing %s: %v", key, err)); perr != nil {
					log.Warn("Job %s: partial result failed: %v", tracker.JobID(), perr)
				}
				return
			}
			if perr := tracker.PartialResult(ctx, fmt.Sprintf("%s_PROCESSED:%s", tag, key),
				fmt.Sprintf("Successfully processed %s", key)); perr != nil {
				log.Warn("Job %s: partial result failed: %v", tracker.JobID(), perr)
			}
		},
	})
}

// mergeResults stitches the per-item outputs back together in submission
// order. Item failures become placeholder sections instead of failing the
// job.
func mergeResults(pdfs, emails, images []workpool.Result[string]) string {
	separator := strings.Repeat("=", 50)
	var sb strings.Builder

	for _, res := range pdfs {
		if res.Err != nil {
			fmt.Fprintf(&sb, "\nError processing file %s: %v\n%s\n", res.Key, res.Err, separator)
			continue
		}
		fmt.Fprintf(&sb, "\n%s\n%s\n", res.Output, separator)
	}
	for _, res := range emails {
		if res.Err != nil {
			fmt.Fprintf(&sb, "\n\nError processing email %s: %v\n%s\n", res.Key, res.Err, separator)
			continue
		}
		fmt.Fprintf(&sb, "\n\nEMAIL FILE: %s\n%s\n%s\n", res.Key, res.Output, separator)
	}
	for _, res := range images {
		if res.Err != nil {
			fmt.Fprintf(&sb, "\n\nError processing image %s: %v\n%s\n", res.Key, res.Err, separator)
			continue
		}
		fmt.Fprintf(&sb, "\n\nIMAGE FILE: %s\n%s\n%s\n", res.Key, res.Output, separator)
	}
	return sb.String()
}

// detectLanguage reports the dominant language of the merged text as a BCP 47
// tag, defaulting to English when detection is unreliable.
func detectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return "en"
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return "en"
	}
	return language.Make(code).String()
}
