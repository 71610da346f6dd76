package extract

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind tags one unit of fan-out work.
type Kind string

const (
	KindPDF      Kind = "pdf"
	KindPDFBatch Kind = "pdf_batch"
	KindEmail    Kind = "email"
	KindImage    Kind = "image"
)

// File is one uploaded payload.
type File struct {
	Filename string
	Content  []byte
}

// WorkItem is one immutable unit of extraction work: a single document, or a
// small batch of same-type documents for KindPDFBatch.
type WorkItem struct {
	Kind     Kind
	Filename string
	Content  []byte
	// Files is set for KindPDFBatch only.
	Files []File
}

// Key returns the ordering key used for result aggregation.
func (w WorkItem) Key() string {
	if w.Kind == KindPDFBatch {
		return fmt.Sprintf("batch_of_%d_files", len(w.Files))
	}
	return w.Filename
}

// Batching policy: combine PDFs into one call only for small batches.
const (
	maxBatchBytes = 100 * 1024 * 1024
	maxBatchFiles = 3
)

var imageMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// AllowedFile reports whether the upload has a supported extension.
func AllowedFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".eml", ".msg":
		return true
	}
	_, ok := imageMIMETypes[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Batch groups the typed work items for one submitted job, split by kind
// with the original submission order preserved inside each group.
type Batch struct {
	PDFs   []File
	Emails []File
	Images []File
}

// SplitFiles partitions an upload batch by type. Files with disallowed
// extensions are skipped.
func SplitFiles(files []File) Batch {
	var batch Batch
	for _, f := range files {
		if !AllowedFile(f.Filename) {
			continue
		}
		switch strings.ToLower(filepath.Ext(f.Filename)) {
		case ".pdf":
			batch.PDFs = append(batch.PDFs, f)
		case ".eml", ".msg":
			batch.Emails = append(batch.Emails, f)
		default:
			batch.Images = append(batch.Images, f)
		}
	}
	return batch
}

// ShouldBatchPDFs decides whether multiple PDFs go out as one combined
// reasoning call: more than one file, at most three, and at most 100MB
// combined.
func ShouldBatchPDFs(files []File) bool {
	if len(files) <= 1 || len(files) > maxBatchFiles {
		return false
	}
	total := 0
	for _, f := range files {
		total += len(f.Content)
	}
	return total <= maxBatchBytes
}

// PDFWorkItems turns the PDF group into work items according to the
// batching policy.
func PDFWorkItems(files []File) []WorkItem {
	if len(files) == 0 {
		return nil
	}
	if ShouldBatchPDFs(files) {
		return []WorkItem{{Kind: KindPDFBatch, Files: files}}
	}
	items := make([]WorkItem, 0, len(files))
	for _, f := range files {
		items = append(items, WorkItem{Kind: KindPDF, Filename: f.Filename, Content: f.Content})
	}
	return items
}

// EmailWorkItems turns the email group into work items.
func EmailWorkItems(files []File) []WorkItem {
	items := make([]WorkItem, 0, len(files))
	for _, f := range files {
		items = append(items, WorkItem{Kind: KindEmail, Filename: f.Filename, Content: f.Content})
	}
	return items
}

// ImageWorkItems turns the image group into work items.
func ImageWorkItems(files []File) []WorkItem {
	items := make([]WorkItem, 0, len(files))
	for _, f := range files {
		items = append(items, WorkItem{Kind: KindImage, Filename: f.Filename, Content: f.Content})
	}
	return items
}
