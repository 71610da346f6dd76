package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/reasoning"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

const (
	pdfPrompt = "Please extract all text content from this PDF document, " +
		"including text from tables, diagrams, and charts."
	imagePrompt = "Describe this image in detail, including any visible text, " +
		"diagrams, or drawings. Extract any technical parameters or specifications you can see."
	msgPrompt = "Extract all text content from this Outlook email message, " +
		"including the header fields (From, To, Subject, Date) and the full body."
)

// Extractor converts work items into extracted text through the reasoning
// service. All calls go through the rate-limited, retrying Service.
type Extractor struct {
	svc        reasoning.Service
	model      string
	batchModel string
}

func NewExtractor(svc reasoning.Service, model, batchModel string) *Extractor {
	if batchModel == "" {
		batchModel = model
	}
	return &Extractor{svc: svc, model: model, batchModel: batchModel}
}

// Process extracts text from one work item. The returned string is already
// formatted for merged output; the error is terminal for the item only.
func (e *Extractor) Process(ctx context.Context, item WorkItem) (string, error) {
	switch item.Kind {
	case KindPDF:
		return e.processPDF(ctx, item.Content, item.Filename)
	case KindPDFBatch:
		return e.processPDFBatch(ctx, item.Files)
	case KindEmail:
		return e.processEmail(ctx, item.Content, item.Filename)
	case KindImage:
		return e.processImage(ctx, item.Content, item.Filename, "ATTACHMENT")
	default:
		return "", fmt.Errorf("unknown work item kind: %s", item.Kind)
	}
}

func (e *Extractor) processPDF(ctx context.Context, content []byte, filename string) (string, error) {
	text, err := e.svc.Generate(ctx, e.model, []reasoning.Part{
		reasoning.BytesPart("application/pdf", content),
		reasoning.TextPart(pdfPrompt),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("=== PDF: %s ===\n%s\n", filename, text), nil
}

// processPDFBatch sends every PDF of a small batch in one combined call to
// cut external-call overhead.
func (e *Extractor) processPDFBatch(ctx context.Context, files []File) (string, error) {
	parts := make([]reasoning.Part, 0, len(files)+1)
	names := make([]string, 0, len(files))
	for _, f := range files {
		parts = append(parts, reasoning.BytesPart("application/pdf", f.Content))
		names = append(names, f.Filename)
	}
	parts = append(parts, reasoning.TextPart(fmt.Sprintf(
		"Please extract all text content from these %d PDF documents: %s. "+
			"Including text from tables, diagrams, and charts. "+
			"For each document, start with '=== PDF: [filename] ===' header and then provide the extracted content.",
		len(files), strings.Join(names, ", "),
	)))

	log.Info("Processing %d PDFs in single batch call", len(files))
	return e.svc.Generate(ctx, e.batchModel, parts)
}

func (e *Extractor) processImage(ctx context.Context, content []byte, filename, imageType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	mimeType, ok := imageMIMETypes[ext]
	if !ok {
		return fmt.Sprintf("Unsupported image format: %s", ext), nil
	}

	text, err := e.svc.Generate(ctx, e.model, []reasoning.Part{
		reasoning.BytesPart(mimeType, content),
		reasoning.TextPart(imagePrompt),
	})
	if err != nil {
		return "", fmt.Errorf("process %s image %s: %w", strings.ToLower(imageType), filename, err)
	}
	return text, nil
}
