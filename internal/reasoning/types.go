package reasoning

import (
	"context"
	"encoding/base64"
	"fmt"
)

// Service is the narrow contract to the external reasoning model: one
// generate call over a list of typed parts. Implementations may fail with a
// rate-limit-classified error (the only retryable class) or any other error.
type Service interface {
	Generate(ctx context.Context, model string, parts []Part) (string, error)
}

// Part is one piece of a generate request: either plain text or raw bytes
// with a MIME type (PDF pages, images, opaque documents).
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// TextPart builds a text-only part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// BytesPart builds a binary part with the given MIME type.
func BytesPart(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// generateRequest mirrors the generateContent wire format.
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
	Error      *APIError   `json:"error,omitempty"`
}

type candidate struct {
	Content content `json:"content"`
}

// APIError represents an error returned by the reasoning API
//
// Code: HTTP-style status code
// Status: Symbolic status (e.g. RESOURCE_EXHAUSTED)
// Message: Human-readable message
type APIError struct {
	Code    int    `json:"code"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reasoning API error: %s (code: %d, status: %s)", e.Message, e.Code, e.Status)
}

func toWireParts(parts []Part) []wirePart {
	ret := make([]wirePart, 0, len(parts))
	for _, p := range parts {
		if p.Data != nil {
			ret = append(ret, wirePart{
				InlineData: &inlineData{
					MIMEType: p.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(p.Data),
				},
			})
			continue
		}
		ret = append(ret, wirePart{Text: p.Text})
	}
	return ret
}
