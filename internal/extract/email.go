package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path/filepath"
	"strings"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/reasoning"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

// maxVisualItems bounds how many attachments go to the reasoning service
// per email to avoid burning the shared quota on one message.
const maxVisualItems = 10

type parsedEmail struct {
	Header       string
	Body         string
	Attachments  []File
	InlineImages []File
}

// HeaderAndBody parses an .eml payload and returns the formatted header and
// plain-text body.
func HeaderAndBody(content []byte) (string, string, error) {
	parsed, err := parseEML(content)
	if err != nil {
		return "", "", err
	}
	return parsed.Header, parsed.Body, nil
}

func (e *Extractor) processEmail(ctx context.Context, content []byte, filename string) (string, error) {
	if strings.EqualFold(filepath.Ext(filename), ".msg") {
		// Outlook container format; handed to the reasoning service as an
		// opaque document.
		return e.svc.Generate(ctx, e.model, []reasoning.Part{
			reasoning.BytesPart("application/vnd.ms-outlook", content),
			reasoning.TextPart(msgPrompt),
		})
	}

	parsed, err := parseEML(content)
	if err != nil {
		return "", fmt.Errorf("parse email %s: %w", filename, err)
	}

	return e.combineEmailText(ctx, parsed), nil
}

// combineEmailText assembles the email text plus the extracted content of
// its visual attachments into one string. Attachment failures degrade to
// notes in the output instead of failing the whole email.
func (e *Extractor) combineEmailText(ctx context.Context, parsed parsedEmail) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "EMAIL CONTENT:\n%s\n%s\n\n", parsed.Header, parsed.Body)

	type visualItem struct {
		kind string
		file File
	}
	var visuals []visualItem

	for _, att := range parsed.Attachments {
		lower := strings.ToLower(att.Filename)
		switch {
		case strings.HasSuffix(lower, ".pdf"):
			visuals = append(visuals, visualItem{"pdf", att})
		case isImageName(lower):
			visuals = append(visuals, visualItem{"image", att})
		default:
			fmt.Fprintf(&sb, "\nATTACHMENT (%s) [Not processed - not a PDF or image]\n\n", att.Filename)
		}
	}
	for _, img := range parsed.InlineImages {
		visuals = append(visuals, visualItem{"inline", img})
	}

	processed := visuals
	if len(visuals) > maxVisualItems {
		processed = visuals[:maxVisualItems]
		sb.WriteString("\nNOTE: Some visual elements were not processed due to API rate limits:\n")
		for _, item := range visuals[maxVisualItems:] {
			fmt.Fprintf(&sb, "- %s: %s\n", strings.ToUpper(item.kind), item.file.Filename)
		}
		sb.WriteString("\n")
	}

	for _, item := range processed {
		switch item.kind {
		case "pdf":
			text, err := e.processPDF(ctx, item.file.Content, item.file.Filename)
			if err != nil {
				log.Error("Error processing PDF attachment %s: %v", item.file.Filename, err)
				fmt.Fprintf(&sb, "\nPDF ATTACHMENT (%s): Error extracting content: %v\n\n", item.file.Filename, err)
				continue
			}
			fmt.Fprintf(&sb, "\nPDF ATTACHMENT (%s):\n%s\n\n", item.file.Filename, text)
		case "inline":
			text, err := e.processImage(ctx, item.file.Content, item.file.Filename, "INLINE IMAGE")
			if err != nil {
				log.Error("Error processing inline image %s: %v", item.file.Filename, err)
				fmt.Fprintf(&sb, "\nINLINE IMAGE (%s): Error extracting content: %v\n\n", item.file.Filename, err)
				continue
			}
			fmt.Fprintf(&sb, "\nINLINE IMAGE (%s):\n%s\n\n", item.file.Filename, text)
		case "image":
			text, err := e.processImage(ctx, item.file.Content, item.file.Filename, "ATTACHMENT")
			if err != nil {
				log.Error("Error processing image attachment %s: %v", item.file.Filename, err)
				fmt.Fprintf(&sb, "\nIMAGE ATTACHMENT (%s): Error extracting content: %v\n\n", item.file.Filename, err)
				continue
			}
			fmt.Fprintf(&sb, "\nIMAGE ATTACHMENT (%s):\n%s\n\n", item.file.Filename, text)
		}
	}

	return sb.String()
}

func parseEML(content []byte) (parsedEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(content))
	if err != nil {
		return parsedEmail{}, err
	}

	header := fmt.Sprintf("From: %s\nTo: %s\nSubject: %s\nDate: %s\n",
		msg.Header.Get("From"),
		msg.Header.Get("To"),
		msg.Header.Get("Subject"),
		msg.Header.Get("Date"),
	)

	parsed := parsedEmail{Header: header}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		body, readErr := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if readErr != nil {
			return parsedEmail{}, readErr
		}
		parsed.Body = body
		return parsed, nil
	}

	if err := walkMultipart(multipart.NewReader(msg.Body, params["boundary"]), &parsed); err != nil {
		return parsedEmail{}, err
	}
	return parsed, nil
}

func walkMultipart(reader *multipart.Reader, parsed *parsedEmail) error {
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		mediaType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if strings.HasPrefix(mediaType, "multipart/") {
			if err := walkMultipart(multipart.NewReader(part, params["boundary"]), parsed); err != nil {
				return err
			}
			continue
		}

		filename := part.FileName()
		if filename == "" {
			if mediaType == "text/plain" {
				body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
				if err != nil {
					return err
				}
				if parsed.Body != "" {
					parsed.Body += "\n"
				}
				parsed.Body += body
			}
			continue
		}

		data, err := decodeBytes(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return err
		}

		file := File{Filename: filename, Content: data}
		// Images carrying a Content-ID are referenced from the HTML body.
		if strings.HasPrefix(mediaType, "image/") && part.Header.Get("Content-ID") != "" {
			parsed.InlineImages = append(parsed.InlineImages, file)
			continue
		}
		parsed.Attachments = append(parsed.Attachments, file)
	}
}

func decodeBody(r io.Reader, encoding string) (string, error) {
	data, err := decodeBytes(r, encoding)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeBytes(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, newLineStripper(r)))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// lineStripper removes CR/LF so wrapped base64 payloads decode cleanly.
type lineStripper struct {
	r io.Reader
}

func newLineStripper(r io.Reader) io.Reader {
	return &lineStripper{r: r}
}

func (l *lineStripper) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if n == 0 {
		return n, err
	}
	kept := 0
	for _, b := range p[:n] {
		if b == '\r' || b == '\n' {
			continue
		}
		p[kept] = b
		kept++
	}
	return kept, err
}

func isImageName(lower string) bool {
	_, ok := imageMIMETypes[filepath.Ext(lower)]
	return ok
}
