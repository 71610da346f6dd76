package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/export"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/extract"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/jobs"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
)

type submitFileRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type submitJobRequest struct {
	Files []submitFileRequest `json:"files"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleListJobs exposes the background task records so operators can spot
// failed executions.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": s.orch.Tasks(),
	})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	files, err := s.readUploadedFiles(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.orch.Submit(r.Context(), files)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNoFiles), errors.Is(err, jobs.ErrNoSupportedFiles):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"status": "processing",
	})
}

// readUploadedFiles accepts either a multipart form with "files" parts or a
// JSON body with base64 contents.
func (s *Server) readUploadedFiles(r *http.Request) ([]extract.File, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "application/json") {
		var req submitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid json body")
		}
		files := make([]extract.File, 0, len(req.Files))
		for _, f := range req.Files {
			content, err := base64.StdEncoding.DecodeString(f.Content)
			if err != nil {
				return nil, fmt.Errorf("invalid base64 content for %s", f.Filename)
			}
			files = append(files, extract.File{Filename: f.Filename, Content: content})
		}
		return files, nil
	}

	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart body")
	}
	if r.MultipartForm == nil {
		return nil, fmt.Errorf("no files provided")
	}

	var files []extract.File
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			part, err := header.Open()
			if err != nil {
				return nil, fmt.Errorf("read upload %s", header.Filename)
			}
			content, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return nil, fmt.Errorf("read upload %s", header.Filename)
			}
			files = append(files, extract.File{Filename: header.Filename, Content: content})
		}
	}
	return files, nil
}

// handleJobSubresource dispatches /api/jobs/{id}/progress and
// /api/jobs/{id}/stream.
func (s *Server) handleJobSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	jobID, sub, ok := strings.Cut(rest, "/")
	if !ok || jobID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch sub {
	case "progress":
		s.handleProgress(w, r, jobID)
	case "stream":
		s.handleStream(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	job, err := s.store.GetProgress(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, progress.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type chatRequest struct {
	Message       string            `json:"message"`
	Params        map[string]string `json:"params"`
	ExtractedText string            `json:"extractedText"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "no message provided")
		return
	}

	// Shortcut command that dumps the raw text without a model round trip.
	if strings.EqualFold(message, "/raw") && req.ExtractedText != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"response": "Raw extracted text:",
			"raw_text": req.ExtractedText,
		})
		return
	}

	response, err := s.orch.Chat(r.Context(), req.Message, req.Params, req.ExtractedText)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": response})
}

type exportRequest struct {
	Params      map[string]string `json:"params"`
	ProjectName string            `json:"project_name"`
}

func (s *Server) handleExportExcel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(req.Params) == 0 {
		writeError(w, http.StatusBadRequest, "params is required")
		return
	}

	data, err := export.ParamsWorkbook(jobs.ParameterNames, req.Params, req.ProjectName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="parameters.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
