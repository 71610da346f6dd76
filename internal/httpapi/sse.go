package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
)

const streamReadWait = time.Second

// handleStream serves a job's event log over SSE: replay from the requested
// offset first, then a live tail until the job reaches a terminal stage or
// the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	after := uint64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after offset")
			return
		}
		after = parsed
	}

	if _, err := s.store.GetProgress(r.Context(), jobID); err != nil {
		if errors.Is(err, progress.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(entry progress.StreamEntry) bool {
		payload, err := json.Marshal(entry.Fields)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", entry.ID, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for {
		entries, err := s.store.ReadStreamWait(r.Context(), jobID, after, streamReadWait)
		if err != nil {
			// Expired mid-stream or client gone.
			return
		}

		terminal := false
		for _, entry := range entries {
			if !send(entry) {
				return
			}
			after = entry.ID
			stage := progress.Stage(entry.Fields["stage"])
			if stage.Terminal() {
				terminal = true
			}
		}
		if terminal {
			return
		}

		select {
		case <-r.Context().Done():
			return
		default:
		}
	}
}
