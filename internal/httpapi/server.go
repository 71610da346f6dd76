package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/extract"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/jobs"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/relay"
)

// jobService is the background-processing surface the handlers call into.
type jobService interface {
	Submit(ctx context.Context, files []extract.File) (string, error)
	Chat(ctx context.Context, message string, params map[string]string, extractedText string) (string, error)
	Tasks() []*jobs.Task
}

type Server struct {
	orch  jobService
	store progress.Store
	hub   *relay.Hub
	relay *relay.Relay

	maxUploadBytes int64

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithMaxUploadBytes caps the accepted multipart payload size.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		s.maxUploadBytes = n
	}
}

func NewServer(orch jobService, store progress.Store, hub *relay.Hub, rel *relay.Relay, opts ...Option) *Server {
	s := &Server{
		orch:           orch,
		store:          store,
		hub:            hub,
		relay:          rel,
		maxUploadBytes: 256 << 20,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobSubresource)
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/ws", s.handleWebSocket)
	s.mux.HandleFunc("/api/export/excel", s.handleExportExcel)
	s.mux.HandleFunc("/api/health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
