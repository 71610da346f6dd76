package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/extract"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/jobs"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/relay"
)

type stubJobService struct {
	jobID string
	err   error
	files []extract.File

	chatResponse string
	chatErr      error
	chatMessage  string
	tasks        []*jobs.Task
}

func (s *stubJobService) Submit(_ context.Context, files []extract.File) (string, error) {
	s.files = files
	if s.err != nil {
		return "", s.err
	}
	return s.jobID, nil
}

func (s *stubJobService) Chat(_ context.Context, message string, _ map[string]string, _ string) (string, error) {
	s.chatMessage = message
	if s.chatErr != nil {
		return "", s.chatErr
	}
	return s.chatResponse, nil
}

func (s *stubJobService) Tasks() []*jobs.Task {
	return s.tasks
}

func newTestServer(t *testing.T, sub jobService, store progress.Store) (*Server, *relay.Hub, *relay.Relay) {
	t.Helper()
	hub := relay.NewHub()
	rel := relay.New(store, hub)
	t.Cleanup(rel.Stop)
	return NewServer(sub, store, hub, rel), hub, rel
}

func TestSubmitJob_JSON(t *testing.T) {
	sub := &stubJobService{jobID: "job-123"}
	server, _, _ := newTestServer(t, sub, progress.NewMemoryStore())

	body := `{"files":[{"filename":"plan.pdf","content":"cGRmLWJ5dGVz"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-123", resp["job_id"])
	assert.Equal(t, "processing", resp["status"])

	require.Len(t, sub.files, 1)
	assert.Equal(t, "plan.pdf", sub.files[0].Filename)
	assert.Equal(t, []byte("pdf-bytes"), sub.files[0].Content)
}

func TestSubmitJob_Multipart(t *testing.T) {
	sub := &stubJobService{jobID: "job-456"}
	server, _, _ := newTestServer(t, sub, progress.NewMemoryStore())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "enquiry.eml")
	require.NoError(t, err)
	_, err = part.Write([]byte("raw email"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sub.files, 1)
	assert.Equal(t, "enquiry.eml", sub.files[0].Filename)
}

func TestSubmitJob_ValidationErrors(t *testing.T) {
	sub := &stubJobService{err: jobs.ErrNoSupportedFiles}
	server, _, _ := newTestServer(t, sub, progress.NewMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"files":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/jobs", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`not json`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs(t *testing.T) {
	sub := &stubJobService{tasks: []*jobs.Task{
		{ID: "job-1", Status: jobs.StatusSuccess},
		{ID: "job-2", Status: jobs.StatusFailed, Error: "boom"},
	}}
	server, _, _ := newTestServer(t, sub, progress.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Tasks []jobs.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, "job-1", resp.Tasks[0].ID)
	assert.Equal(t, jobs.StatusFailed, resp.Tasks[1].Status)
	assert.Equal(t, "boom", resp.Tasks[1].Error)
}

func TestChat(t *testing.T) {
	sub := &stubJobService{chatResponse: "The target U-value is 0.18."}
	server, _, _ := newTestServer(t, sub, progress.NewMemoryStore())

	body := `{"message":"What is the target U-value?","params":{"Target U-Value":"0.18"},"extractedText":"doc text"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "The target U-value is 0.18.", resp["response"])
	assert.Equal(t, "What is the target U-value?", sub.chatMessage)
}

func TestChat_RawCommand(t *testing.T) {
	sub := &stubJobService{}
	server, _, _ := newTestServer(t, sub, progress.NewMemoryStore())

	body := `{"message":"/raw","extractedText":"=== PDF: plan.pdf ===\nbody"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Raw extracted text:", resp["response"])
	assert.Contains(t, resp["raw_text"], "plan.pdf")
	// The command never reaches the model.
	assert.Empty(t, sub.chatMessage)
}

func TestChat_RequiresMessage(t *testing.T) {
	server, _, _ := newTestServer(t, &stubJobService{}, progress.NewMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"params":{}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetProgress(t *testing.T) {
	store := progress.NewMemoryStore()
	server, _, _ := newTestServer(t, &stubJobService{}, store)

	require.NoError(t, store.UpdateProgress(context.Background(), "job-1", progress.Update{
		Stage:    progress.StageProcessingPDFs,
		Progress: 40,
		Message:  "Processing PDF: plan.pdf",
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/progress", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var job progress.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, progress.StageProcessingPDFs, job.Stage)
	assert.Equal(t, 40, job.Progress)
}

func TestGetProgress_NotFound(t *testing.T) {
	server, _, _ := newTestServer(t, &stubJobService{}, progress.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing/progress", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStream_ReplaysAndTerminates(t *testing.T) {
	store := progress.NewMemoryStore()
	server, _, _ := newTestServer(t, &stubJobService{}, store)

	ctx := context.Background()
	require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{Stage: progress.StageProcessing, Progress: 10}))
	require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{Stage: progress.StageFinalizing, Progress: 95}))
	require.NoError(t, store.UpdateProgress(ctx, "job-1", progress.Update{Stage: progress.StageCompleted, Progress: 100}))

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/jobs/job-1/stream?after=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The handler returns after the terminal entry, so the body is finite.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.NotContains(t, text, "id: 1\n")
	assert.Contains(t, text, "id: 2\n")
	assert.Contains(t, text, "id: 3\n")
	assert.Contains(t, text, `"stage":"completed"`)
}

func TestStream_UnknownJob(t *testing.T) {
	server, _, _ := newTestServer(t, &stubJobService{}, progress.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing/stream", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportExcel(t *testing.T) {
	server, _, _ := newTestServer(t, &stubJobService{}, progress.NewMemoryStore())

	payload := map[string]any{
		"params":       map[string]string{"Email Subject": "Unit 4", "Company": "Acme"},
		"project_name": "Riverside Park",
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/export/excel", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "parameters.xlsx")
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestExportExcel_RequiresParams(t *testing.T) {
	server, _, _ := newTestServer(t, &stubJobService{}, progress.NewMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/api/export/excel", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocket_JoinReceivesStreamEntries(t *testing.T) {
	store := progress.NewMemoryStore()
	server, _, _ := newTestServer(t, &stubJobService{}, store)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "join", "job_id": "job-1"}))

	var ack wsMessage
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "status", ack.Type)
	assert.Equal(t, "job-1", ack.JobID)

	require.NoError(t, store.UpdateProgress(context.Background(), "job-1", progress.Update{
		Stage:    progress.StageProcessing,
		Progress: 10,
		Message:  "Starting to process 1 files...",
	}))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var entry wsMessage
	require.NoError(t, conn.ReadJSON(&entry))
	assert.Equal(t, "stream_entry", entry.Type)
	assert.Equal(t, "job-1", entry.JobID)
	assert.Equal(t, "processing", entry.Fields["stage"])

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "leave", "job_id": "job-1"}))
	var left wsMessage
	require.NoError(t, conn.ReadJSON(&left))
	assert.Equal(t, "status", left.Type)
}

func TestWebSocket_UnknownAction(t *testing.T) {
	store := progress.NewMemoryStore()
	server, _, _ := newTestServer(t, &stubJobService{}, store)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "dance"}))
	var resp wsMessage
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp.Type)
}
