package jobs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/extract"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/reasoning"
)

type recordingService struct {
	model    string
	parts    []reasoning.Part
	response string
	err      error
	calls    int
}

func (r *recordingService) Generate(_ context.Context, model string, parts []reasoning.Part) (string, error) {
	r.calls++
	r.model = model
	r.parts = parts
	if r.err != nil {
		return "", r.err
	}
	return r.response, nil
}

func newChatOrchestrator(svc reasoning.Service) *Orchestrator {
	return NewOrchestrator(NewQueue(1), progress.NewMemoryStore(),
		extract.NewExtractor(svc, "gemini-2.5-flash", "gemini-2.5-flash"),
		svc, "gemini-2.5-flash", 1)
}

func TestChat_WithoutParamsAsksToProcessFirst(t *testing.T) {
	svc := &recordingService{}
	orch := newChatOrchestrator(svc)

	response, err := orch.Chat(context.Background(), "what is the fall?", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "Please process files first to extract parameters.", response)
	assert.Zero(t, svc.calls)
}

func TestChat_BuildsGroundedContext(t *testing.T) {
	svc := &recordingService{response: "1:60 as specified."}
	orch := newChatOrchestrator(svc)

	params := map[string]string{
		"Company":         "Acme Roofing",
		"Post Code":       "SW",
		"Fall of Tapered": "1:60",
		"Site Contact":    "J. Doe",
	}
	response, err := orch.Chat(context.Background(), "what is the fall?", params, "raw doc text")
	require.NoError(t, err)
	assert.Equal(t, "1:60 as specified.", response)
	assert.Equal(t, "gemini-2.5-flash", svc.model)

	require.Len(t, svc.parts, 2)
	system := svc.parts[0].Text
	assert.Contains(t, system, "roofing-design assistant")
	assert.Contains(t, system, "• **Post Code**: SW")
	assert.Contains(t, system, "• **Company**: Acme Roofing")
	assert.Contains(t, system, "• **Site Contact**: J. Doe")
	assert.Contains(t, system, "Raw extracted text from documents:\nraw doc text")
	assert.Equal(t, "what is the fall?", svc.parts[1].Text)

	// Known parameters keep their canonical order ahead of extras.
	assert.Less(t, strings.Index(system, "Post Code"), strings.Index(system, "Company"))
	assert.Less(t, strings.Index(system, "Fall of Tapered"), strings.Index(system, "Site Contact"))
}

func TestChat_PropagatesServiceError(t *testing.T) {
	svc := &recordingService{err: assert.AnError}
	orch := newChatOrchestrator(svc)

	_, err := orch.Chat(context.Background(), "question", map[string]string{"Company": "Acme"}, "")
	assert.ErrorIs(t, err, assert.AnError)
}
