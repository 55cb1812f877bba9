package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelson-gpt/backend/internal/audit"
	"github.com/nelson-gpt/backend/internal/classifier"
	"github.com/nelson-gpt/backend/internal/diagnostic"
	"github.com/nelson-gpt/backend/internal/llm"
	"github.com/nelson-gpt/backend/internal/retrieval"
	"github.com/nelson-gpt/backend/internal/safety"
	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/internal/storage/sqlite"
)

type fakeWorkflow struct {
	calls  int
	last   diagnostic.Input
	result *diagnostic.Result
	err    error
}

func (f *fakeWorkflow) Run(_ context.Context, in diagnostic.Input) (*diagnostic.Result, error) {
	f.calls++
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type brokenClassifier struct{}

func (brokenClassifier) Classify(context.Context, classifier.Input) (classifier.Classification, error) {
	return classifier.Classification{}, errors.New("router offline")
}

type downLLM struct{}

func (downLLM) Complete(context.Context, llm.Request) llm.Completion {
	return llm.Completion{Text: llm.FallbackAnswer, Fallback: true}
}

type noEmbedder struct{}

func (noEmbedder) Embed(context.Context, string) []float32 { return nil }

type noSearch struct{}

func (noSearch) Search(context.Context, []float32, string, int) []retrieval.Passage {
	return []retrieval.Passage{}
}

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	store, err := sqlite.NewClient(":memory:", 0, 0)
	require.NoError(t, err)
	require.NoError(t, store.InitSchema(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func newEngine(store *sqlite.Client, wf Workflow) *Engine {
	recorder := audit.NewRecorder(store)
	return NewEngine(store, classifier.New(0, recorder), safety.NewScreener(store, recorder), wf)
}

func workflowResult() *diagnostic.Result {
	return &diagnostic.Result{
		Answer:     "## Medical Assessment\nViral illness.",
		Confidence: 0.72,
		Citations:  []models.Citation{{Source: "Nelson Textbook of Pediatrics", Chapter: "Fever", Page: 12, Relevance: 0.9}},
		ReasoningSteps: []models.ReasoningStep{
			{Step: "symptom_analysis", Result: "fever", Confidence: 0.7, Timestamp: time.Now()},
		},
		SafetyFlags:    []string{"watch hydration"},
		ContextUpdates: map[string]any{"last_diagnosis": "Viral URI"},
		WorkflowID:     "wf-1",
	}
}

func TestEmergencyRoutesToSafetyScreener(t *testing.T) {
	store := newStore(t)
	wf := &fakeWorkflow{result: workflowResult()}
	e := newEngine(store, wf)
	ctx := context.Background()

	resp, err := e.ProcessQuery(ctx, Request{
		Message: "My 2-year-old has a fever of 104 and won't wake up",
		UserID:  "parent-1",
	})
	require.NoError(t, err)

	assert.Zero(t, wf.calls)
	assert.Equal(t, models.UrgencyEmergency, resp.UrgencyLevel)
	assert.Equal(t, models.WorkflowEmergency, resp.WorkflowType)
	assert.Equal(t, 1.0, resp.Confidence)
	assert.Contains(t, resp.Answer, "911")
	assert.Empty(t, resp.Citations)
	assert.Contains(t, resp.SafetyFlags, "neurological_emergency")
	require.NotEmpty(t, resp.SafetyAlerts)
	for _, a := range resp.SafetyAlerts {
		assert.Equal(t, models.UrgencyEmergency, a.Type)
	}
	require.NotEmpty(t, resp.SessionID)

	q, err := store.GetQuery(ctx, resp.QueryID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, q.DiagnosticStage)
	assert.Equal(t, models.UrgencyEmergency, q.UrgencyLevel)
	require.NotNil(t, q.Answer)
	assert.Equal(t, resp.Answer, *q.Answer)

	alerts, err := store.ListSafetyAlerts(ctx, resp.SessionID)
	require.NoError(t, err)
	categories := make([]string, 0, len(alerts))
	for _, a := range alerts {
		categories = append(categories, a.Category)
	}
	assert.Contains(t, categories, classifierAlertCategory)
	assert.Contains(t, categories, "neurological_emergency")

	s, err := store.GetSession(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.UrgencyEmergency, s.RiskLevel)
	assert.Equal(t, "critical", s.MedicalContext["last_risk_assessment"])
}

func TestRoutineQueryRunsFullWorkflowSessionless(t *testing.T) {
	store := newStore(t)
	wf := diagnostic.NewEngine(downLLM{}, noEmbedder{}, noSearch{}, store, diagnostic.Options{})
	e := newEngine(store, wf)

	resp, err := e.ProcessQuery(context.Background(), Request{Message: "mild cough for two days"})
	require.NoError(t, err)

	assert.Empty(t, resp.SessionID)
	assert.Equal(t, models.UrgencyRoutine, resp.UrgencyLevel)
	assert.Equal(t, "respiratory", resp.MedicalSpecialty)
	assert.Equal(t, models.WorkflowSpecialty, resp.WorkflowType)
	assert.Len(t, resp.ReasoningSteps, len(diagnostic.Steps))
	assert.InDelta(t, 0.5, resp.Confidence, 1e-9)
	assert.Empty(t, resp.SafetyAlerts)
	assert.True(t, strings.HasPrefix(resp.Answer, "## Medical Assessment"))

	q, err := store.GetQuery(context.Background(), resp.QueryID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, q.DiagnosticStage)
	assert.Nil(t, q.SessionID)
	assert.Equal(t, 1, q.ComplexityScore)
}

func TestWorkflowResultMergedIntoSession(t *testing.T) {
	store := newStore(t)
	wf := &fakeWorkflow{result: workflowResult()}
	e := newEngine(store, wf)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ID:             "s1",
		UserSub:        "parent-1",
		MedicalContext: map[string]any{"allergies": "none"},
		StartedAt:      time.Now(),
	}))

	resp, err := e.ProcessQuery(ctx, Request{Message: "She has had a fever since yesterday", SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, 1, wf.calls)
	assert.Equal(t, "none", wf.last.MedicalContext["allergies"])
	assert.Equal(t, resp.QueryID, wf.last.QueryID)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, models.UrgencyUrgent, resp.UrgencyLevel)
	assert.Equal(t, 0.72, resp.Confidence)
	assert.Len(t, resp.Citations, 1)

	s, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Viral URI", s.MedicalContext["last_diagnosis"])
	assert.Equal(t, "none", s.MedicalContext["allergies"])
	assert.Equal(t, models.UrgencyUrgent, s.RiskLevel)
	require.NotNil(t, s.SpecialtyFocus)
	assert.Equal(t, "infectious_disease", *s.SpecialtyFocus)
}

func TestWorkflowFailureMarksQueryError(t *testing.T) {
	store := newStore(t)
	e := newEngine(store, &fakeWorkflow{err: errors.New("insert failed")})

	resp, err := e.ProcessQuery(context.Background(), Request{Message: "rash on his arms"})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, ErrorAnswer, resp.Answer)

	q, err := store.GetQuery(context.Background(), resp.QueryID)
	require.NoError(t, err)
	assert.Equal(t, models.StageError, q.DiagnosticStage)
	assert.Nil(t, q.Answer)
}

func TestClassifierFailureStopsPipeline(t *testing.T) {
	store := newStore(t)
	wf := &fakeWorkflow{result: workflowResult()}
	e := NewEngine(store, brokenClassifier{}, safety.NewScreener(store, nil), wf)

	resp, err := e.ProcessQuery(context.Background(), Request{Message: "cough"})
	require.Error(t, err)
	assert.Equal(t, ErrorAnswer, resp.Answer)
	assert.Zero(t, wf.calls)

	q, err := store.GetQuery(context.Background(), resp.QueryID)
	require.NoError(t, err)
	assert.Equal(t, models.StageError, q.DiagnosticStage)
}

func TestEmptyMessageIsProcessed(t *testing.T) {
	store := newStore(t)
	wf := &fakeWorkflow{result: workflowResult()}
	e := newEngine(store, wf)

	resp, err := e.ProcessQuery(context.Background(), Request{Message: ""})
	require.NoError(t, err)
	assert.Equal(t, 1, wf.calls)
	assert.Equal(t, models.UrgencyRoutine, resp.UrgencyLevel)
	assert.Equal(t, models.SpecialtyGeneral, resp.MedicalSpecialty)

	q, err := store.GetQuery(context.Background(), resp.QueryID)
	require.NoError(t, err)
	assert.Equal(t, "", q.UserQuestion)
	assert.Equal(t, models.StageCompleted, q.DiagnosticStage)
}

func TestSessionResolution(t *testing.T) {
	store := newStore(t)
	e := newEngine(store, &fakeWorkflow{result: workflowResult()})
	ctx := context.Background()

	resp, err := e.ProcessQuery(ctx, Request{Message: "cough", SessionID: "ghost"})
	require.NoError(t, err)
	assert.Empty(t, resp.SessionID)
	_, err = store.GetSession(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)

	resp, err = e.ProcessQuery(ctx, Request{Message: "cough", SessionID: "named", UserID: "parent-2"})
	require.NoError(t, err)
	assert.Equal(t, "named", resp.SessionID)
	s, err := store.GetSession(ctx, "named")
	require.NoError(t, err)
	assert.Equal(t, "parent-2", s.UserSub)

	resp, err = e.ProcessQuery(ctx, Request{Message: "cough again", SessionID: "named", UserID: "parent-2"})
	require.NoError(t, err)
	assert.Equal(t, "named", resp.SessionID)

	history, err := e.History(ctx, "named", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "cough again", history[0].UserQuestion)
}

func TestHistoryUnknownSession(t *testing.T) {
	e := newEngine(newStore(t), &fakeWorkflow{})

	_, err := e.History(context.Background(), "nope", 5)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
