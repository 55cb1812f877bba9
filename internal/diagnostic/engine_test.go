package diagnostic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelson-gpt/backend/internal/classifier"
	"github.com/nelson-gpt/backend/internal/llm"
	"github.com/nelson-gpt/backend/internal/retrieval"
	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/internal/storage/sqlite"
)

type scriptedLLM struct {
	replies []llm.Completion
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) llm.Completion {
	s.prompts = append(s.prompts, req.UserPrompt)
	if len(s.prompts) > len(s.replies) {
		return llm.Completion{Text: llm.FallbackAnswer, Fallback: true}
	}
	return s.replies[len(s.prompts)-1]
}

func reply(text string) llm.Completion {
	return llm.Completion{Text: text, Provider: "mistral"}
}

type fixedEmbedder struct {
	vector []float32
	texts  []string
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) []float32 {
	f.texts = append(f.texts, text)
	return f.vector
}

type recordingSearcher struct {
	calls    int
	keyword  string
	topK     int
	passages []retrieval.Passage
}

func (r *recordingSearcher) Search(_ context.Context, _ []float32, keyword string, topK int) []retrieval.Passage {
	r.calls++
	r.keyword = keyword
	r.topK = topK
	return r.passages
}

type flakyStore struct {
	insertErr error
	updateErr error
	updates   int
	progress  []models.WorkflowProgress
}

func (f *flakyStore) InsertWorkflow(context.Context, *models.DiagnosticWorkflow) error {
	return f.insertErr
}

func (f *flakyStore) UpdateWorkflowProgress(_ context.Context, _ string, p models.WorkflowProgress) error {
	f.updates++
	p.CompletedSteps = append([]string(nil), p.CompletedSteps...)
	f.progress = append(f.progress, p)
	return f.updateErr
}

func newStore(t *testing.T, queryID string) *sqlite.Client {
	t.Helper()
	db, err := sqlite.NewClient(":memory:", 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.InitSchema(ctx))
	require.NoError(t, db.InsertQuery(ctx, &models.Query{ID: queryID, UserQuestion: "cough", CreatedAt: time.Now()}))
	return db
}

func respiratoryInput(queryID string) Input {
	return Input{
		Message: "My son has a cough and fever",
		QueryID: queryID,
		Classification: classifier.Classification{
			UrgencyLevel:     models.UrgencyUrgent,
			MedicalSpecialty: "respiratory",
			ComplexityScore:  2,
			WorkflowType:     models.WorkflowSpecialty,
		},
		MedicalContext: map[string]any{"allergies": "none"},
	}
}

func structuredReplies() []llm.Completion {
	return []llm.Completion{
		reply(`{"symptoms": ["cough", "fever"], "duration": "2 days", "confidence": 0.9}`),
		reply("```json\n{\"assessment\": \"Likely viral URI\", \"confidence\": 0.8}\n```"),
		reply(`{"diagnoses": [{"diagnosis": "Viral URI", "likelihood": 70}, {"name": "Pneumonia", "likelihood": 0.2}], "confidence": 0.75}`),
		reply(`{"evaluation": "Consistent with URI", "top_diagnosis": "Viral URI", "confidence": 85}`),
		reply(`{"recommendations": "Fluids and rest", "safety_concerns": ["avoid aspirin"], "confidence": 0.8}`),
		reply(`{"guidance": "Recheck in 48 hours", "confidence": 0.9}`),
	}
}

func TestRunStructuredWorkflow(t *testing.T) {
	db := newStore(t, "q1")
	model := &scriptedLLM{replies: structuredReplies()}
	embedder := &fixedEmbedder{vector: []float32{1, 0}}
	searcher := &recordingSearcher{passages: []retrieval.Passage{
		{Text: strings.Repeat("a", 250), BookTitle: "Nelson Textbook of Pediatrics", ChapterTitle: "Cough", PageNumber: 2201, Similarity: 0.92},
		{Text: "Fever in children", BookTitle: "Nelson Textbook of Pediatrics", ChapterTitle: "Fever", PageNumber: 1390, Similarity: 0.81},
	}}
	engine := NewEngine(model, embedder, searcher, db, Options{})

	res, err := engine.Run(context.Background(), respiratoryInput("q1"))
	require.NoError(t, err)

	require.Len(t, res.ReasoningSteps, len(Steps))
	for i, step := range res.ReasoningSteps {
		assert.Equal(t, Steps[i], step.Step)
	}
	assert.InDelta(t, (0.9+0.8+0.75+0.85+0.8+0.9)/6, res.Confidence, 1e-9)

	assert.Equal(t, "Likely viral URI", res.ReasoningSteps[1].Result)
	diagnoses, ok := res.ReasoningSteps[2].Result.([]Diagnosis)
	require.True(t, ok)
	assert.Equal(t, "Viral URI", diagnoses[0].Name)
	assert.InDelta(t, 0.7, diagnoses[0].Likelihood, 1e-9)

	assert.Equal(t, []models.Citation{
		{Source: "Nelson Textbook of Pediatrics", Chapter: "Cough", Page: 2201, Relevance: 0.92},
		{Source: "Nelson Textbook of Pediatrics", Chapter: "Fever", Page: 1390, Relevance: 0.81},
	}, res.Citations)
	assert.Equal(t, "respiratory", searcher.keyword)
	assert.Equal(t, 10, searcher.topK)
	assert.Equal(t, []string{"cough fever"}, embedder.texts)

	assert.Equal(t, []string{"avoid aspirin"}, res.SafetyFlags)
	assert.Equal(t, models.UrgencyUrgent, res.RiskLevel)

	assert.Contains(t, res.Answer, "## Medical Assessment")
	assert.Contains(t, res.Answer, "**Primary Symptoms:** cough, fever")
	assert.Contains(t, res.Answer, "**Most Likely Diagnosis:** Viral URI")
	assert.Contains(t, res.Answer, "**Follow-up Guidance:** Recheck in 48 hours")
	assert.Contains(t, res.Answer, "**Urgency Level:** urgent\n**Specialty Focus:** respiratory")

	evidencePrompt := model.prompts[3]
	assert.Contains(t, evidencePrompt, "- "+strings.Repeat("a", 200)+"...")
	assert.NotContains(t, evidencePrompt, strings.Repeat("a", 201))
	assert.Contains(t, model.prompts[4], "Primary diagnosis: Viral URI")

	assert.Equal(t, "Viral URI", res.ContextUpdates["last_diagnosis"])
	assert.Equal(t, "Likely viral URI", res.ContextUpdates["last_assessment"])
	assert.Equal(t, "none", res.UpdatedContext["allergies"])
	history := res.UpdatedContext["session_history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "My son has a cough and fever", history[0].(map[string]any)["query"])

	stored, err := db.GetWorkflow(context.Background(), res.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.CurrentStep)
	assert.Equal(t, Steps, stored.CompletedSteps)
	assert.NotNil(t, stored.CompletedAt)
	assert.Len(t, stored.ConfidenceScores, 6)
	assert.Equal(t, "My son has a cough and fever", stored.StepData["original_message"])
	for _, step := range Steps {
		assert.Contains(t, stored.StepData, step)
	}
}

func TestRunUnparsedStepsUseRawText(t *testing.T) {
	replies := make([]llm.Completion, len(Steps))
	for i := range replies {
		replies[i] = reply(fmt.Sprintf("Plain prose answer %d", i+1))
	}
	engine := NewEngine(&scriptedLLM{replies: replies}, &fixedEmbedder{vector: []float32{1}},
		&recordingSearcher{}, &flakyStore{}, Options{})

	res, err := engine.Run(context.Background(), respiratoryInput("q1"))
	require.NoError(t, err)

	for i, step := range res.ReasoningSteps {
		assert.Equal(t, 0.6, step.Confidence, step.Step)
		assert.Equal(t, fmt.Sprintf("Plain prose answer %d", i+1), step.Result, step.Step)
	}
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
	assert.Equal(t, NoDiagnosis, res.ContextUpdates["last_diagnosis"])
	assert.Equal(t, []string{"My son has a cough and fever"}, res.ContextUpdates["last_symptoms"])
	assert.Empty(t, res.SafetyFlags)
	assert.NotNil(t, res.SafetyFlags)
}

func TestRunTreatsBracesInProseAsUnparsed(t *testing.T) {
	const prose = "The child likely has a viral illness {} and should rest."
	replies := make([]llm.Completion, len(Steps))
	for i := range replies {
		replies[i] = reply(prose)
	}
	engine := NewEngine(&scriptedLLM{replies: replies}, &fixedEmbedder{vector: []float32{1}},
		&recordingSearcher{}, &flakyStore{}, Options{})

	res, err := engine.Run(context.Background(), respiratoryInput("q1"))
	require.NoError(t, err)

	require.Len(t, res.ReasoningSteps, len(Steps))
	for _, step := range res.ReasoningSteps {
		assert.Equal(t, 0.6, step.Confidence, step.Step)
		assert.Equal(t, prose, step.Result, step.Step)
	}
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
}

func TestRunObjectWithoutStepFieldsIsUnparsed(t *testing.T) {
	replies := structuredReplies()
	replies[0] = reply(`{"confidence": 0.95}`)
	replies[2] = reply(`{"notes": "see above"}`)
	engine := NewEngine(&scriptedLLM{replies: replies}, &fixedEmbedder{}, &recordingSearcher{}, &flakyStore{}, Options{})

	res, err := engine.Run(context.Background(), respiratoryInput("q1"))
	require.NoError(t, err)

	assert.Equal(t, 0.6, res.ReasoningSteps[0].Confidence)
	assert.Equal(t, `{"confidence": 0.95}`, res.ReasoningSteps[0].Result)
	assert.Equal(t, 0.6, res.ReasoningSteps[2].Confidence)
	assert.Equal(t, `{"notes": "see above"}`, res.ReasoningSteps[2].Result)
	assert.Equal(t, []string{"My son has a cough and fever"}, res.ContextUpdates["last_symptoms"])
}

func TestRunPersistsMonotonicProgress(t *testing.T) {
	store := &flakyStore{}
	engine := NewEngine(&scriptedLLM{replies: structuredReplies()}, &fixedEmbedder{}, &recordingSearcher{}, store, Options{})

	_, err := engine.Run(context.Background(), respiratoryInput("q1"))
	require.NoError(t, err)

	require.Len(t, store.progress, len(Steps))
	prev := 1
	for i, p := range store.progress {
		assert.GreaterOrEqual(t, p.CurrentStep, prev, "update %d", i)
		assert.LessOrEqual(t, p.CurrentStep, len(Steps))
		assert.Equal(t, Steps[:i+1], p.CompletedSteps, "update %d", i)
		assert.Equal(t, i == len(Steps)-1, p.Completed, "update %d", i)
		prev = p.CurrentStep
	}
	assert.Equal(t, len(Steps), store.progress[len(Steps)-1].CurrentStep)
}

func TestRunWithEveryBackendDown(t *testing.T) {
	searcher := &recordingSearcher{}
	engine := NewEngine(&scriptedLLM{}, &fixedEmbedder{}, searcher, &flakyStore{}, Options{})

	res, err := engine.Run(context.Background(), respiratoryInput("q1"))
	require.NoError(t, err)

	for _, step := range res.ReasoningSteps {
		assert.Equal(t, 0.5, step.Confidence, step.Step)
	}
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	assert.Zero(t, searcher.calls)
	assert.NotNil(t, res.Citations)
	assert.Empty(t, res.Citations)
	assert.Contains(t, res.Answer, llm.FallbackAnswer)
}

func TestRunWithoutEmbeddingSkipsRetrieval(t *testing.T) {
	searcher := &recordingSearcher{passages: []retrieval.Passage{{Text: "unused"}}}
	engine := NewEngine(&scriptedLLM{replies: structuredReplies()}, &fixedEmbedder{}, searcher, &flakyStore{}, Options{})

	res, err := engine.Run(context.Background(), respiratoryInput("q1"))
	require.NoError(t, err)

	assert.Zero(t, searcher.calls)
	assert.Empty(t, res.Citations)
	assert.InDelta(t, 0.85, res.ReasoningSteps[3].Confidence, 1e-9)
}

func TestRunContinuesWhenProgressCannotBeSaved(t *testing.T) {
	store := &flakyStore{updateErr: errors.New("database is locked")}
	engine := NewEngine(&scriptedLLM{replies: structuredReplies()}, &fixedEmbedder{}, &recordingSearcher{}, store, Options{})

	res, err := engine.Run(context.Background(), respiratoryInput("q1"))
	require.NoError(t, err)
	assert.Len(t, res.ReasoningSteps, 6)
	assert.Equal(t, 6, store.updates)
}

func TestRunFailsWhenWorkflowCannotStart(t *testing.T) {
	store := &flakyStore{insertErr: errors.New("no such table")}
	model := &scriptedLLM{}
	engine := NewEngine(model, &fixedEmbedder{}, &recordingSearcher{}, store, Options{})

	_, err := engine.Run(context.Background(), respiratoryInput("q1"))
	assert.Error(t, err)
	assert.Empty(t, model.prompts)
}

func TestSessionHistoryIsCapped(t *testing.T) {
	history := make([]any, 20)
	for i := range history {
		history[i] = map[string]any{"query": fmt.Sprintf("old %d", i)}
	}
	in := respiratoryInput("q1")
	in.MedicalContext = map[string]any{"session_history": history}

	engine := NewEngine(&scriptedLLM{replies: structuredReplies()}, &fixedEmbedder{}, &recordingSearcher{}, &flakyStore{}, Options{})
	res, err := engine.Run(context.Background(), in)
	require.NoError(t, err)

	got := res.ContextUpdates["session_history"].([]any)
	require.Len(t, got, 20)
	assert.Equal(t, "old 1", got[0].(map[string]any)["query"])
	assert.Equal(t, in.Message, got[19].(map[string]any)["query"])
}

func TestModelConfidence(t *testing.T) {
	assert.Equal(t, 0.9, modelConfidence(0.9, 0.7))
	assert.Equal(t, 1.0, modelConfidence(1, 0.7))
	assert.InDelta(t, 0.85, modelConfidence(85, 0.7), 1e-9)
	assert.Equal(t, 0.7, modelConfidence(0, 0.7))
	assert.Equal(t, 0.7, modelConfidence(-1, 0.7))
	assert.Equal(t, 0.6, modelConfidence(250, 0.6))
}
