package diagnostic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/classifier"
	"github.com/nelson-gpt/backend/internal/llm"
	"github.com/nelson-gpt/backend/internal/retrieval"
	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
)

const (
	StepSymptomAnalysis   = "symptom_analysis"
	StepInitialAssessment = "initial_assessment"
	StepDifferential      = "differential_diagnosis"
	StepEvidence          = "evidence_evaluation"
	StepTreatment         = "treatment_recommendations"
	StepFollowUp          = "follow_up_guidance"
)

// Steps is the canonical order. Completed steps are always a prefix of it.
var Steps = []string{
	StepSymptomAnalysis,
	StepInitialAssessment,
	StepDifferential,
	StepEvidence,
	StepTreatment,
	StepFollowUp,
}

const (
	defaultEvidenceTopK = 10
	defaultHistoryCap   = 20
)

type Completer interface {
	Complete(ctx context.Context, req llm.Request) llm.Completion
}

type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

type Searcher interface {
	Search(ctx context.Context, embedding []float32, keyword string, topK int) []retrieval.Passage
}

type Store interface {
	InsertWorkflow(ctx context.Context, w *models.DiagnosticWorkflow) error
	UpdateWorkflowProgress(ctx context.Context, id string, p models.WorkflowProgress) error
}

type Options struct {
	EvidenceTopK      int
	SessionHistoryCap int
}

type Engine struct {
	llm          Completer
	embedder     Embedder
	retriever    Searcher
	store        Store
	evidenceTopK int
	historyCap   int
}

type Input struct {
	Message        string
	SessionID      string
	QueryID        string
	Classification classifier.Classification
	MedicalContext map[string]any
}

type Result struct {
	Answer         string                 `json:"answer"`
	Confidence     float64                `json:"confidence"`
	Citations      []models.Citation      `json:"citations"`
	ReasoningSteps []models.ReasoningStep `json:"reasoning_steps"`
	SafetyFlags    []string               `json:"safety_flags"`
	UpdatedContext map[string]any         `json:"updated_context"`
	ContextUpdates map[string]any         `json:"context_updates"`
	RiskLevel      string                 `json:"risk_level"`
	WorkflowID     string                 `json:"workflow_id"`
}

func NewEngine(completer Completer, embedder Embedder, retriever Searcher, store Store, opts Options) *Engine {
	if opts.EvidenceTopK <= 0 {
		opts.EvidenceTopK = defaultEvidenceTopK
	}
	if opts.SessionHistoryCap <= 0 {
		opts.SessionHistoryCap = defaultHistoryCap
	}
	return &Engine{
		llm:          completer,
		embedder:     embedder,
		retriever:    retriever,
		store:        store,
		evidenceTopK: opts.EvidenceTopK,
		historyCap:   opts.SessionHistoryCap,
	}
}

// state is the per-run accumulator. Each step receives it by value and
// returns it with its own field set.
type state struct {
	symptoms   []string
	assessment string
	diagnoses  []Diagnosis
	evidence   evidence
	treatment  treatment
	followUp   string
}

type evidence struct {
	evaluation   string
	topDiagnosis string
	citations    []models.Citation
}

type treatment struct {
	recommendations string
	safetyConcerns  []string
}

type stepFunc func(ctx context.Context, in Input, s state) (state, outcome)

// Run executes all six steps in order. Only failing to create the workflow
// record is an error; a failed step degrades its confidence and the run
// continues with whatever text it produced.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	id := uuid.New().String()
	stepData := map[string]any{
		"original_message": in.Message,
		"classification":   in.Classification,
		"medical_context":  in.MedicalContext,
	}
	done := make([]string, 0, len(Steps))
	scores := make(map[string]float64, len(Steps))

	record := &models.DiagnosticWorkflow{
		ID:               id,
		SessionID:        optional(in.SessionID),
		QueryID:          in.QueryID,
		WorkflowType:     in.Classification.WorkflowType,
		CurrentStep:      1,
		TotalSteps:       len(Steps),
		StepData:         stepData,
		CompletedSteps:   done,
		ConfidenceScores: scores,
		CreatedAt:        time.Now(),
	}
	if err := e.store.InsertWorkflow(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to start diagnostic workflow: %w", err)
	}

	logger.Info("Diagnostic workflow started",
		zap.String("workflow_id", id),
		zap.String("query_id", in.QueryID),
		zap.String("specialty", in.Classification.MedicalSpecialty),
	)

	pipeline := []stepFunc{
		e.analyzeSymptoms,
		e.assessInitially,
		e.differentiate,
		e.evaluateEvidence,
		e.recommendTreatment,
		e.guideFollowUp,
	}

	var (
		s     state
		trail = make([]models.ReasoningStep, 0, len(Steps))
	)
	for i, step := range pipeline {
		name := Steps[i]

		var out outcome
		s, out = step(ctx, in, s)

		trail = append(trail, models.ReasoningStep{
			Step:       name,
			Result:     out.result,
			Confidence: out.confidence,
			Timestamp:  time.Now().UTC(),
		})
		scores[name] = out.confidence
		stepData[name] = out.result
		done = append(done, name)

		e.saveProgress(ctx, id, models.WorkflowProgress{
			CurrentStep:      min(i+2, len(Steps)),
			StepData:         stepData,
			CompletedSteps:   done,
			ConfidenceScores: scores,
			Completed:        i+1 == len(Steps),
		})
	}

	return e.finish(id, in, s, trail), nil
}

func (e *Engine) saveProgress(ctx context.Context, id string, progress models.WorkflowProgress) {
	if err := e.store.UpdateWorkflowProgress(ctx, id, progress); err != nil {
		logger.Warn("Failed to persist workflow progress",
			zap.String("workflow_id", id),
			zap.Int("completed_steps", len(progress.CompletedSteps)),
			zap.Error(err),
		)
	}
}

func (e *Engine) finish(id string, in Input, s state, trail []models.ReasoningStep) *Result {
	var total float64
	for _, step := range trail {
		total += step.Confidence
	}
	confidence := total / float64(len(trail))

	updates := map[string]any{
		"last_symptoms":   s.symptoms,
		"last_assessment": s.assessment,
		"last_diagnosis":  s.evidence.topDiagnosis,
		"session_history": appendHistory(in.MedicalContext["session_history"], map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"query":     in.Message,
			"diagnosis": s.evidence.topDiagnosis,
			"treatment": s.treatment.recommendations,
		}, e.historyCap),
	}

	updated := make(map[string]any, len(in.MedicalContext)+len(updates))
	for k, v := range in.MedicalContext {
		updated[k] = v
	}
	for k, v := range updates {
		updated[k] = v
	}

	flags := make([]string, 0, len(s.treatment.safetyConcerns))
	flags = append(flags, s.treatment.safetyConcerns...)

	citations := s.evidence.citations
	if citations == nil {
		citations = []models.Citation{}
	}

	logger.Info("Diagnostic workflow completed",
		zap.String("workflow_id", id),
		zap.Float64("confidence", confidence),
		zap.Int("citations", len(citations)),
	)

	return &Result{
		Answer:         formatAnswer(in, s),
		Confidence:     confidence,
		Citations:      citations,
		ReasoningSteps: trail,
		SafetyFlags:    flags,
		UpdatedContext: updated,
		ContextUpdates: updates,
		RiskLevel:      in.Classification.UrgencyLevel,
		WorkflowID:     id,
	}
}

// appendHistory keeps the newest limit entries of a session_history value
// that may have come back from JSON storage.
func appendHistory(existing any, entry map[string]any, limit int) []any {
	var history []any
	switch h := existing.(type) {
	case []any:
		history = append(history, h...)
	case []map[string]any:
		for _, item := range h {
			history = append(history, item)
		}
	}
	history = append(history, entry)

	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
