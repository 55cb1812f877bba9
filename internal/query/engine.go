package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/classifier"
	"github.com/nelson-gpt/backend/internal/diagnostic"
	"github.com/nelson-gpt/backend/internal/metrics"
	"github.com/nelson-gpt/backend/internal/safety"
	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
)

// ErrorAnswer is shown to the user whenever a query cannot be answered.
const ErrorAnswer = "I'm sorry, I wasn't able to process your question right now. " +
	"Please try again, and if your child's symptoms are worrying, contact your healthcare provider or call 911."

const (
	classifierAlertCategory = "emergency_keyword"
	historyLimit            = 20
)

type Store interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	CreateSession(ctx context.Context, s *models.Session) error
	MergeSessionContext(ctx context.Context, id string, patch models.ContextPatch) error
	InsertQuery(ctx context.Context, q *models.Query) error
	UpdateQueryClassification(ctx context.Context, id, urgency, specialty string, complexity int) error
	CompleteQuery(ctx context.Context, id string, done models.QueryCompletion) error
	MarkQueryError(ctx context.Context, id string) error
	ListRecentQueries(ctx context.Context, sessionID string, limit int) ([]models.Query, error)
	InsertClassification(ctx context.Context, m *models.MedicalClassification) error
	InsertSafetyAlert(ctx context.Context, a *models.SafetyAlert) error
}

type Classifier interface {
	Classify(ctx context.Context, in classifier.Input) (classifier.Classification, error)
}

type Screener interface {
	Screen(ctx context.Context, in safety.Input) safety.Assessment
}

type Workflow interface {
	Run(ctx context.Context, in diagnostic.Input) (*diagnostic.Result, error)
}

type Engine struct {
	store      Store
	classifier Classifier
	screener   Screener
	workflow   Workflow
}

type Request struct {
	Message   string
	SessionID string
	UserID    string
}

type Response struct {
	Answer           string                 `json:"answer"`
	Confidence       float64                `json:"confidence"`
	Citations        []models.Citation      `json:"citations"`
	SessionID        string                 `json:"sessionId,omitempty"`
	QueryID          string                 `json:"queryId"`
	UrgencyLevel     string                 `json:"urgency_level"`
	MedicalSpecialty string                 `json:"medical_specialty"`
	WorkflowType     string                 `json:"workflow_type"`
	SafetyAlerts     []classifier.Alert     `json:"safety_alerts"`
	SafetyFlags      []string               `json:"safety_flags"`
	ReasoningSteps   []models.ReasoningStep `json:"reasoning_steps"`
	LatencyMS        int64                  `json:"latency_ms"`
}

func NewEngine(store Store, router Classifier, screener Screener, workflow Workflow) *Engine {
	return &Engine{
		store:      store,
		classifier: router,
		screener:   screener,
		workflow:   workflow,
	}
}

// outcome is what either branch hands back for persistence.
type outcome struct {
	answer     string
	confidence float64
	citations  []models.Citation
	steps      []models.ReasoningStep
	flags      []string
	alerts     []classifier.Alert
	updates    map[string]any
}

// ProcessQuery drives one message through classification and either the
// safety screener or the diagnostic workflow. When it returns an error
// alongside a response, the response carries ErrorAnswer.
func (e *Engine) ProcessQuery(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	sessionID, medicalContext, err := e.ensureSession(ctx, req)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error", "unknown").Inc()
		return nil, err
	}

	queryID := uuid.New().String()
	record := &models.Query{
		ID:              queryID,
		SessionID:       optional(sessionID),
		UserQuestion:    req.Message,
		DiagnosticStage: models.StageInitial,
		CreatedAt:       time.Now(),
	}
	if err := e.store.InsertQuery(ctx, record); err != nil {
		metrics.QueryTotal.WithLabelValues("error", "unknown").Inc()
		return nil, fmt.Errorf("failed to create query record: %w", err)
	}

	logger.Info("Processing medical query",
		zap.String("query_id", queryID),
		zap.String("session_id", sessionID),
		zap.Int("message_length", len(req.Message)),
	)

	class, err := e.classifier.Classify(ctx, classifier.Input{
		Message:        req.Message,
		SessionID:      sessionID,
		QueryID:        queryID,
		MedicalContext: medicalContext,
	})
	if err != nil {
		return e.fail(ctx, sessionID, queryID, "unknown", fmt.Errorf("classification failed: %w", err))
	}

	e.recordClassification(ctx, sessionID, queryID, class)

	var out outcome
	if class.UrgencyLevel == models.UrgencyEmergency {
		out = e.screen(ctx, sessionID, queryID, req.Message, class)
	} else {
		out, err = e.diagnose(ctx, sessionID, queryID, req.Message, class, medicalContext)
		if err != nil {
			return e.fail(ctx, sessionID, queryID, class.UrgencyLevel, fmt.Errorf("diagnostic workflow failed: %w", err))
		}
	}

	err = e.store.CompleteQuery(ctx, queryID, models.QueryCompletion{
		Answer:         out.answer,
		Confidence:     out.confidence,
		Citations:      out.citations,
		ReasoningSteps: out.steps,
		SafetyFlags:    out.flags,
	})
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error", class.UrgencyLevel).Inc()
		return &Response{Answer: ErrorAnswer, SessionID: sessionID, QueryID: queryID},
			fmt.Errorf("failed to store answer: %w", err)
	}

	e.mergeContext(ctx, sessionID, class, out.updates)

	path := "workflow"
	if class.UrgencyLevel == models.UrgencyEmergency {
		path = "safety"
	}
	elapsed := time.Since(start)
	metrics.QueryDuration.WithLabelValues(class.WorkflowType).Observe(elapsed.Seconds())
	metrics.QueryTotal.WithLabelValues("success", class.UrgencyLevel).Inc()
	metrics.ConfidenceScore.WithLabelValues(path).Observe(out.confidence)

	logger.Info("Medical query processed",
		zap.String("query_id", queryID),
		zap.String("urgency", class.UrgencyLevel),
		zap.String("specialty", class.MedicalSpecialty),
		zap.String("path", path),
		zap.Float64("confidence", out.confidence),
		zap.Duration("latency", elapsed),
	)

	return &Response{
		Answer:           out.answer,
		Confidence:       out.confidence,
		Citations:        out.citations,
		SessionID:        sessionID,
		QueryID:          queryID,
		UrgencyLevel:     class.UrgencyLevel,
		MedicalSpecialty: class.MedicalSpecialty,
		WorkflowType:     class.WorkflowType,
		SafetyAlerts:     out.alerts,
		SafetyFlags:      out.flags,
		ReasoningSteps:   out.steps,
		LatencyMS:        elapsed.Milliseconds(),
	}, nil
}

// History returns the newest queries of a session.
func (e *Engine) History(ctx context.Context, sessionID string, limit int) ([]models.Query, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.store.ListRecentQueries(ctx, sessionID, limit)
}

// ensureSession never creates a session without a user id; an unknown
// session id with no user id is processed session-less.
func (e *Engine) ensureSession(ctx context.Context, req Request) (string, map[string]any, error) {
	if req.SessionID != "" {
		s, err := e.store.GetSession(ctx, req.SessionID)
		if err == nil {
			return s.ID, s.MedicalContext, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return "", nil, fmt.Errorf("failed to load session: %w", err)
		}
		if req.UserID == "" {
			logger.Warn("Unknown session, continuing without one", zap.String("session_id", req.SessionID))
			return "", nil, nil
		}
	}

	if req.UserID == "" {
		return "", nil, nil
	}

	id := req.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	if err := e.store.CreateSession(ctx, &models.Session{
		ID:        id,
		UserSub:   req.UserID,
		RiskLevel: models.UrgencyRoutine,
		StartedAt: time.Now(),
	}); err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.Info("Session created", zap.String("session_id", id))
	return id, map[string]any{}, nil
}

// recordClassification is best-effort: the query proceeds even when none of
// these writes succeed.
func (e *Engine) recordClassification(ctx context.Context, sessionID, queryID string, class classifier.Classification) {
	if err := e.store.UpdateQueryClassification(ctx, queryID, class.UrgencyLevel, class.MedicalSpecialty, class.ComplexityScore); err != nil {
		logger.Warn("Failed to update query classification", zap.String("query_id", queryID), zap.Error(err))
	}

	err := e.store.InsertClassification(ctx, &models.MedicalClassification{
		ID:                       uuid.New().String(),
		QueryID:                  queryID,
		UrgencyLevel:             class.UrgencyLevel,
		MedicalSpecialty:         class.MedicalSpecialty,
		ComplexityScore:          class.ComplexityScore,
		WorkflowType:             class.WorkflowType,
		ClassificationConfidence: class.Confidence,
		CreatedAt:                time.Now(),
	})
	if err != nil {
		logger.Warn("Failed to store classification", zap.String("query_id", queryID), zap.Error(err))
	}

	for _, a := range class.SafetyAlerts {
		err := e.store.InsertSafetyAlert(ctx, &models.SafetyAlert{
			ID:                uuid.New().String(),
			SessionID:         optional(sessionID),
			QueryID:           optional(queryID),
			AlertType:         safety.AlertEmergency,
			Category:          classifierAlertCategory,
			AlertMessage:      a.Message,
			TriggeredKeywords: a.Keywords,
			SeverityScore:     a.Severity,
			CreatedAt:         time.Now(),
		})
		if err != nil {
			logger.Error("Failed to persist classifier alert", zap.String("query_id", queryID), zap.Error(err))
		}
	}
}

func (e *Engine) screen(ctx context.Context, sessionID, queryID, message string, class classifier.Classification) outcome {
	a := e.screener.Screen(ctx, safety.Input{
		Message:   message,
		SessionID: sessionID,
		QueryID:   queryID,
		Urgency:   class.UrgencyLevel,
	})


	return outcome{
		answer:     a.Answer,
		confidence: a.Confidence,
		citations:  []models.Citation{},
		steps:      a.ReasoningSteps,
		flags:      a.Flags,
		alerts:     class.SafetyAlerts,
		updates: map[string]any{
			"last_risk_assessment":   a.RiskAssessment,
			"last_safety_categories": a.Flags,
		},
	}
}

func (e *Engine) diagnose(ctx context.Context, sessionID, queryID, message string, class classifier.Classification, medicalContext map[string]any) (outcome, error) {
	res, err := e.workflow.Run(ctx, diagnostic.Input{
		Message:        message,
		SessionID:      sessionID,
		QueryID:        queryID,
		Classification: class,
		MedicalContext: medicalContext,
	})
	if err != nil {
		return outcome{}, err
	}

	return outcome{
		answer:     res.Answer,
		confidence: res.Confidence,
		citations:  res.Citations,
		steps:      res.ReasoningSteps,
		flags:      res.SafetyFlags,
		alerts:     class.SafetyAlerts,
		updates:    res.ContextUpdates,
	}, nil
}

// mergeContext is best-effort; the answer is already stored.
func (e *Engine) mergeContext(ctx context.Context, sessionID string, class classifier.Classification, updates map[string]any) {
	if sessionID == "" {
		return
	}

	risk := class.UrgencyLevel
	patch := models.ContextPatch{Medical: updates, RiskLevel: &risk}
	if class.MedicalSpecialty != "" && class.MedicalSpecialty != models.SpecialtyGeneral {
		specialty := class.MedicalSpecialty
		patch.SpecialtyFocus = &specialty
	}

	if err := e.store.MergeSessionContext(ctx, sessionID, patch); err != nil {
		logger.Warn("Failed to update session context",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

func (e *Engine) fail(ctx context.Context, sessionID, queryID, urgency string, cause error) (*Response, error) {
	// a cancelled request still gets its query row marked
	if err := e.store.MarkQueryError(context.WithoutCancel(ctx), queryID); err != nil {
		logger.Error("Failed to mark query as failed", zap.String("query_id", queryID), zap.Error(err))
	}
	metrics.QueryTotal.WithLabelValues("error", urgency).Inc()

	logger.Error("Medical query failed",
		zap.String("query_id", queryID),
		zap.Error(cause),
	)
	return &Response{Answer: ErrorAnswer, SessionID: sessionID, QueryID: queryID}, cause
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
