package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/audit"
	"github.com/nelson-gpt/backend/internal/llm"
	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
)

const (
	recentQueryLimit   = 5
	recentSummaryLimit = 3
	transcriptLimit    = 10

	ArchivedPrefix = "[ARCHIVED] "
)

var ErrInvalidContext = errors.New("invalid context update")

const summarySystemPrompt = "You are a medical documentation assistant. " +
	"Create concise, accurate summaries of pediatric medical conversations."

type Store interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	MergeSessionContext(ctx context.Context, id string, patch models.ContextPatch) error
	ResetSessionContext(ctx context.Context, id string) error
	ListRecentQueries(ctx context.Context, sessionID string, limit int) ([]models.Query, error)
	InsertContextSummary(ctx context.Context, s *models.ContextSummary) error
	ListContextSummaries(ctx context.Context, sessionID string, limit int) ([]models.ContextSummary, error)
}

type Completer interface {
	Complete(ctx context.Context, req llm.Request) llm.Completion
}

type Manager struct {
	store Store
	llm   Completer
	audit *audit.Recorder
	now   func() time.Time
}

func NewManager(store Store, completer Completer, recorder *audit.Recorder) *Manager {
	return &Manager{store: store, llm: completer, audit: recorder, now: time.Now}
}

type QueryView struct {
	ID              string    `json:"id"`
	UserQuestion    string    `json:"user_question"`
	Answer          *string   `json:"answer"`
	DiagnosticStage string    `json:"diagnostic_stage"`
	CreatedAt       time.Time `json:"created_at"`
}

type Summary struct {
	ID                string    `json:"id"`
	Text              string    `json:"text"`
	KeySymptoms       []string  `json:"key_symptoms"`
	PreviousDiagnoses []string  `json:"previous_diagnoses"`
	Medications       []string  `json:"medications"`
	Allergies         []string  `json:"allergies"`
	Confidence        float64   `json:"summary_confidence"`
	CreatedAt         time.Time `json:"created_at"`
}

type Context struct {
	MedicalContext map[string]any `json:"medical_context"`
	PatientContext map[string]any `json:"patient_context"`
	RiskLevel      string         `json:"risk_level"`
	SpecialtyFocus *string        `json:"specialty_focus"`
	RecentQueries  []QueryView    `json:"recent_queries"`
	Summaries      []Summary      `json:"summaries"`
	ContextAge     string         `json:"context_age"`
}

// Update is a shallow merge request. Empty RiskLevel and SpecialtyFocus
// leave the stored values alone.
type Update struct {
	MedicalContext map[string]any `json:"medical_context"`
	PatientContext map[string]any `json:"patient_context"`
	RiskLevel      string         `json:"risk_level"`
	SpecialtyFocus string         `json:"specialty_focus"`
}

func (m *Manager) Get(ctx context.Context, sessionID string) (*Context, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	queries, err := m.store.ListRecentQueries(ctx, sessionID, recentQueryLimit)
	if err != nil {
		return nil, err
	}
	summaries, err := m.store.ListContextSummaries(ctx, sessionID, recentSummaryLimit)
	if err != nil {
		return nil, err
	}

	out := &Context{
		MedicalContext: nonNil(s.MedicalContext),
		PatientContext: nonNil(s.PatientContext),
		RiskLevel:      s.RiskLevel,
		SpecialtyFocus: s.SpecialtyFocus,
		RecentQueries:  make([]QueryView, 0, len(queries)),
		Summaries:      make([]Summary, 0, len(summaries)),
		ContextAge:     "unknown",
	}
	for _, q := range queries {
		out.RecentQueries = append(out.RecentQueries, QueryView{
			ID:              q.ID,
			UserQuestion:    q.UserQuestion,
			Answer:          q.Answer,
			DiagnosticStage: q.DiagnosticStage,
			CreatedAt:       q.CreatedAt,
		})
	}
	for _, cs := range summaries {
		out.Summaries = append(out.Summaries, summaryView(cs))
	}
	if len(queries) > 0 {
		out.ContextAge = contextAge(m.now().Sub(queries[0].CreatedAt))
	}
	return out, nil
}

// Update merges the supplied maps key by key in a single statement, so
// concurrent updates to different keys do not overwrite each other.
func (m *Manager) Update(ctx context.Context, sessionID string, u Update) (*Context, error) {
	if u.RiskLevel != "" && !validRiskLevel(u.RiskLevel) {
		return nil, fmt.Errorf("%w: risk_level %q", ErrInvalidContext, u.RiskLevel)
	}

	medical := make(map[string]any, len(u.MedicalContext)+1)
	for k, v := range u.MedicalContext {
		medical[k] = v
	}
	medical["last_updated"] = m.now().UTC().Format(time.RFC3339)

	patch := models.ContextPatch{Medical: medical, Patient: u.PatientContext}
	if u.RiskLevel != "" {
		patch.RiskLevel = &u.RiskLevel
	}
	if u.SpecialtyFocus != "" {
		patch.SpecialtyFocus = &u.SpecialtyFocus
	}

	if err := m.store.MergeSessionContext(ctx, sessionID, patch); err != nil {
		return nil, err
	}

	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	logger.Info("Session context updated", zap.String("session_id", sessionID))
	return &Context{
		MedicalContext: nonNil(s.MedicalContext),
		PatientContext: nonNil(s.PatientContext),
		RiskLevel:      s.RiskLevel,
		SpecialtyFocus: s.SpecialtyFocus,
	}, nil
}

// Summarize returns nil without error when the session has no history.
func (m *Manager) Summarize(ctx context.Context, sessionID string, extra map[string]any) (*Summary, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	queries, err := m.store.ListRecentQueries(ctx, sessionID, transcriptLimit)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, nil
	}

	// oldest first
	for i, j := 0, len(queries)-1; i < j; i, j = i+1, j-1 {
		queries[i], queries[j] = queries[j], queries[i]
	}
	transcript := Transcript(queries)

	text, confidence := m.generateSummary(ctx, transcript, extra)

	record := &models.ContextSummary{
		ID:                   uuid.New().String(),
		SessionID:            sessionID,
		SummaryText:          text,
		KeySymptoms:          ExtractSymptoms(transcript),
		PreviousDiagnoses:    ExtractDiagnoses(queries),
		MedicationsMentioned: ExtractMedications(transcript),
		AllergiesMentioned:   ExtractAllergies(transcript),
		SummaryConfidence:    confidence,
		CreatedAt:            m.now(),
	}
	if err := m.store.InsertContextSummary(ctx, record); err != nil {
		return nil, err
	}

	logger.Info("Context summary generated",
		zap.String("session_id", sessionID),
		zap.Int("queries", len(queries)),
		zap.Float64("confidence", confidence),
	)

	s := summaryView(*record)
	return &s, nil
}

// Clear resets the session context and archives the latest summary by
// appending a prefixed copy; nothing is deleted.
func (m *Manager) Clear(ctx context.Context, sessionID string) (time.Time, error) {
	if err := m.store.ResetSessionContext(ctx, sessionID); err != nil {
		return time.Time{}, err
	}

	latest, err := m.store.ListContextSummaries(ctx, sessionID, 1)
	if err != nil {
		return time.Time{}, err
	}
	if len(latest) > 0 && !strings.HasPrefix(latest[0].SummaryText, ArchivedPrefix) {
		archived := latest[0]
		archived.ID = uuid.New().String()
		archived.SummaryText = ArchivedPrefix + archived.SummaryText
		archived.CreatedAt = m.now()
		if err := m.store.InsertContextSummary(ctx, &archived); err != nil {
			return time.Time{}, err
		}
	}

	clearedAt := m.now().UTC()
	m.audit.Record(ctx, audit.EventContextCleared, sessionID, map[string]any{
		"cleared_at": clearedAt.Format(time.RFC3339),
	})

	logger.Info("Session context cleared", zap.String("session_id", sessionID))
	return clearedAt, nil
}

func (m *Manager) generateSummary(ctx context.Context, transcript string, extra map[string]any) (string, float64) {
	if m.llm != nil {
		c := m.llm.Complete(ctx, llm.Request{
			SystemPrompt: summarySystemPrompt,
			UserPrompt:   summaryPrompt(transcript, extra),
			MaxTokens:    500,
		})
		if !c.Fallback {
			return c.Text, 0.8
		}
		logger.Warn("Model summary unavailable, using basic summary")
	}
	return BasicSummary(transcript, m.now()), 0.5
}

func summaryView(cs models.ContextSummary) Summary {
	return Summary{
		ID:                cs.ID,
		Text:              cs.SummaryText,
		KeySymptoms:       nonNilList(cs.KeySymptoms),
		PreviousDiagnoses: nonNilList(cs.PreviousDiagnoses),
		Medications:       nonNilList(cs.MedicationsMentioned),
		Allergies:         nonNilList(cs.AllergiesMentioned),
		Confidence:        cs.SummaryConfidence,
		CreatedAt:         cs.CreatedAt,
	}
}

func contextAge(d time.Duration) string {
	hours := int(d.Hours())
	switch {
	case hours < 1:
		return "recent"
	case hours < 24:
		return fmt.Sprintf("%d hours ago", hours)
	default:
		return fmt.Sprintf("%d days ago", hours/24)
	}
}

func validRiskLevel(level string) bool {
	switch level {
	case models.UrgencyRoutine, models.UrgencyUrgent, models.UrgencyEmergency:
		return true
	}
	return false
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilList(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}
