package handlers

import (
	"time"

	"github.com/nelson-gpt/backend/internal/storage/models"
)

type queryView struct {
	ID               string                 `json:"id"`
	SessionID        *string                `json:"session_id"`
	UserQuestion     string                 `json:"user_question"`
	Answer           *string                `json:"answer"`
	UrgencyLevel     string                 `json:"urgency_level"`
	MedicalSpecialty *string                `json:"medical_specialty"`
	ComplexityScore  int                    `json:"complexity_score"`
	Confidence       float64                `json:"confidence"`
	Citations        []models.Citation      `json:"citations"`
	ReasoningSteps   []models.ReasoningStep `json:"reasoning_steps"`
	SafetyFlags      []string               `json:"safety_flags"`
	DiagnosticStage  string                 `json:"diagnostic_stage"`
	CreatedAt        time.Time              `json:"created_at"`
}

func newQueryView(q models.Query) queryView {
	return queryView{
		ID:               q.ID,
		SessionID:        q.SessionID,
		UserQuestion:     q.UserQuestion,
		Answer:           q.Answer,
		UrgencyLevel:     q.UrgencyLevel,
		MedicalSpecialty: q.MedicalSpecialty,
		ComplexityScore:  q.ComplexityScore,
		Confidence:       q.Confidence,
		Citations:        q.Citations,
		ReasoningSteps:   q.ReasoningSteps,
		SafetyFlags:      q.SafetyFlags,
		DiagnosticStage:  q.DiagnosticStage,
		CreatedAt:        q.CreatedAt,
	}
}

type workflowView struct {
	ID               string             `json:"id"`
	SessionID        *string            `json:"session_id"`
	QueryID          string             `json:"query_id"`
	WorkflowType     string             `json:"workflow_type"`
	CurrentStep      int                `json:"current_step"`
	TotalSteps       int                `json:"total_steps"`
	StepData         map[string]any     `json:"step_data"`
	CompletedSteps   []string           `json:"completed_steps"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	CompletedAt      *time.Time         `json:"completed_at"`
}

func newWorkflowView(w *models.DiagnosticWorkflow) workflowView {
	return workflowView{
		ID:               w.ID,
		SessionID:        w.SessionID,
		QueryID:          w.QueryID,
		WorkflowType:     w.WorkflowType,
		CurrentStep:      w.CurrentStep,
		TotalSteps:       w.TotalSteps,
		StepData:         w.StepData,
		CompletedSteps:   w.CompletedSteps,
		ConfidenceScores: w.ConfidenceScores,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
		CompletedAt:      w.CompletedAt,
	}
}

type alertView struct {
	ID                string     `json:"id"`
	SessionID         *string    `json:"session_id"`
	QueryID           *string    `json:"query_id"`
	AlertType         string     `json:"alert_type"`
	Category          string     `json:"category"`
	AlertMessage      string     `json:"alert_message"`
	TriggeredKeywords []string   `json:"triggered_keywords"`
	SeverityScore     int        `json:"severity_score"`
	Acknowledged      bool       `json:"acknowledged"`
	AcknowledgedBy    *string    `json:"acknowledged_by"`
	AcknowledgedAt    *time.Time `json:"acknowledged_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newAlertView(a models.SafetyAlert) alertView {
	return alertView{
		ID:                a.ID,
		SessionID:         a.SessionID,
		QueryID:           a.QueryID,
		AlertType:         a.AlertType,
		Category:          a.Category,
		AlertMessage:      a.AlertMessage,
		TriggeredKeywords: a.TriggeredKeywords,
		SeverityScore:     a.SeverityScore,
		Acknowledged:      a.Acknowledged,
		AcknowledgedBy:    a.AcknowledgedBy,
		AcknowledgedAt:    a.AcknowledgedAt,
		CreatedAt:         a.CreatedAt,
	}
}
