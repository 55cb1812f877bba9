package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrQueryCompleted = errors.New("query already completed")
)

const (
	UrgencyRoutine   = "routine"
	UrgencyUrgent    = "urgent"
	UrgencyEmergency = "emergency"
)

const (
	StageInitial   = "initial"
	StageCompleted = "completed"
	StageError     = "error"
)

const (
	WorkflowStandard  = "standard"
	WorkflowEmergency = "emergency"
	WorkflowComplex   = "complex"
	WorkflowSpecialty = "specialty"
)

const SpecialtyGeneral = "general_pediatrics"

type Session struct {
	ID             string
	UserSub        string
	MedicalContext map[string]any
	PatientContext map[string]any
	RiskLevel      string
	SpecialtyFocus *string
	StartedAt      time.Time
	EndedAt        *time.Time
}

type Citation struct {
	Source    string  `json:"source"`
	Chapter   string  `json:"chapter"`
	Page      int     `json:"page"`
	Relevance float64 `json:"relevance"`
}

type ReasoningStep struct {
	Step       string    `json:"step"`
	Result     any       `json:"result"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

type Query struct {
	ID               string
	SessionID        *string
	UserQuestion     string
	Answer           *string
	UrgencyLevel     string
	MedicalSpecialty *string
	ComplexityScore  int
	Confidence       float64
	Citations        []Citation
	ReasoningSteps   []ReasoningStep
	SafetyFlags      []string
	DiagnosticStage  string
	CreatedAt        time.Time
}

type QueryCompletion struct {
	Answer         string
	Confidence     float64
	Citations      []Citation
	ReasoningSteps []ReasoningStep
	SafetyFlags    []string
}

type DiagnosticWorkflow struct {
	ID               string
	SessionID        *string
	QueryID          string
	WorkflowType     string
	CurrentStep      int
	TotalSteps       int
	StepData         map[string]any
	CompletedSteps   []string
	ConfidenceScores map[string]float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// WorkflowProgress is the state written after each finished step.
type WorkflowProgress struct {
	CurrentStep      int
	StepData         map[string]any
	CompletedSteps   []string
	ConfidenceScores map[string]float64
	Completed        bool
}

type SafetyAlert struct {
	ID                string
	SessionID         *string
	QueryID           *string
	AlertType         string
	Category          string
	AlertMessage      string
	TriggeredKeywords []string
	SeverityScore     int
	Acknowledged      bool
	AcknowledgedBy    *string
	AcknowledgedAt    *time.Time
	CreatedAt         time.Time
}

type MedicalClassification struct {
	ID                       string
	QueryID                  string
	UrgencyLevel             string
	MedicalSpecialty         string
	ComplexityScore          int
	WorkflowType             string
	ClassificationConfidence float64
	CreatedAt                time.Time
}

type MedicalChunk struct {
	ID              string
	BookTitle       string
	ChapterTitle    string
	SectionTitle    string
	PageNumber      int
	ChunkText       string
	Specialty       string
	SourceURL       string
	ConfidenceScore float64
	CreatedAt       time.Time
}

type ContextSummary struct {
	ID                   string
	SessionID            string
	SummaryText          string
	KeySymptoms          []string
	PreviousDiagnoses    []string
	MedicationsMentioned []string
	AllergiesMentioned   []string
	SummaryConfidence    float64
	CreatedAt            time.Time
}

type AuditLog struct {
	ID          string
	Event       string
	SubjectHash string
	Details     map[string]any
	CreatedAt   time.Time
}

// ContextPatch is a shallow, field-level merge applied to a session.
type ContextPatch struct {
	Medical        map[string]any
	Patient        map[string]any
	RiskLevel      *string
	SpecialtyFocus *string
}
