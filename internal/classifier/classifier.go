package classifier

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/audit"
	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
	"github.com/nelson-gpt/backend/pkg/utils"
)

// EmergencyKeywords are checked in order; the first match wins.
var EmergencyKeywords = []string{
	"can't breathe", "difficulty breathing", "chest pain", "severe pain",
	"unconscious", "seizure", "bleeding heavily", "choking", "allergic reaction",
	"severe headache", "high fever", "emergency", "urgent", "911", "hospital",
	"won't wake up", "not waking up", "unresponsive",
}

var UrgentKeywords = []string{
	"fever", "vomiting", "diarrhea", "rash", "pain", "swollen", "infected",
	"won't eat", "dehydrated", "lethargic", "concerning", "worried",
}

type Specialty struct {
	Name     string
	Keywords []string
}

// Specialties is ordered; on equal scores the earlier specialty wins.
var Specialties = []Specialty{
	{"cardiology", []string{"heart", "chest pain", "murmur", "cardiac", "palpitations"}},
	{"neurology", []string{"headache", "seizure", "neurological", "brain", "development delay"}},
	{"respiratory", []string{"breathing", "cough", "wheeze", "asthma", "pneumonia"}},
	{"gastroenterology", []string{"stomach", "vomiting", "diarrhea", "constipation", "feeding"}},
	{"dermatology", []string{"rash", "skin", "eczema", "acne", "lesion"}},
	{"orthopedics", []string{"bone", "fracture", "joint", "limping", "injury"}},
	{"endocrinology", []string{"diabetes", "growth", "hormone", "thyroid", "weight"}},
	{"infectious_disease", []string{"fever", "infection", "viral", "bacterial", "immunization"}},
}

const generalConfidence = 0.5

var urgencyWeight = map[string]float64{
	models.UrgencyEmergency: 1.0,
	models.UrgencyUrgent:    0.8,
	models.UrgencyRoutine:   0.6,
}

type Input struct {
	Message        string
	SessionID      string
	QueryID        string
	MedicalContext map[string]any
}

type Alert struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Keywords []string `json:"keywords"`
	Severity int      `json:"severity"`
}

type Classification struct {
	UrgencyLevel        string    `json:"urgency_level"`
	MedicalSpecialty    string    `json:"medical_specialty"`
	SpecialtyConfidence float64   `json:"specialty_confidence"`
	ComplexityScore     int       `json:"complexity_score"`
	Confidence          float64   `json:"confidence"`
	WorkflowType        string    `json:"workflow_type"`
	SafetyAlerts        []Alert   `json:"safety_alerts"`
	RoutedAt            time.Time `json:"routing_timestamp"`
}

type Classifier struct {
	threshold float64
	audit     *audit.Recorder
}

func New(specialtyThreshold float64, recorder *audit.Recorder) *Classifier {
	return &Classifier{threshold: specialtyThreshold, audit: recorder}
}

// Classify is deterministic. It fails only when ctx is already done.
func (c *Classifier) Classify(ctx context.Context, in Input) (Classification, error) {
	if err := ctx.Err(); err != nil {
		return Classification{}, fmt.Errorf("classify: %w", err)
	}

	text := utils.NormalizeText(in.Message)

	out := Classification{
		UrgencyLevel: models.UrgencyRoutine,
		SafetyAlerts: make([]Alert, 0),
		RoutedAt:     time.Now().UTC(),
	}

	if kw, ok := firstMatch(text, EmergencyKeywords); ok {
		out.UrgencyLevel = models.UrgencyEmergency
		out.SafetyAlerts = append(out.SafetyAlerts, Alert{
			Type:     models.UrgencyEmergency,
			Message:  fmt.Sprintf("Emergency keyword detected: %q. This may require immediate medical attention.", kw),
			Keywords: []string{kw},
			Severity: 10,
		})
	} else if _, ok := firstMatch(text, UrgentKeywords); ok {
		out.UrgencyLevel = models.UrgencyUrgent
	}

	out.MedicalSpecialty, out.SpecialtyConfidence = ScoreSpecialty(text, c.threshold)
	out.ComplexityScore = complexity(text, out.UrgencyLevel, len(in.MedicalContext) > 0)
	out.Confidence = math.Min(
		(out.SpecialtyConfidence+urgencyWeight[out.UrgencyLevel]+float64(out.ComplexityScore)/5)/3,
		1.0,
	)
	out.WorkflowType = workflowType(out)

	c.audit.Record(ctx, audit.EventQueryRouted, in.SessionID, map[string]any{
		"query_id":            in.QueryID,
		"message_length":      utf8.RuneCountInString(in.Message),
		"urgency_level":       out.UrgencyLevel,
		"medical_specialty":   out.MedicalSpecialty,
		"complexity_score":    out.ComplexityScore,
		"confidence":          out.Confidence,
		"workflow_type":       out.WorkflowType,
		"safety_alerts_count": len(out.SafetyAlerts),
	})

	logger.Info("Query routed",
		zap.String("query_id", in.QueryID),
		zap.String("urgency", out.UrgencyLevel),
		zap.String("specialty", out.MedicalSpecialty),
		zap.Int("complexity", out.ComplexityScore),
		zap.String("workflow_type", out.WorkflowType),
	)
	return out, nil
}

// ScoreSpecialty scores text (already normalized) against Specialties. A
// specialty must score strictly above threshold and above every earlier
// specialty to win; otherwise the result is general pediatrics.
func ScoreSpecialty(text string, threshold float64) (string, float64) {
	best, bestScore := "", threshold
	for _, s := range Specialties {
		matches := 0
		for _, kw := range s.Keywords {
			if strings.Contains(text, kw) {
				matches++
			}
		}
		score := float64(matches) / float64(len(s.Keywords))
		if score > bestScore {
			best, bestScore = s.Name, score
		}
	}

	if best == "" {
		return models.SpecialtyGeneral, generalConfidence
	}
	return best, bestScore
}

func complexity(text, urgency string, hasContext bool) int {
	score := 1
	if len(strings.Fields(text)) > 50 {
		score++
	}
	if strings.Contains(text, "history of") || strings.Contains(text, "previous") {
		score++
	}
	if strings.Contains(text, "multiple") || strings.Contains(text, "several") {
		score++
	}
	switch urgency {
	case models.UrgencyUrgent:
		score++
	case models.UrgencyEmergency:
		score = 5
	}
	if hasContext && score < 5 {
		score++
	}
	return score
}

func workflowType(c Classification) string {
	switch {
	case c.UrgencyLevel == models.UrgencyEmergency:
		return models.WorkflowEmergency
	case c.ComplexityScore >= 4:
		return models.WorkflowComplex
	case c.MedicalSpecialty != models.SpecialtyGeneral:
		return models.WorkflowSpecialty
	default:
		return models.WorkflowStandard
	}
}

func firstMatch(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}
