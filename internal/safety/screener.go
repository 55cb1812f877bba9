package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/audit"
	"github.com/nelson-gpt/backend/internal/metrics"
	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
	"github.com/nelson-gpt/backend/pkg/utils"
)

const (
	RiskCritical = "critical"
	RiskHigh     = "high"
	RiskLow      = "low"

	AlertEmergency = "emergency"
	AlertHighRisk  = "high_risk"
)

type Category struct {
	Name     string
	Keywords []string
	Severity int
	Message  string
}

// Categories is scanned in order. Every emergency keyword the classifier
// routes on appears here so a routed message always screens critical.
var Categories = []Category{
	{
		Name:     "respiratory_distress",
		Keywords: []string{"can't breathe", "difficulty breathing", "gasping", "blue lips", "wheezing severely", "choking"},
		Severity: 10,
		Message:  "EMERGENCY: Respiratory distress requires immediate medical attention. Call 911 or go to the nearest emergency room immediately.",
	},
	{
		Name:     "cardiac_emergency",
		Keywords: []string{"chest pain", "heart racing", "fainting", "collapsed", "cardiac arrest"},
		Severity: 10,
		Message:  "EMERGENCY: Potential cardiac emergency. Call 911 immediately.",
	},
	{
		Name: "neurological_emergency",
		Keywords: []string{
			"seizure", "unconscious", "severe headache", "confusion", "not responding",
			"won't wake up", "not waking up", "unresponsive",
		},
		Severity: 10,
		Message:  "EMERGENCY: Neurological emergency. Call 911 or seek immediate emergency care.",
	},
	{
		Name:     "severe_allergic_reaction",
		Keywords: []string{"allergic reaction", "hives all over", "swollen face", "throat closing", "anaphylaxis"},
		Severity: 9,
		Message:  "URGENT: Severe allergic reaction. Use EpiPen if available and call 911 immediately.",
	},
	{
		Name:     "severe_bleeding",
		Keywords: []string{"bleeding heavily", "won't stop bleeding", "blood everywhere", "hemorrhage"},
		Severity: 9,
		Message:  "URGENT: Severe bleeding requires immediate medical attention. Apply direct pressure and call 911.",
	},
	{
		Name:     "poisoning",
		Keywords: []string{"poisoned", "ingested", "overdose", "toxic", "poison control"},
		Severity: 9,
		Message:  "URGENT: Potential poisoning. Call Poison Control (1-800-222-1222) and/or 911 immediately.",
	},
	{
		Name:     "reported_emergency",
		Keywords: []string{"emergency", "911", "hospital", "urgent", "severe pain", "high fever"},
		Severity: 9,
		Message:  "URGENT: You described a potential emergency. Call 911 or go to the nearest emergency room if your child is in danger.",
	},
	{
		Name:     "high_fever_infant",
		Keywords: []string{"fever", "temperature", "hot", "infant", "newborn", "0-3 months"},
		Severity: 8,
		Message:  "HIGH PRIORITY: Fever in infants under 3 months requires immediate medical evaluation.",
	},
	{
		Name:     "dehydration_severe",
		Keywords: []string{"severely dehydrated", "no wet diapers", "sunken eyes", "lethargic"},
		Severity: 8,
		Message:  "HIGH PRIORITY: Severe dehydration requires immediate medical attention.",
	},
}

type Alert struct {
	Category                string `json:"category"`
	Severity                int    `json:"severity"`
	Message                 string `json:"message"`
	TriggeredKeyword        string `json:"triggered_keyword"`
	RequiresImmediateAction bool   `json:"requires_immediate_action"`
}

type Input struct {
	Message   string
	SessionID string
	QueryID   string
	Urgency   string
}

type Assessment struct {
	Answer                  string                 `json:"answer"`
	Confidence              float64                `json:"confidence"`
	Alerts                  []Alert                `json:"safety_alerts"`
	Flags                   []string               `json:"safety_flags"`
	RiskAssessment          string                 `json:"risk_assessment"`
	ImmediateActionRequired bool                   `json:"immediate_action_required"`
	ReasoningSteps          []models.ReasoningStep `json:"reasoning_steps"`
}

type Store interface {
	InsertSafetyAlert(ctx context.Context, a *models.SafetyAlert) error
}

type Screener struct {
	store Store
	audit *audit.Recorder
}

func NewScreener(store Store, recorder *audit.Recorder) *Screener {
	return &Screener{store: store, audit: recorder}
}

// Scan matches message against Categories. Each category contributes at most
// one alert, for its first matching keyword.
func Scan(message string) []Alert {
	text := utils.NormalizeText(message)

	alerts := make([]Alert, 0)
	for _, c := range Categories {
		for _, kw := range c.Keywords {
			if strings.Contains(text, kw) {
				alerts = append(alerts, Alert{
					Category:                c.Name,
					Severity:                c.Severity,
					Message:                 c.Message,
					TriggeredKeyword:        kw,
					RequiresImmediateAction: c.Severity >= 9,
				})
				break
			}
		}
	}
	return alerts
}

func RiskLevel(alerts []Alert) string {
	risk := RiskLow
	for _, a := range alerts {
		if a.Severity >= 9 {
			return RiskCritical
		}
		if a.Severity >= 8 {
			risk = RiskHigh
		}
	}
	return risk
}

// Screen never fails. Alerts that cannot be persisted are still returned.
func (s *Screener) Screen(ctx context.Context, in Input) Assessment {
	alerts := Scan(in.Message)
	risk := RiskLevel(alerts)

	flags := make([]string, 0, len(alerts))
	for _, a := range alerts {
		flags = append(flags, a.Category)
		metrics.SafetyAlerts.WithLabelValues(a.Category).Inc()
		s.persist(ctx, in, a)
	}

	out := Assessment{
		Alerts:                  alerts,
		Flags:                   flags,
		RiskAssessment:          risk,
		ImmediateActionRequired: risk == RiskCritical,
	}

	switch risk {
	case RiskCritical:
		out.Answer = emergencyResponse(alerts, in.Message)
		out.Confidence = 1.0
	case RiskHigh:
		out.Answer = highPriorityResponse(alerts, in.Message)
		out.Confidence = 0.95
	default:
		out.Answer = standardResponse(in.Message)
		out.Confidence = 0.8
	}

	out.ReasoningSteps = []models.ReasoningStep{{
		Step:       "safety_monitoring",
		Result:     fmt.Sprintf("Risk assessment: %s. %d safety alerts triggered.", risk, len(alerts)),
		Confidence: out.Confidence,
		Timestamp:  time.Now().UTC(),
	}}

	s.audit.Record(ctx, audit.EventSafetyMonitoring, in.SessionID, map[string]any{
		"query_id":                  in.QueryID,
		"risk_assessment":           risk,
		"safety_alerts_triggered":   len(alerts),
		"immediate_action_required": out.ImmediateActionRequired,
		"categories_triggered":      flags,
	})

	logger.Info("Safety screening completed",
		zap.String("query_id", in.QueryID),
		zap.String("risk_assessment", risk),
		zap.Int("alerts", len(alerts)),
	)
	return out
}

func (s *Screener) persist(ctx context.Context, in Input, a Alert) {
	if s.store == nil {
		return
	}

	alertType := AlertHighRisk
	if a.Severity >= 9 {
		alertType = AlertEmergency
	}

	record := &models.SafetyAlert{
		ID:                uuid.New().String(),
		SessionID:         optional(in.SessionID),
		QueryID:           optional(in.QueryID),
		AlertType:         alertType,
		Category:          a.Category,
		AlertMessage:      a.Message,
		TriggeredKeywords: []string{a.TriggeredKeyword},
		SeverityScore:     a.Severity,
		CreatedAt:         time.Now(),
	}
	if err := s.store.InsertSafetyAlert(ctx, record); err != nil {
		logger.Error("Failed to persist safety alert",
			zap.String("category", a.Category),
			zap.String("query_id", in.QueryID),
			zap.Error(err),
		)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
