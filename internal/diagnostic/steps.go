package diagnostic

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/llm"
	"github.com/nelson-gpt/backend/internal/metrics"
	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/pkg/logger"
)

const (
	unparsedConfidence = 0.6
	fallbackConfidence = 0.5
	parsedDefault      = 0.7
	evidenceDefault    = 0.6

	// NoDiagnosis stands in when no diagnosis could be determined.
	NoDiagnosis = "Further evaluation needed"
)

type outcome struct {
	result     any
	confidence float64
}

type Diagnosis struct {
	Name                   string   `json:"name"`
	Likelihood             float64  `json:"likelihood"`
	SupportingEvidence     llm.Text `json:"supporting_evidence,omitempty"`
	DistinguishingFeatures llm.Text `json:"distinguishing_features,omitempty"`
}

func (d *Diagnosis) normalize() {
	d.Name = strings.TrimSpace(d.Name)
	if d.Likelihood > 1 && d.Likelihood <= 100 {
		d.Likelihood /= 100
	}
}

type symptomReport struct {
	Symptoms           llm.TextList `json:"symptoms"`
	PrimarySymptoms    llm.TextList `json:"primary_symptoms"`
	AssociatedSymptoms llm.TextList `json:"associated_symptoms,omitempty"`
	Duration           llm.Text     `json:"duration,omitempty"`
	Severity           llm.Text     `json:"severity,omitempty"`
	ConcerningFeatures llm.TextList `json:"concerning_features,omitempty"`
	Confidence         float64      `json:"confidence"`
}

type assessmentReport struct {
	Assessment llm.Text `json:"assessment"`
	Confidence float64  `json:"confidence"`
}

type differentialReport struct {
	Diagnoses  []rawDiagnosis `json:"diagnoses"`
	Confidence float64        `json:"confidence"`
}

// rawDiagnosis accepts either "name" or "diagnosis" for the label.
type rawDiagnosis struct {
	Name                   string   `json:"name"`
	Diagnosis              string   `json:"diagnosis"`
	Likelihood             float64  `json:"likelihood"`
	SupportingEvidence     llm.Text `json:"supporting_evidence"`
	DistinguishingFeatures llm.Text `json:"distinguishing_features"`
}

type evidenceReport struct {
	Evaluation   llm.Text `json:"evaluation"`
	TopDiagnosis llm.Text `json:"top_diagnosis"`
	Confidence   float64  `json:"confidence"`
}

type treatmentReport struct {
	Recommendations llm.Text     `json:"recommendations"`
	SafetyConcerns  llm.TextList `json:"safety_concerns"`
	Confidence      float64      `json:"confidence"`
}

type followUpReport struct {
	Guidance   llm.Text `json:"guidance"`
	Confidence float64  `json:"confidence"`
}

// modelConfidence accepts a reported confidence in (0,1], or a percentage,
// and falls back to def otherwise.
func modelConfidence(reported, def float64) float64 {
	switch {
	case reported > 0 && reported <= 1:
		return reported
	case reported > 1 && reported <= 100:
		return reported / 100
	default:
		return def
	}
}

func (e *Engine) ask(ctx context.Context, step, prompt string) llm.Completion {
	c := e.llm.Complete(ctx, llm.Request{UserPrompt: prompt})
	if c.Fallback {
		metrics.StepDegraded.WithLabelValues(step, "fallback").Inc()
		logger.Warn("Workflow step received fallback completion", zap.String("step", step))
	}
	return c
}

func degradedUnparsed(step string) {
	metrics.StepDegraded.WithLabelValues(step, "unparsed").Inc()
	logger.Debug("Workflow step output was not structured", zap.String("step", step))
}

func (e *Engine) analyzeSymptoms(ctx context.Context, in Input, s state) (state, outcome) {
	c := e.ask(ctx, StepSymptomAnalysis, symptomPrompt(in.Message, in.MedicalContext))
	s.symptoms = []string{in.Message}

	if c.Fallback {
		return s, outcome{result: c.Text, confidence: fallbackConfidence}
	}

	d := llm.Decode[symptomReport](c.Text)
	if !d.OK {
		degradedUnparsed(StepSymptomAnalysis)
		return s, outcome{result: d.Raw, confidence: unparsedConfidence}
	}

	report := d.Value
	switch {
	case len(report.Symptoms) > 0:
		s.symptoms = report.Symptoms
	case len(report.PrimarySymptoms) > 0:
		s.symptoms = append(append([]string{}, report.PrimarySymptoms...), report.AssociatedSymptoms...)
	}
	return s, outcome{result: report, confidence: modelConfidence(report.Confidence, parsedDefault)}
}

func (e *Engine) assessInitially(ctx context.Context, in Input, s state) (state, outcome) {
	c := e.ask(ctx, StepInitialAssessment,
		assessmentPrompt(s.symptoms, in.Classification.MedicalSpecialty, in.MedicalContext))
	s.assessment = c.Text

	if c.Fallback {
		return s, outcome{result: c.Text, confidence: fallbackConfidence}
	}

	d := llm.Decode[assessmentReport](c.Text)
	if !d.OK {
		degradedUnparsed(StepInitialAssessment)
		return s, outcome{result: d.Raw, confidence: unparsedConfidence}
	}

	if text := strings.TrimSpace(d.Value.Assessment.String()); text != "" {
		s.assessment = text
	}
	return s, outcome{result: s.assessment, confidence: modelConfidence(d.Value.Confidence, parsedDefault)}
}

func (e *Engine) differentiate(ctx context.Context, in Input, s state) (state, outcome) {
	c := e.ask(ctx, StepDifferential,
		differentialPrompt(s.symptoms, s.assessment, in.Classification.MedicalSpecialty))
	s.diagnoses = []Diagnosis{{Name: NoDiagnosis, Likelihood: 0.5}}

	if c.Fallback {
		return s, outcome{result: c.Text, confidence: fallbackConfidence}
	}

	d := llm.Decode[differentialReport](c.Text)
	if !d.OK {
		degradedUnparsed(StepDifferential)
		return s, outcome{result: d.Raw, confidence: unparsedConfidence}
	}

	diagnoses := make([]Diagnosis, 0, len(d.Value.Diagnoses))
	for _, raw := range d.Value.Diagnoses {
		dx := Diagnosis{
			Name:                   raw.Name,
			Likelihood:             raw.Likelihood,
			SupportingEvidence:     raw.SupportingEvidence,
			DistinguishingFeatures: raw.DistinguishingFeatures,
		}
		if dx.Name == "" {
			dx.Name = raw.Diagnosis
		}
		dx.normalize()
		if dx.Name != "" {
			diagnoses = append(diagnoses, dx)
		}
	}
	if len(diagnoses) > 0 {
		s.diagnoses = diagnoses
	}
	return s, outcome{result: s.diagnoses, confidence: modelConfidence(d.Value.Confidence, parsedDefault)}
}

func (e *Engine) evaluateEvidence(ctx context.Context, in Input, s state) (state, outcome) {
	var (
		ev       = evidence{topDiagnosis: NoDiagnosis}
		passages []string
	)
	if embedding := e.embedder.Embed(ctx, strings.Join(s.symptoms, " ")); len(embedding) > 0 {
		found := e.retriever.Search(ctx, embedding, in.Classification.MedicalSpecialty, e.evidenceTopK)
		ev.citations = make([]models.Citation, 0, len(found))
		for _, p := range found {
			ev.citations = append(ev.citations, models.Citation{
				Source:    p.BookTitle,
				Chapter:   p.ChapterTitle,
				Page:      p.PageNumber,
				Relevance: p.Similarity,
			})
			passages = append(passages, p.Text)
		}
	} else {
		metrics.StepDegraded.WithLabelValues(StepEvidence, "no_embedding").Inc()
		logger.Warn("Embedding unavailable, evaluating evidence without retrieval",
			zap.String("query_id", in.QueryID))
	}

	c := e.ask(ctx, StepEvidence, evidencePrompt(s.diagnoses, s.symptoms, passages))
	ev.evaluation = c.Text

	if c.Fallback {
		s.evidence = ev
		return s, outcome{result: c.Text, confidence: fallbackConfidence}
	}

	d := llm.Decode[evidenceReport](c.Text)
	if !d.OK {
		degradedUnparsed(StepEvidence)
		s.evidence = ev
		return s, outcome{result: d.Raw, confidence: unparsedConfidence}
	}

	if text := strings.TrimSpace(d.Value.Evaluation.String()); text != "" {
		ev.evaluation = text
	}
	if top := strings.TrimSpace(d.Value.TopDiagnosis.String()); top != "" {
		ev.topDiagnosis = top
	}
	s.evidence = ev
	return s, outcome{result: ev.evaluation, confidence: modelConfidence(d.Value.Confidence, evidenceDefault)}
}

func (e *Engine) recommendTreatment(ctx context.Context, in Input, s state) (state, outcome) {
	c := e.ask(ctx, StepTreatment,
		treatmentPrompt(s.evidence.topDiagnosis, s.symptoms, in.Classification.UrgencyLevel))
	s.treatment = treatment{recommendations: c.Text}

	if c.Fallback {
		return s, outcome{result: c.Text, confidence: fallbackConfidence}
	}

	d := llm.Decode[treatmentReport](c.Text)
	if !d.OK {
		degradedUnparsed(StepTreatment)
		return s, outcome{result: d.Raw, confidence: unparsedConfidence}
	}

	t := treatment{recommendations: c.Text}
	if text := strings.TrimSpace(d.Value.Recommendations.String()); text != "" {
		t.recommendations = text
	}
	for _, concern := range d.Value.SafetyConcerns {
		if concern = strings.TrimSpace(concern); concern != "" {
			t.safetyConcerns = append(t.safetyConcerns, concern)
		}
	}
	s.treatment = t
	return s, outcome{result: t.recommendations, confidence: modelConfidence(d.Value.Confidence, parsedDefault)}
}

func (e *Engine) guideFollowUp(ctx context.Context, in Input, s state) (state, outcome) {
	c := e.ask(ctx, StepFollowUp,
		followUpPrompt(s.treatment.recommendations, in.Classification.UrgencyLevel, s.symptoms))
	s.followUp = c.Text

	if c.Fallback {
		return s, outcome{result: c.Text, confidence: fallbackConfidence}
	}

	d := llm.Decode[followUpReport](c.Text)
	if !d.OK {
		degradedUnparsed(StepFollowUp)
		return s, outcome{result: d.Raw, confidence: unparsedConfidence}
	}

	if text := strings.TrimSpace(d.Value.Guidance.String()); text != "" {
		s.followUp = text
	}
	return s, outcome{result: s.followUp, confidence: modelConfidence(d.Value.Confidence, parsedDefault)}
}
