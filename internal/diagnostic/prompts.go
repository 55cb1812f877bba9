package diagnostic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nelson-gpt/backend/pkg/utils"
)

const passagePreview = 200

func toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func symptomPrompt(message string, medicalContext map[string]any) string {
	return fmt.Sprintf(`Analyze the following description of a pediatric patient and extract the key symptoms.

Patient description: %q

Previous context:
%s

Identify:
1. Primary symptoms
2. Associated symptoms
3. Duration and onset, if mentioned
4. Severity indicators
5. Any concerning features

Respond with a JSON object with the keys "symptoms", "primary_symptoms", "associated_symptoms", `+
		`"duration", "severity", "concerning_features" and "confidence" (0-1).`,
		message, toJSON(medicalContext))
}

func assessmentPrompt(symptoms []string, specialty string, medicalContext map[string]any) string {
	return fmt.Sprintf(`As a pediatric %s specialist, give an initial medical assessment.

Symptoms: %s
Context: %s

Cover:
1. Initial clinical impression
2. Key differential considerations
3. Recommended next steps
4. Red flags to watch for

Respond with a JSON object with the keys "assessment" (text) and "confidence" (0-1).`,
		specialtyLabel(specialty), toJSON(symptoms), toJSON(medicalContext))
}

func differentialPrompt(symptoms []string, assessment, specialty string) string {
	return fmt.Sprintf(`Generate a differential diagnosis from the symptoms and initial assessment.

Symptoms: %s
Initial assessment: %s
Specialty focus: %s

List the top 5 diagnoses ranked by likelihood. For each give the name, supporting evidence, `+
		`a likelihood between 0 and 1 and the key distinguishing features.

Respond with a JSON object: {"diagnoses": [{"name": "", "supporting_evidence": "", "likelihood": 0.0, `+
		`"distinguishing_features": ""}], "confidence": 0.0}`,
		toJSON(symptoms), assessment, specialtyLabel(specialty))
}

func evidencePrompt(diagnoses []Diagnosis, symptoms []string, passages []string) string {
	var evidence strings.Builder
	if len(passages) == 0 {
		evidence.WriteString("No textbook passages were found.")
	}
	for i, p := range passages {
		if i > 0 {
			evidence.WriteString("\n")
		}
		evidence.WriteString("- ")
		evidence.WriteString(utils.Prefix(p, passagePreview))
		evidence.WriteString("...")
	}

	return fmt.Sprintf(`Evaluate the evidence for these differential diagnoses using the medical literature below.

Diagnoses: %s
Symptoms: %s

Medical evidence:
%s

Cover:
1. The most likely diagnosis and its evidence
2. Quality of the evidence
3. Confidence in the diagnosis
4. Alternative considerations

Respond with a JSON object with the keys "evaluation", "top_diagnosis" and "confidence" (0-1).`,
		toJSON(diagnoses), toJSON(symptoms), evidence.String())
}

func treatmentPrompt(diagnosis string, symptoms []string, urgency string) string {
	return fmt.Sprintf(`Give evidence-based treatment recommendations for a pediatric patient.

Primary diagnosis: %s
Symptoms: %s
Urgency level: %s

Include:
1. First-line treatment options
2. Pediatric dosing considerations
3. Monitoring requirements
4. When to seek immediate care
5. Instructions for parents and caregivers

Respond with a JSON object with the keys "recommendations", "safety_concerns" (list of strings) and "confidence" (0-1).`,
		diagnosis, toJSON(symptoms), urgency)
}

func followUpPrompt(treatment, urgency string, symptoms []string) string {
	return fmt.Sprintf(`Give follow-up guidance for this pediatric case.

Treatment plan: %s
Urgency level: %s
Original symptoms: %s

Include:
1. Expected timeline for improvement
2. Warning signs that need immediate care
3. Follow-up appointment recommendations
4. Home care instructions
5. When to contact a healthcare provider

Respond with a JSON object with the keys "guidance" and "confidence" (0-1).`,
		treatment, urgency, toJSON(symptoms))
}

func specialtyLabel(specialty string) string {
	if specialty == "" {
		return "general pediatrics"
	}
	return strings.ReplaceAll(specialty, "_", " ")
}
