package session

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nelson-gpt/backend/internal/storage/models"
)

var symptomKeywords = []string{
	"fever", "cough", "vomiting", "diarrhea", "rash", "pain", "headache",
	"sore throat", "runny nose", "ear ache", "stomach ache", "nausea",
	"fatigue", "lethargy", "irritable", "crying", "not eating", "difficulty breathing",
}

var medicationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)tylenol|acetaminophen`),
	regexp.MustCompile(`(?i)ibuprofen|advil|motrin`),
	regexp.MustCompile(`(?i)amoxicillin|antibiotic`),
	regexp.MustCompile(`(?i)inhaler|albuterol`),
	regexp.MustCompile(`(?i)medication|medicine|drug`),
}

var (
	allergyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)allergic to ([a-z ]+)`),
		regexp.MustCompile(`(?i)allergy to ([a-z ]+)`),
		regexp.MustCompile(`(?i)penicillin allergy`),
		regexp.MustCompile(`(?i)food allergy`),
		regexp.MustCompile(`(?i)environmental allergy`),
	}
	allergyPrefix = regexp.MustCompile(`(?i)allergic to |allergy to `)
)

// Transcript renders queries, oldest first, as a plain-text conversation.
func Transcript(queries []models.Query) string {
	var b strings.Builder
	for i, q := range queries {
		if i > 0 {
			b.WriteString("\n")
		}
		answer := "Processing..."
		if q.Answer != nil && *q.Answer != "" {
			answer = *q.Answer
		}
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n---", q.UserQuestion, answer)
	}
	return b.String()
}

// BasicSummary is used when no model summary is available.
func BasicSummary(transcript string, now time.Time) string {
	var lines, userLines []string
	for _, line := range strings.Split(transcript, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if strings.HasPrefix(line, "User:") && len(userLines) < 3 {
			userLines = append(userLines, line)
		}
	}

	return fmt.Sprintf("Medical conversation summary:\nPrimary concerns: %s\nConversation length: %d exchanges\nGenerated: %s",
		strings.Join(userLines, "; "), len(lines), now.UTC().Format(time.RFC3339))
}

func summaryPrompt(transcript string, extra map[string]any) string {
	if extra == nil {
		extra = map[string]any{}
	}
	additional, _ := json.Marshal(extra)

	return fmt.Sprintf(`Summarize this pediatric medical conversation, focusing on key clinical information:

%s

Additional context: %s

Include:
1. Primary presenting concerns
2. Key symptoms and timeline
3. Any diagnoses discussed
4. Treatment recommendations given
5. Follow-up plans mentioned
6. Important medical history or context

Keep the summary professional, factual and limited to medically relevant information.`,
		transcript, additional)
}

func ExtractSymptoms(text string) []string {
	lower := strings.ToLower(text)
	found := make([]string, 0)
	for _, s := range symptomKeywords {
		if strings.Contains(lower, s) {
			found = append(found, s)
		}
	}
	return found
}

func ExtractMedications(text string) []string {
	set := newOrderedSet()
	for _, p := range medicationPatterns {
		for _, m := range p.FindAllString(text, -1) {
			set.add(strings.ToLower(m))
		}
	}
	return set.items
}

func ExtractAllergies(text string) []string {
	set := newOrderedSet()
	for _, p := range allergyPatterns {
		for _, m := range p.FindAllString(text, -1) {
			allergen := strings.TrimSpace(allergyPrefix.ReplaceAllString(m, ""))
			if len(allergen) > 2 {
				set.add(allergen)
			}
		}
	}
	return set.items
}

// ExtractDiagnoses collects diagnosis names from stored differential
// diagnosis steps.
func ExtractDiagnoses(queries []models.Query) []string {
	set := newOrderedSet()
	for _, q := range queries {
		for _, step := range q.ReasoningSteps {
			if step.Step != "differential_diagnosis" {
				continue
			}
			items, ok := step.Result.([]any)
			if !ok {
				continue
			}
			for _, item := range items {
				dx, ok := item.(map[string]any)
				if !ok {
					continue
				}
				for _, key := range []string{"name", "diagnosis"} {
					if name, ok := dx[key].(string); ok && name != "" {
						set.add(name)
						break
					}
				}
			}
		}
	}
	return set.items
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), items: make([]string, 0)}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
