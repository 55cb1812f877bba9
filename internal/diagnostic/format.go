package diagnostic

import (
	"fmt"
	"strings"
)

const disclaimer = `**Important Medical Disclaimer:**
This assessment is for educational purposes only and should not replace professional medical evaluation. ` +
	`Please consult with a qualified healthcare provider for proper diagnosis and treatment, especially if ` +
	`symptoms worsen or new concerns arise.`

func formatAnswer(in Input, s state) string {
	return fmt.Sprintf(`## Medical Assessment

**Primary Symptoms:** %s

**Clinical Assessment:** %s

**Most Likely Diagnosis:** %s

**Evidence Summary:** %s

**Treatment Recommendations:** %s

**Follow-up Guidance:** %s

---

%s

**Urgency Level:** %s
**Specialty Focus:** %s`,
		strings.Join(s.symptoms, ", "),
		s.assessment,
		s.evidence.topDiagnosis,
		s.evidence.evaluation,
		s.treatment.recommendations,
		s.followUp,
		disclaimer,
		in.Classification.UrgencyLevel,
		in.Classification.MedicalSpecialty,
	)
}
