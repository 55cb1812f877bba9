package safety

import (
	"fmt"

	"github.com/nelson-gpt/backend/pkg/utils"
)

func emergencyResponse(alerts []Alert, message string) string {
	primary := alerts[0]
	for _, a := range alerts {
		if a.Severity >= 9 {
			primary = a
			break
		}
	}

	return fmt.Sprintf(`**MEDICAL EMERGENCY DETECTED**

%s

**IMMEDIATE ACTIONS:**
1. **CALL 911 NOW** or go to the nearest emergency room
2. Stay with the patient and monitor vital signs
3. If trained, provide appropriate first aid
4. Have someone meet emergency responders
5. Gather any relevant medical information/medications

**DO NOT DELAY SEEKING PROFESSIONAL MEDICAL CARE**

---

**Important:** This is an automated safety alert based on your description: "%s"

AI medical assistance cannot replace emergency medical services. The symptoms you've described require immediate professional medical evaluation and treatment.

**Emergency Numbers:**
- Emergency Medical Services: **911**
- Poison Control: **1-800-222-1222**

Time is critical in medical emergencies. Please seek help immediately.`,
		primary.Message, utils.Truncate(message, 100))
}

func highPriorityResponse(alerts []Alert, message string) string {
	return fmt.Sprintf(`**HIGH PRIORITY MEDICAL CONCERN**

%s

**RECOMMENDED ACTIONS:**
1. Contact your pediatrician or healthcare provider immediately
2. If after hours, call the on-call service or consider urgent care
3. Monitor symptoms closely and watch for worsening
4. Be prepared to seek emergency care if condition deteriorates

**When to seek immediate emergency care:**
- Symptoms worsen rapidly
- New concerning symptoms develop
- Patient becomes less responsive
- Breathing becomes difficult
- Signs of severe dehydration appear

---

**Your Query:** "%s"

While this situation requires prompt medical attention, I can provide some general guidance while you arrange care with a healthcare professional.

**Next Steps:**
1. Document symptoms with times and details
2. Check temperature and vital signs if possible
3. Prepare list of current medications
4. Contact healthcare provider within the next few hours

**Medical Disclaimer:** This assessment is for guidance only. Please consult with a qualified healthcare provider for proper evaluation and treatment.`,
		alerts[0].Message, utils.Truncate(message, 150))
}

func standardResponse(message string) string {
	return fmt.Sprintf(`## Medical Guidance

Thank you for your question about: "%s"

Based on my analysis, while your concern doesn't appear to require immediate emergency care, all medical symptoms in children should be evaluated by appropriate healthcare professionals.

**General Recommendations:**
1. Monitor symptoms and document any changes
2. Contact your pediatrician if symptoms persist or worsen
3. Seek urgent care if you become concerned about rapid changes
4. Trust your parental instincts - you know your child best

**When to seek immediate medical attention:**
- Difficulty breathing or rapid breathing
- High fever (especially in infants under 3 months)
- Signs of dehydration
- Persistent vomiting or inability to keep fluids down
- Unusual lethargy or difficulty waking
- Any symptoms that worry you as a parent

---

**Important Medical Disclaimer:**
This response is for educational purposes only and should not replace professional medical advice, diagnosis, or treatment. Always consult with a qualified healthcare provider regarding medical concerns about your child.`,
		utils.Truncate(message, 100))
}
