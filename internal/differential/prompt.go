package differential

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/reasoning"
)

// UserDirective is the user turn sent after the system prompt.
const UserDirective = "Generate the next step based on the assessment context. Return ONLY valid JSON, no markdown code blocks."

var languageInstruction = assessment.Text{
	ZH: "请用中文生成问题和报告内容。",
	EN: "Generate questions and report content in English.",
}

const rulesTemplate = `## RULES
1. Ask ONE clear, specific question at a time
2. Use Bayesian reasoning: adjust probabilities based on each answer
3. Question types:
   - single_choice: Pick one from 2-6 options (MUST include "I don't know")
   - multiple_choice: Select multiple symptoms
   - boolean: Yes/No questions
   - scale: 1-10 severity rating
4. Categories: location, severity, timing, associated (symptoms), triggers
5. %s
6. **CRITICAL: NEVER repeat a question that has already been asked!** Review the CONVERSATION HISTORY carefully before generating a new question. Each question must explore a NEW aspect of the patient's condition.
7. If the patient answers "none_of_above" or provides a custom answer starting with "custom:", this means the previous options didn't match their situation. You MUST:
   - Acknowledge their input
   - Adjust your diagnostic direction significantly
   - Ask about completely different symptoms or aspects
   - Consider the custom description as important new information`

const (
	terminateNow      = "You MUST generate a report now (12+ questions asked)."
	terminateAdvisory = "Generate report when confidence > 80% or after 10-12 questions."
)

const reportRequirements = `## REPORT REQUIREMENTS
When generating a report:
- List 2-4 possible conditions ranked by probability
- Include matched symptoms for each condition
- Set urgency based on ACTUAL severity:
  * emergency: Life-threatening (chest pain + shortness of breath, severe bleeding, loss of consciousness)
  * urgent: Needs attention within 24h (high fever >39°C, severe pain, infection signs)
  * routine: Can wait for scheduled appointment (chronic mild symptoms, general discomfort)
  * self_care: Can be managed at home (common cold, mild headache, minor fatigue) - USE THIS MORE OFTEN for non-serious symptoms!
- **IMPORTANT**: Do NOT default to "routine" or "urgent" for common, non-serious symptoms. Most headaches, mild fatigue, and general discomfort should be "self_care".
- Provide actionable next_steps with icons (🏥 hospital, 💊 medication, 🛏️ rest, 📞 call doctor, 🧘 relaxation, 💧 hydration)`

const outputFormat = `## OUTPUT FORMAT (CRITICAL - MUST FOLLOW EXACTLY)
Return ONLY valid JSON, no markdown, no explanation. Use this exact structure:

For a question:
{"should_generate_report":false,"confidence":30,"question":{"text":"问题文本","type":"single_choice","options":[{"value":"opt1","label":"选项1"},{"value":"opt2","label":"选项2"},{"value":"unknown","label":"我不知道"}],"category":"severity"}}

For a report:
{"should_generate_report":true,"confidence":85,"report":{"conditions":[{"name":"条件名","description":"描述","probability":70,"matched_symptoms":["症状1"]}],"urgency":"routine","next_steps":[{"action":"建议","icon":"🏥"}]}}`

// Context is everything the reasoning model sees about a session.
type Context struct {
	Demographics   assessment.Demographics
	ChiefComplaint string
	Symptoms       []string
	History        []assessment.AnswerRecord
	Language       assessment.Locale
	// Terminate tells the model it must produce a report now.
	Terminate bool
}

// SystemPrompt renders the system prompt for c. Every prior question and
// answer is included so the model does not repeat itself.
func SystemPrompt(c Context) string {
	var sb strings.Builder
	sb.WriteString("You are an assessment engine, an expert medical AI performing differential diagnosis.\n\n")

	sb.WriteString("## LANGUAGE\n")
	sb.WriteString(languageInstruction.In(c.Language))
	sb.WriteString("\n\n")

	complaint := c.ChiefComplaint
	if complaint == "" {
		complaint = "Not specified"
	}
	symptoms := c.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	sb.WriteString("## PATIENT CONTEXT\n")
	fmt.Fprintf(&sb, "Demographics: %s\n", mustJSON(c.Demographics))
	fmt.Fprintf(&sb, "Chief Complaint: %q\n", complaint)
	fmt.Fprintf(&sb, "Confirmed Symptoms: %s\n\n", mustJSON(symptoms))

	sb.WriteString("## CONVERSATION HISTORY\n")
	for i, r := range c.History {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		text := r.QuestionText
		if text == "" {
			text = r.QuestionID
		}
		fmt.Fprintf(&sb, "Q%d: %s\nA%d: %s", i+1, text, i+1, mustJSON(r.Value))
	}
	sb.WriteString("\n\n")

	directive := terminateAdvisory
	if c.Terminate {
		directive = terminateNow
	}
	fmt.Fprintf(&sb, rulesTemplate, directive)
	sb.WriteString("\n\n")
	sb.WriteString(reportRequirements)
	sb.WriteString("\n\n")
	sb.WriteString(outputFormat)
	return sb.String()
}

// BuildMessages returns the system prompt and the fixed user directive.
func BuildMessages(c Context) []reasoning.Message {
	return []reasoning.Message{
		{Role: "system", Content: SystemPrompt(c)},
		{Role: "user", Content: UserDirective},
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
