package differential

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/intake/internal/assessment"
)

// ErrMalformed is returned when a reply is not a JSON object.
var ErrMalformed = errors.New("malformed model reply")

// ValidationError is returned when a reply parses but breaks the response
// contract.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid model reply: %s: %s", e.Field, e.Reason)
}

const (
	// Choice questions carry 2-6 real options; escape options the model
	// adds itself are tolerated on top and replaced during normalization.
	minOptions    = 2
	maxOptions    = 6
	maxRawOptions = maxOptions + 2
	maxConditions = 8

	defaultScaleMin = 1
	defaultScaleMax = 10
	scaleFloor      = 0
	scaleCeil       = 100
)

// Response is the model's reply after interpretation.
type Response struct {
	ShouldGenerateReport bool               `json:"should_generate_report"`
	Confidence           float64            `json:"confidence"`
	Question             *GeneratedQuestion `json:"question,omitempty"`
	Report               *GeneratedReport   `json:"report,omitempty"`
}

type GeneratedOption struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

type GeneratedQuestion struct {
	Text        string                  `json:"text"`
	Description string                  `json:"description,omitempty"`
	Type        assessment.QuestionType `json:"type"`
	Options     []GeneratedOption       `json:"options,omitempty"`
	Category    assessment.Category     `json:"category"`
	Min         *int                    `json:"min,omitempty"`
	Max         *int                    `json:"max,omitempty"`
}

type GeneratedCondition struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Probability     float64  `json:"probability"`
	MatchedSymptoms []string `json:"matched_symptoms"`
}

type GeneratedReport struct {
	Conditions []GeneratedCondition  `json:"conditions"`
	Urgency    assessment.Urgency    `json:"urgency"`
	NextSteps  []assessment.NextStep `json:"next_steps"`
}

// Sanitize removes reasoning traces and markdown fences around a reply.
// Everything through </think> is dropped when both think tags are present.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "<think>") && strings.Contains(s, "</think>") {
		s = strings.TrimSpace(s[strings.Index(s, "</think>")+len("</think>"):])
	}
	if rest, ok := strings.CutPrefix(s, "```json"); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Interpret sanitizes, parses and validates a model reply. Parse failures
// wrap ErrMalformed; contract violations are *ValidationError.
func Interpret(raw string) (Response, error) {
	var r Response
	if err := json.Unmarshal([]byte(Sanitize(raw)), &r); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := r.Validate(); err != nil {
		return Response{}, err
	}
	return r, nil
}

// Validate checks r against the response contract: a report is required
// when one is requested, otherwise a question is.
func (r Response) Validate() error {
	if r.Confidence < 0 || r.Confidence > 100 {
		return &ValidationError{"confidence", fmt.Sprintf("%v is outside 0-100", r.Confidence)}
	}
	if r.ShouldGenerateReport {
		if r.Report == nil {
			return &ValidationError{"report", "required when should_generate_report is true"}
		}
		return r.Report.validate()
	}
	if r.Question == nil {
		return &ValidationError{"question", "required unless a report is requested"}
	}
	return r.Question.validate()
}

func (q *GeneratedQuestion) validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return &ValidationError{"question.text", "empty"}
	}
	switch q.Type {
	case assessment.TypeSingleChoice, assessment.TypeMultipleChoice, assessment.TypeBoolean, assessment.TypeScale:
	default:
		return &ValidationError{"question.type", fmt.Sprintf("unknown type %q", q.Type)}
	}
	switch q.Category {
	case assessment.CategoryLocation, assessment.CategorySeverity, assessment.CategoryTiming,
		assessment.CategoryAssociated, assessment.CategoryTriggers:
	default:
		return &ValidationError{"question.category", fmt.Sprintf("unknown category %q", q.Category)}
	}
	if q.Type.IsChoice() {
		if len(q.Options) > maxRawOptions {
			return &ValidationError{"question.options", fmt.Sprintf("%d options, want at most %d", len(q.Options), maxRawOptions)}
		}
		answers := 0
		for i, o := range q.Options {
			opt := o.option()
			if opt.Value == "" || opt.Label == "" {
				return &ValidationError{fmt.Sprintf("question.options[%d]", i), "value and label are required"}
			}
			if assessment.ClassifyEscape(opt) == assessment.EscapeNone {
				answers++
			}
		}
		if answers < minOptions || answers > maxOptions {
			return &ValidationError{"question.options", fmt.Sprintf("%d answer options besides escapes, want %d-%d", answers, minOptions, maxOptions)}
		}
	}
	if q.Type == assessment.TypeScale {
		lo, hi := q.bounds()
		if lo < scaleFloor || hi > scaleCeil {
			return &ValidationError{"question.min", fmt.Sprintf("scale %d-%d is outside %d-%d", lo, hi, scaleFloor, scaleCeil)}
		}
		if lo >= hi {
			return &ValidationError{"question.min", fmt.Sprintf("scale min %d must be below max %d", lo, hi)}
		}
	}
	return nil
}

// bounds returns the scale range with missing ends defaulted.
func (q *GeneratedQuestion) bounds() (lo, hi int) {
	lo, hi = defaultScaleMin, defaultScaleMax
	if q.Min != nil {
		lo = *q.Min
	}
	if q.Max != nil {
		hi = *q.Max
	}
	return lo, hi
}

func (o GeneratedOption) option() assessment.Option {
	return assessment.Option{
		Value:       strings.TrimSpace(o.Value),
		Label:       strings.TrimSpace(o.Label),
		Description: o.Description,
	}
}

func (r *GeneratedReport) validate() error {
	if len(r.Conditions) < 1 || len(r.Conditions) > maxConditions {
		return &ValidationError{"report.conditions", fmt.Sprintf("%d conditions, want 1-%d", len(r.Conditions), maxConditions)}
	}
	for i, c := range r.Conditions {
		if strings.TrimSpace(c.Name) == "" {
			return &ValidationError{fmt.Sprintf("report.conditions[%d].name", i), "empty"}
		}
		if c.Probability < 0 || c.Probability > 100 {
			return &ValidationError{fmt.Sprintf("report.conditions[%d].probability", i), fmt.Sprintf("%v is outside 0-100", c.Probability)}
		}
	}
	switch r.Urgency {
	case assessment.UrgencyEmergency, assessment.UrgencyUrgent, assessment.UrgencyRoutine, assessment.UrgencySelfCare:
	default:
		return &ValidationError{"report.urgency", fmt.Sprintf("unknown urgency %q", r.Urgency)}
	}
	return nil
}

// ToQuestion converts a validated question. Options are classified for
// escape identity but not yet normalized. Missing scale bounds default to
// 1 and 10.
func (q *GeneratedQuestion) ToQuestion() assessment.Question {
	out := assessment.Question{
		Text:        strings.TrimSpace(q.Text),
		Description: q.Description,
		Type:        q.Type,
		Category:    q.Category,
	}
	if q.Type.IsChoice() {
		out.Options = make([]assessment.Option, len(q.Options))
		for i, o := range q.Options {
			opt := o.option()
			opt.Escape = assessment.ClassifyEscape(opt)
			out.Options[i] = opt
		}
	}
	if q.Type == assessment.TypeScale {
		lo, hi := q.bounds()
		out.Min, out.Max = &lo, &hi
	}
	return out
}

// ToDraft converts a validated report into an unranked draft.
func (r *GeneratedReport) ToDraft() assessment.ReportDraft {
	d := assessment.ReportDraft{
		Conditions: make([]assessment.Condition, len(r.Conditions)),
		Urgency:    r.Urgency,
		NextSteps:  r.NextSteps,
	}
	for i, c := range r.Conditions {
		d.Conditions[i] = assessment.Condition{
			Name:            c.Name,
			Description:     c.Description,
			Probability:     c.Probability,
			MatchedSymptoms: c.MatchedSymptoms,
		}
	}
	return d
}
