// Package redflag detects symptom combinations that need emergency care and
// builds the emergency interrupt shown instead of the next question.
package redflag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kalambet/intake/internal/assessment"
)

// Pattern is a named group of terms. It triggers when at least MinMatches
// distinct terms occur in the scanned text.
type Pattern struct {
	ID         string
	Terms      []string
	MinMatches int
	Message    assessment.Text
}

var builtinPatterns = []Pattern{
	{
		ID:         "cardiac_emergency",
		Terms:      []string{"chest pain", "radiating to arm", "radiating to jaw", "crushing pressure", "胸痛", "放射到手臂", "压迫感"},
		MinMatches: 2,
		Message: assessment.Text{
			ZH: "您描述的症状可能提示心脏紧急情况。请立刻拨打急救电话或前往最近的急诊室。",
			EN: "Your symptoms may indicate a cardiac emergency. Call emergency services or go to the nearest ER immediately.",
		},
	},
	{
		ID:         "stroke_warning",
		Terms:      []string{"sudden severe headache", "worst headache", "facial drooping", "arm weakness", "speech difficulty", "突发剧烈头痛", "面部下垂", "言语困难"},
		MinMatches: 2,
		Message: assessment.Text{
			ZH: "您描述的症状可能提示中风。时间就是大脑！请立刻拨打急救电话。",
			EN: "Your symptoms may indicate a stroke. Time is brain! Call emergency services immediately.",
		},
	},
	{
		ID:         "anaphylaxis",
		Terms:      []string{"difficulty breathing", "throat swelling", "severe allergic", "hives spreading", "呼吸困难", "喉咙肿胀", "严重过敏"},
		MinMatches: 2,
		Message: assessment.Text{
			ZH: "您可能正在经历严重过敏反应。请立即拨打急救电话并使用肾上腺素笔（如有）。",
			EN: "You may be experiencing anaphylaxis. Call emergency services immediately and use epinephrine if available.",
		},
	},
}

// BuiltinPatterns returns a copy of the patterns every interceptor checks.
func BuiltinPatterns() []Pattern {
	out := make([]Pattern, len(builtinPatterns))
	copy(out, builtinPatterns)
	return out
}

// Result is the outcome of a check. Pattern and Matched are empty when clear.
type Result struct {
	Triggered bool
	Pattern   string
	Matched   []string
	Message   assessment.Text
}

// Event is the audit record of a triggered check, carrying the full context
// that was scanned.
type Event struct {
	SessionID      string
	UserID         string
	Pattern        string
	MatchedTerms   []string
	ChiefComplaint string
	Symptoms       []string
	History        []assessment.AnswerRecord
	DetectedAt     time.Time
}

// Interceptor checks interview text against an ordered pattern list. The
// first triggering pattern wins. It is safe for concurrent use.
type Interceptor struct {
	patterns []Pattern
}

// New returns an Interceptor over the built-in patterns followed by extra.
func New(extra ...Pattern) *Interceptor {
	ps := BuiltinPatterns()
	for _, p := range extra {
		if p.MinMatches < 1 {
			p.MinMatches = 1
		}
		ps = append(ps, p)
	}
	return &Interceptor{patterns: ps}
}

type patternFile struct {
	ID         string   `json:"id"`
	Terms      []string `json:"terms"`
	MinMatches int      `json:"min_matches"`
	MessageZH  string   `json:"message_zh"`
	MessageEN  string   `json:"message_en"`
}

// LoadFile returns an Interceptor over the built-in patterns plus those in
// the JSON array at path. An empty path yields the built-ins only.
func LoadFile(path string) (*Interceptor, error) {
	if path == "" {
		return New(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading red flag patterns: %w", err)
	}
	var files []patternFile
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("parsing red flag patterns %s: %w", path, err)
	}
	extra := make([]Pattern, 0, len(files))
	for i, f := range files {
		if f.ID == "" || len(f.Terms) == 0 {
			return nil, fmt.Errorf("red flag pattern %d in %s needs an id and terms", i, path)
		}
		extra = append(extra, Pattern{
			ID:         f.ID,
			Terms:      f.Terms,
			MinMatches: f.MinMatches,
			Message:    assessment.Text{ZH: f.MessageZH, EN: f.MessageEN},
		})
	}
	return New(extra...), nil
}

// Patterns returns the interceptor's pattern list.
func (ic *Interceptor) Patterns() []Pattern {
	return ic.patterns
}

// Check scans the symptoms, the chief complaint and the textual answer values
// of history. Question texts are not scanned.
func (ic *Interceptor) Check(symptoms []string, complaint string, history []assessment.AnswerRecord) Result {
	corpus := buildCorpus(symptoms, complaint, history)
	if corpus == "" {
		return Result{}
	}
	for _, p := range ic.patterns {
		var matched []string
		for _, term := range p.Terms {
			if strings.Contains(corpus, strings.ToLower(term)) {
				matched = append(matched, term)
			}
		}
		if len(matched) >= p.MinMatches {
			return Result{Triggered: true, Pattern: p.ID, Matched: matched, Message: p.Message}
		}
	}
	return Result{}
}

func buildCorpus(symptoms []string, complaint string, history []assessment.AnswerRecord) string {
	var b strings.Builder
	add := func(s string) {
		if s = strings.TrimSpace(s); s == "" {
			return
		}
		b.WriteString(strings.ToLower(strings.ReplaceAll(s, "_", " ")))
		b.WriteString("\n")
	}
	for _, s := range symptoms {
		add(s)
	}
	add(complaint)
	for _, r := range history {
		for _, s := range r.Value.Strings() {
			add(strings.TrimPrefix(s, assessment.CustomPrefix))
		}
	}
	return b.String()
}
