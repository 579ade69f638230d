// Package assessment holds the interview domain model and the deterministic
// building blocks of an assessment: baseline questions, fallback questions,
// escape-option normalization and report synthesis.
package assessment

import "time"

// Locale selects the language of locally authored text.
type Locale string

const (
	LocaleZH Locale = "zh"
	LocaleEN Locale = "en"
)

// ParseLocale maps a language tag to a supported locale. Tags such as
// "en-US" resolve by their primary subtag; anything unknown yields def.
func ParseLocale(tag string, def Locale) Locale {
	if len(tag) >= 2 {
		switch Locale(tag[:2]) {
		case LocaleZH:
			return LocaleZH
		case LocaleEN:
			return LocaleEN
		}
	}
	return def
}

// Text is a string authored in every supported locale.
type Text struct {
	ZH string
	EN string
}

func (t Text) In(l Locale) string {
	if l == LocaleEN {
		return t.EN
	}
	return t.ZH
}

type Phase string

const (
	PhaseBaseline       Phase = "baseline"
	PhaseChiefComplaint Phase = "chief_complaint"
	PhaseDifferential   Phase = "differential"
	PhaseReport         Phase = "report"
	PhaseEmergency      Phase = "emergency"
)

// Terminal reports whether no further turns are accepted in p.
func (p Phase) Terminal() bool {
	return p == PhaseReport || p == PhaseEmergency
}

type Status string

const (
	StatusActive             Status = "active"
	StatusCompleted          Status = "completed"
	StatusExpired            Status = "expired"
	StatusEmergencyTriggered Status = "emergency_triggered"
)

type QuestionType string

const (
	TypeSingleChoice   QuestionType = "single_choice"
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeBoolean        QuestionType = "boolean"
	TypeScale          QuestionType = "scale"
	TypeText           QuestionType = "text"
)

// IsChoice reports whether questions of type t carry an option list.
func (t QuestionType) IsChoice() bool {
	return t == TypeSingleChoice || t == TypeMultipleChoice
}

type Category string

const (
	CategoryLocation     Category = "location"
	CategorySeverity     Category = "severity"
	CategoryTiming       Category = "timing"
	CategoryAssociated   Category = "associated"
	CategoryTriggers     Category = "triggers"
	CategoryDemographics Category = "demographics"
	CategoryHistory      Category = "history"
)

type InputMethod string

const (
	InputTap   InputMethod = "tap"
	InputType  InputMethod = "type"
	InputVoice InputMethod = "voice"
)

type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyRoutine   Urgency = "routine"
	UrgencySelfCare  Urgency = "self_care"
)

// Option is one answer choice of a choice question. Escape is set only on the
// universal "none of the above" and "I don't know" choices.
type Option struct {
	Value       string     `json:"value"`
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Escape      EscapeKind `json:"escape,omitempty"`
}

// Question is an outbound question. Min and Max are set for scale questions
// only; Options for choice questions only.
type Question struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Description string       `json:"description,omitempty"`
	Type        QuestionType `json:"type"`
	Category    Category     `json:"category"`
	Options     []Option     `json:"options,omitempty"`
	Min         *int         `json:"min,omitempty"`
	Max         *int         `json:"max,omitempty"`
	Progress    int          `json:"progress"`
}

// AnswerRecord is one entry of a session's answer history.
type AnswerRecord struct {
	QuestionID   string      `json:"question_id"`
	QuestionText string      `json:"question_text"`
	Value        AnswerValue `json:"value"`
	InputMethod  InputMethod `json:"input_method,omitempty"`
	AnsweredAt   time.Time   `json:"answered_at"`
}

type Demographics struct {
	Sex            string   `json:"sex,omitempty"`
	AgeRange       string   `json:"age_range,omitempty"`
	Smoking        string   `json:"smoking,omitempty"`
	MedicalHistory []string `json:"medical_history,omitempty"`
	Medications    []string `json:"medications,omitempty"`
}

type Condition struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Probability     float64  `json:"probability"`
	MatchedSymptoms []string `json:"matched_symptoms"`
	IsBestMatch     bool     `json:"is_best_match"`
}

type NextStep struct {
	Action string `json:"action"`
	Icon   string `json:"icon"`
}

type Report struct {
	Conditions []Condition `json:"conditions"`
	Urgency    Urgency     `json:"urgency"`
	NextSteps  []NextStep  `json:"next_steps"`
	Disclaimer string      `json:"disclaimer"`
}

// Session is a snapshot of one interview. The interview engine never mutates
// a Session; it returns an Update for the caller to persist.
type Session struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Phase           Phase          `json:"phase"`
	Status          Status         `json:"status"`
	ChiefComplaint  string         `json:"chief_complaint,omitempty"`
	Symptoms        []string       `json:"symptoms"`
	History         []AnswerRecord `json:"history"`
	CurrentQuestion *Question      `json:"current_question,omitempty"`
	Demographics    Demographics   `json:"demographics"`
	Language        Locale         `json:"language"`
	CountryCode     string         `json:"country_code"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Update is the set of session fields a turn may change. Identity, owner,
// country and timestamps are never part of an update.
type Update struct {
	Phase           Phase
	Status          Status
	ChiefComplaint  string
	Symptoms        []string
	History         []AnswerRecord
	CurrentQuestion *Question
	Demographics    Demographics
	Language        Locale
}

// UpdateFrom returns an Update that leaves s unchanged when applied.
func UpdateFrom(s Session) Update {
	return Update{
		Phase:           s.Phase,
		Status:          s.Status,
		ChiefComplaint:  s.ChiefComplaint,
		Symptoms:        s.Symptoms,
		History:         s.History,
		CurrentQuestion: s.CurrentQuestion,
		Demographics:    s.Demographics,
		Language:        s.Language,
	}
}

// Apply returns a copy of s with u's fields written over it.
func (u Update) Apply(s Session) Session {
	s.Phase = u.Phase
	s.Status = u.Status
	s.ChiefComplaint = u.ChiefComplaint
	s.Symptoms = u.Symptoms
	s.History = u.History
	s.CurrentQuestion = u.CurrentQuestion
	s.Demographics = u.Demographics
	s.Language = u.Language
	return s
}

const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
