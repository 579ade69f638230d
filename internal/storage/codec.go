package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/redflag"
)

// timeFormat sorts lexicographically in UTC.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

// sessionRow is a session with its structured fields encoded as JSON text.
type sessionRow struct {
	ID              string
	UserID          string
	Phase           string
	Status          string
	ChiefComplaint  string
	Symptoms        string
	History         string
	CurrentQuestion *string
	Demographics    string
	Language        string
	CountryCode     string
}

func encodeSession(s assessment.Session) (sessionRow, error) {
	r := sessionRow{
		ID:             s.ID,
		UserID:         s.UserID,
		Phase:          string(s.Phase),
		Status:         string(s.Status),
		ChiefComplaint: s.ChiefComplaint,
		Language:       string(s.Language),
		CountryCode:    s.CountryCode,
	}

	symptoms := s.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	history := s.History
	if history == nil {
		history = []assessment.AnswerRecord{}
	}

	var err error
	if r.Symptoms, err = jsonText(symptoms); err != nil {
		return sessionRow{}, fmt.Errorf("encoding symptoms: %w", err)
	}
	if r.History, err = jsonText(history); err != nil {
		return sessionRow{}, fmt.Errorf("encoding history: %w", err)
	}
	if r.Demographics, err = jsonText(s.Demographics); err != nil {
		return sessionRow{}, fmt.Errorf("encoding demographics: %w", err)
	}
	if s.CurrentQuestion != nil {
		q, err := jsonText(s.CurrentQuestion)
		if err != nil {
			return sessionRow{}, fmt.Errorf("encoding current question: %w", err)
		}
		r.CurrentQuestion = &q
	}
	return r, nil
}

func (r sessionRow) decode(createdAt, updatedAt, expiresAt time.Time) (assessment.Session, error) {
	s := assessment.Session{
		ID:             r.ID,
		UserID:         r.UserID,
		Phase:          assessment.Phase(r.Phase),
		Status:         assessment.Status(r.Status),
		ChiefComplaint: r.ChiefComplaint,
		Language:       assessment.Locale(r.Language),
		CountryCode:    r.CountryCode,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		ExpiresAt:      expiresAt,
	}
	if err := json.Unmarshal([]byte(r.Symptoms), &s.Symptoms); err != nil {
		return assessment.Session{}, fmt.Errorf("decoding symptoms of session %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.History), &s.History); err != nil {
		return assessment.Session{}, fmt.Errorf("decoding history of session %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Demographics), &s.Demographics); err != nil {
		return assessment.Session{}, fmt.Errorf("decoding demographics of session %s: %w", r.ID, err)
	}
	if r.CurrentQuestion != nil && *r.CurrentQuestion != "" {
		var q assessment.Question
		if err := json.Unmarshal([]byte(*r.CurrentQuestion), &q); err != nil {
			return assessment.Session{}, fmt.Errorf("decoding current question of session %s: %w", r.ID, err)
		}
		s.CurrentQuestion = &q
	}
	return s, nil
}

// eventRow is a red flag event with its lists encoded as JSON text.
type eventRow struct {
	Matched  string
	Symptoms string
	History  string
}

func encodeEvent(ev redflag.Event) (eventRow, error) {
	var (
		r   eventRow
		err error
	)
	if r.Matched, err = jsonText(orEmpty(ev.MatchedTerms)); err != nil {
		return eventRow{}, err
	}
	if r.Symptoms, err = jsonText(orEmpty(ev.Symptoms)); err != nil {
		return eventRow{}, err
	}
	history := ev.History
	if history == nil {
		history = []assessment.AnswerRecord{}
	}
	if r.History, err = jsonText(history); err != nil {
		return eventRow{}, err
	}
	return r, nil
}

func (r eventRow) decodeInto(ev *redflag.Event) error {
	if err := json.Unmarshal([]byte(r.Matched), &ev.MatchedTerms); err != nil {
		return fmt.Errorf("decoding matched terms: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Symptoms), &ev.Symptoms); err != nil {
		return fmt.Errorf("decoding symptoms: %w", err)
	}
	if err := json.Unmarshal([]byte(r.History), &ev.History); err != nil {
		return fmt.Errorf("decoding history: %w", err)
	}
	return nil
}

func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
