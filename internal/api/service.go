package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/intake/internal/apperr"
	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/interview"
	"github.com/kalambet/intake/internal/profile"
	"github.com/kalambet/intake/internal/storage"
)

// Interviewer runs interview turns. Implemented by interview.Engine.
type Interviewer interface {
	Pending(s assessment.Session) (interview.Step, bool)
	Turn(ctx context.Context, s assessment.Session, ans *interview.Answer, language string) (interview.Result, error)
}

// ProfileReader returns a user's stored demographics.
type ProfileReader interface {
	Get(ctx context.Context, userID string) (assessment.Demographics, error)
}

// ServiceConfig holds session defaults.
type ServiceConfig struct {
	SessionTTL      time.Duration
	DefaultLanguage assessment.Locale
	DefaultCountry  string
}

// Service loads, advances and persists assessment sessions on behalf of an
// authenticated owner. Both the HTTP handlers and the MCP tools use it.
type Service struct {
	store    storage.AssessmentStore
	engine   Interviewer
	profiles ProfileReader
	cfg      ServiceConfig
	now      func() time.Time
}

func NewService(store storage.AssessmentStore, engine Interviewer, profiles ProfileReader, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = assessment.LocaleZH
	}
	if cfg.DefaultCountry == "" {
		cfg.DefaultCountry = "CN"
	}
	return &Service{store: store, engine: engine, profiles: profiles, cfg: cfg, now: time.Now}
}

type StartRequest struct {
	Language    string `json:"language,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	ForceNew    bool   `json:"force_new,omitempty"`
}

type AnswerRequest struct {
	QuestionID  string          `json:"question_id"`
	Value       json.RawMessage `json:"value"`
	InputMethod string          `json:"input_method,omitempty"`
}

type NextRequest struct {
	SessionID string         `json:"session_id"`
	Answer    *AnswerRequest `json:"answer,omitempty"`
	Language  string         `json:"language,omitempty"`
}

// Start resumes the owner's active session or creates a new one, and returns
// the step the owner should see.
func (s *Service) Start(ctx context.Context, owner string, req StartRequest) (interview.Step, error) {
	now := s.now()
	active, err := s.store.ActiveSession(ctx, owner, now)
	switch {
	case err == nil && !req.ForceNew:
		if step, ok := s.engine.Pending(active); ok {
			return step, nil
		}
		return s.advance(ctx, active, nil, req.Language)
	case err == nil:
		u := assessment.UpdateFrom(active)
		u.Status = assessment.StatusExpired
		if err := s.store.UpdateSession(ctx, active.ID, u, now); err != nil {
			return interview.Step{}, fmt.Errorf("abandoning session %s: %w", active.ID, err)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return interview.Step{}, fmt.Errorf("looking up active session: %w", err)
	}

	demographics, err := s.profiles.Get(ctx, owner)
	if err != nil {
		slog.Warn("health profile unavailable, starting without it", "user_id", owner, "error", err)
	}

	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if country == "" {
		country = s.cfg.DefaultCountry
	}
	sess := assessment.Session{
		ID:           uuid.NewString(),
		UserID:       owner,
		Phase:        assessment.PhaseBaseline,
		Status:       assessment.StatusActive,
		Symptoms:     []string{},
		History:      []assessment.AnswerRecord{},
		Demographics: profile.Merge(assessment.Demographics{}, demographics),
		Language:     assessment.ParseLocale(req.Language, s.cfg.DefaultLanguage),
		CountryCode:  country,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.SessionTTL),
	}

	res, err := s.engine.Turn(ctx, sess, nil, req.Language)
	if err != nil {
		return interview.Step{}, err
	}
	sess = res.Update.Apply(sess)
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return interview.Step{}, fmt.Errorf("creating session: %w", err)
	}
	slog.Info("assessment started", "session_id", sess.ID, "user_id", owner, "language", sess.Language)
	return res.Step, nil
}

// Next applies the owner's answer to a session and returns the next step.
func (s *Service) Next(ctx context.Context, owner string, req NextRequest) (interview.Step, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return interview.Step{}, apperr.InvalidRequest("session_id is required")
	}
	sess, err := s.Session(ctx, owner, req.SessionID)
	if err != nil {
		return interview.Step{}, err
	}

	var ans *interview.Answer
	if req.Answer != nil {
		ans = &interview.Answer{
			QuestionID:  req.Answer.QuestionID,
			Value:       req.Answer.Value,
			InputMethod: assessment.InputMethod(req.Answer.InputMethod),
		}
	}
	return s.advance(ctx, sess, ans, req.Language)
}

func (s *Service) advance(ctx context.Context, sess assessment.Session, ans *interview.Answer, language string) (interview.Step, error) {
	res, err := s.engine.Turn(ctx, sess, ans, language)
	if errors.Is(err, interview.ErrSessionExpired) {
		if uerr := s.store.UpdateSession(ctx, sess.ID, res.Update, s.now()); uerr != nil {
			slog.Warn("failed to mark session expired", "session_id", sess.ID, "error", uerr)
		}
		return interview.Step{}, apperr.SessionExpired(sess.ID)
	}
	if err != nil {
		return interview.Step{}, err
	}
	if err := s.store.UpdateSession(ctx, sess.ID, res.Update, s.now()); err != nil {
		return interview.Step{}, fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return res.Step, nil
}

// Session returns a session owned by owner. Sessions of other users are
// reported as not found.
func (s *Service) Session(ctx context.Context, owner, id string) (assessment.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && sess.UserID != owner) {
		return assessment.Session{}, apperr.SessionNotFound(id)
	}
	if err != nil {
		return assessment.Session{}, fmt.Errorf("loading session %s: %w", id, err)
	}
	return sess, nil
}

// Sessions lists the owner's most recent sessions.
func (s *Service) Sessions(ctx context.Context, owner string, limit int) ([]assessment.Session, error) {
	return s.store.ListSessions(ctx, owner, limit)
}

// Report returns the stored report of a session owned by owner.
func (s *Service) Report(ctx context.Context, owner, sessionID string) (storage.StoredReport, error) {
	sr, err := s.store.GetReport(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && sr.UserID != owner) {
		return storage.StoredReport{}, apperr.NotFound("report").WithDetail("session_id", sessionID)
	}
	if err != nil {
		return storage.StoredReport{}, fmt.Errorf("loading report %s: %w", sessionID, err)
	}
	return sr, nil
}
