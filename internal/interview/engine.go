// Package interview runs the assessment state machine. Each turn takes a
// session snapshot and an optional answer and returns the next step plus the
// session update the caller must persist.
package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/differential"
	"github.com/kalambet/intake/internal/metrics"
	"github.com/kalambet/intake/internal/redflag"
)

var (
	// ErrSessionExpired is returned for sessions past their expiry. The
	// Update returned with it flips the status and must still be persisted.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionClosed is returned for sessions in a terminal phase.
	ErrSessionClosed = errors.New("session is closed")
	// ErrNoQuestion is returned when the generator produced no step at all.
	ErrNoQuestion = errors.New("no question generated")
)

const reportWriteTimeout = 15 * time.Second

// Interceptor scans session text for red flags.
type Interceptor interface {
	Check(symptoms []string, complaint string, history []assessment.AnswerRecord) redflag.Result
}

// Generator produces differential steps.
type Generator interface {
	Generate(ctx context.Context, req differential.Request) differential.Outcome
}

// AuditLogger records triggered red flags.
type AuditLogger interface {
	LogRedFlag(ctx context.Context, ev redflag.Event) error
}

// ReportStore persists finished reports.
type ReportStore interface {
	SaveReport(ctx context.Context, sessionID, userID string, r assessment.Report, l assessment.Locale) error
}

// MemoryWriter hands a finished assessment to long-term memory.
type MemoryWriter interface {
	Remember(ctx context.Context, s assessment.Session, r assessment.Report) error
}

// ProfileWriter stores baseline demographics on the user's health profile.
type ProfileWriter interface {
	SaveDemographics(ctx context.Context, userID string, d assessment.Demographics) error
}

// Answer is the user's reply to the pending question, as received.
type Answer struct {
	QuestionID  string
	Value       json.RawMessage
	InputMethod assessment.InputMethod
}

type StepType string

const (
	StepQuestion  StepType = "question"
	StepReport    StepType = "report"
	StepEmergency StepType = "emergency"
)

// Step is what the user sees next. Exactly one of Question, Report and
// Emergency is set, matching Type.
type Step struct {
	Type      StepType             `json:"step_type"`
	SessionID string               `json:"session_id"`
	Phase     assessment.Phase     `json:"phase"`
	Question  *assessment.Question `json:"question,omitempty"`
	Report    *assessment.Report   `json:"report,omitempty"`
	Emergency *redflag.Emergency   `json:"emergency,omitempty"`
}

// Result is the outcome of one turn.
type Result struct {
	Step   Step
	Update assessment.Update
}

// Engine is the interview state machine. It holds no per-session state and
// is safe for concurrent use.
type Engine struct {
	interceptor Interceptor
	generator   Generator
	audit       AuditLogger
	reports     ReportStore
	memory      MemoryWriter
	profiles    ProfileWriter
	now         func() time.Time
}

type Option func(*Engine)

func WithAuditLogger(a AuditLogger) Option { return func(e *Engine) { e.audit = a } }
func WithReportStore(r ReportStore) Option { return func(e *Engine) { e.reports = r } }
func WithMemoryWriter(m MemoryWriter) Option { return func(e *Engine) { e.memory = m } }
func WithProfileWriter(p ProfileWriter) Option { return func(e *Engine) { e.profiles = p } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an Engine. Collaborators not supplied through options are
// skipped.
func New(ic Interceptor, gen Generator, opts ...Option) *Engine {
	e := &Engine{interceptor: ic, generator: gen, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Pending returns the question a session is waiting on, for re-emission when
// the session is resumed. ok is false when nothing has been asked yet or the
// session is finished.
func (e *Engine) Pending(s assessment.Session) (step Step, ok bool) {
	if s.CurrentQuestion == nil || s.Phase.Terminal() {
		return Step{}, false
	}
	return questionStep(s.ID, s.Phase, *s.CurrentQuestion), true
}

// Turn advances s by one step. ans is nil when the client only asks for the
// current step. language overrides the session language when it names a
// supported locale.
func (e *Engine) Turn(ctx context.Context, s assessment.Session, ans *Answer, language string) (Result, error) {
	now := e.now()
	if s.Status == assessment.StatusExpired || s.Expired(now) {
		u := assessment.UpdateFrom(s)
		u.Status = assessment.StatusExpired
		return Result{Update: u}, ErrSessionExpired
	}
	if s.Phase.Terminal() {
		return Result{}, fmt.Errorf("%w: phase is %s", ErrSessionClosed, s.Phase)
	}

	lang := assessment.ParseLocale(language, assessment.ParseLocale(string(s.Language), assessment.LocaleZH))
	u := assessment.UpdateFrom(s)
	u.Language = lang

	history := slices.Clone(s.History)
	var rec *assessment.AnswerRecord
	if ans != nil {
		r, err := e.record(s, *ans, now)
		if err != nil {
			return Result{}, err
		}
		rec = &r
		history = append(history, r)
	}

	if flag := e.interceptor.Check(s.Symptoms, s.ChiefComplaint, history); flag.Triggered {
		return e.emergency(ctx, s, u, history, flag, now), nil
	}

	u.History = history
	if rec != nil && assessment.IsBaselineQuestion(rec.QuestionID) {
		u.Demographics = assessment.ApplyBaselineAnswer(u.Demographics, *rec)
	}

	var (
		res Result
		err error
	)
	switch s.Phase {
	case assessment.PhaseChiefComplaint:
		if rec == nil {
			res = e.ask(s.ID, u, assessment.ChiefComplaintQuestion(lang))
			break
		}
		complaint := strings.TrimSpace(rec.Value.String())
		u.ChiefComplaint = complaint
		u.Symptoms = []string{complaint}
		u.Phase = assessment.PhaseDifferential
		res, err = e.differential(ctx, s, u)
	case assessment.PhaseDifferential:
		res, err = e.differential(ctx, s, u)
	default:
		res = e.baseline(ctx, s, u)
	}
	if err != nil {
		return Result{}, err
	}
	metrics.Turns.WithLabelValues(string(res.Update.Phase), string(res.Step.Type)).Inc()
	return res, nil
}

// record binds ans to the pending question.
func (e *Engine) record(s assessment.Session, ans Answer, now time.Time) (assessment.AnswerRecord, error) {
	id := strings.TrimSpace(ans.QuestionID)
	if id == "" {
		return assessment.AnswerRecord{}, fmt.Errorf("%w: question_id is required", assessment.ErrInvalidAnswer)
	}
	q := s.CurrentQuestion
	if q != nil && q.ID != id {
		return assessment.AnswerRecord{}, fmt.Errorf("%w: answer is for %q but %q is pending", assessment.ErrInvalidAnswer, id, q.ID)
	}

	method := ans.InputMethod
	switch method {
	case "":
		method = assessment.InputTap
	case assessment.InputTap, assessment.InputType, assessment.InputVoice:
	default:
		return assessment.AnswerRecord{}, fmt.Errorf("%w: unknown input method %q", assessment.ErrInvalidAnswer, method)
	}

	v, err := assessment.DecodeAnswer(ans.Value, q)
	if err != nil {
		return assessment.AnswerRecord{}, err
	}

	text := id
	if q != nil {
		text = q.Text
	}
	return assessment.AnswerRecord{
		QuestionID:   id,
		QuestionText: text,
		Value:        v,
		InputMethod:  method,
		AnsweredAt:   now,
	}, nil
}

func (e *Engine) emergency(ctx context.Context, s assessment.Session, u assessment.Update, history []assessment.AnswerRecord, flag redflag.Result, now time.Time) Result {
	slog.Warn("red flag triggered",
		"session_id", s.ID,
		"pattern", flag.Pattern,
		"matched", flag.Matched,
	)
	metrics.RedFlags.WithLabelValues(flag.Pattern).Inc()

	if e.audit != nil {
		ev := redflag.Event{
			SessionID:      s.ID,
			UserID:         s.UserID,
			Pattern:        flag.Pattern,
			MatchedTerms:   flag.Matched,
			ChiefComplaint: s.ChiefComplaint,
			Symptoms:       s.Symptoms,
			History:        history,
			DetectedAt:     now,
		}
		if err := e.audit.LogRedFlag(ctx, ev); err != nil {
			slog.Warn("failed to write red flag audit event", "session_id", s.ID, "error", err)
			metrics.CollaboratorFailures.WithLabelValues("audit").Inc()
		}
	}

	// The answer that triggered the interrupt is kept in the audit log only.
	u.History = s.History
	u.Phase = assessment.PhaseEmergency
	u.Status = assessment.StatusEmergencyTriggered
	u.CurrentQuestion = nil

	em := redflag.BuildEmergency(flag, s.CountryCode, u.Language)
	metrics.Turns.WithLabelValues(string(u.Phase), string(StepEmergency)).Inc()
	return Result{
		Step: Step{
			Type:      StepEmergency,
			SessionID: s.ID,
			Phase:     assessment.PhaseEmergency,
			Emergency: &em,
		},
		Update: u,
	}
}

func (e *Engine) baseline(ctx context.Context, s assessment.Session, u assessment.Update) Result {
	u.Phase = assessment.PhaseBaseline
	if q, ok := assessment.NextBaseline(u.History, u.Language); ok {
		return e.ask(s.ID, u, q)
	}

	if e.profiles != nil {
		if err := e.profiles.SaveDemographics(ctx, s.UserID, u.Demographics); err != nil {
			slog.Warn("failed to update health profile", "session_id", s.ID, "error", err)
			metrics.CollaboratorFailures.WithLabelValues("profile").Inc()
		}
	}
	u.Phase = assessment.PhaseChiefComplaint
	return e.ask(s.ID, u, assessment.ChiefComplaintQuestion(u.Language))
}

func (e *Engine) differential(ctx context.Context, s assessment.Session, u assessment.Update) (Result, error) {
	count := len(u.History)
	terminate := count >= assessment.MaxAnswers

	out := e.generator.Generate(ctx, differential.Request{
		Context: differential.Context{
			Demographics:   u.Demographics,
			ChiefComplaint: u.ChiefComplaint,
			Symptoms:       u.Symptoms,
			History:        u.History,
			Language:       u.Language,
			Terminate:      terminate,
		},
		QuestionID: fmt.Sprintf("q_%d", count+1),
		Progress:   assessment.DifferentialProgress(count),
	})

	draft := out.Report
	if draft == nil && terminate {
		slog.Warn("answer limit reached without a report, drafting inconclusive report",
			"session_id", s.ID,
			"answers", count,
			"backend", out.Backend,
		)
		metrics.Fallbacks.WithLabelValues("inconclusive").Inc()
		d := assessment.InconclusiveDraft(u.Symptoms, u.Language)
		draft = &d
	}

	if draft != nil {
		report := assessment.Synthesize(*draft, u.Language)
		u.Phase = assessment.PhaseReport
		u.Status = assessment.StatusCompleted
		u.CurrentQuestion = nil
		e.storeReport(ctx, u.Apply(s), report)
		metrics.Reports.WithLabelValues(string(report.Urgency)).Inc()
		return Result{
			Step: Step{
				Type:      StepReport,
				SessionID: s.ID,
				Phase:     assessment.PhaseReport,
				Report:    &report,
			},
			Update: u,
		}, nil
	}

	if out.Question == nil {
		return Result{}, ErrNoQuestion
	}
	return e.ask(s.ID, u, *out.Question), nil
}

// storeReport hands the report to storage and memory concurrently and waits
// for both. Failures are logged and counted only.
func (e *Engine) storeReport(ctx context.Context, s assessment.Session, r assessment.Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportWriteTimeout)
	defer cancel()

	var g errgroup.Group
	if e.reports != nil {
		g.Go(func() error {
			if err := e.reports.SaveReport(ctx, s.ID, s.UserID, r, s.Language); err != nil {
				slog.Warn("failed to store report", "session_id", s.ID, "error", err)
				metrics.CollaboratorFailures.WithLabelValues("report_store").Inc()
			}
			return nil
		})
	}
	if e.memory != nil {
		g.Go(func() error {
			if err := e.memory.Remember(ctx, s, r); err != nil {
				slog.Warn("failed to write assessment memory", "session_id", s.ID, "error", err)
				metrics.CollaboratorFailures.WithLabelValues("memory").Inc()
			}
			return nil
		})
	}
	g.Wait()
}

func (e *Engine) ask(sessionID string, u assessment.Update, q assessment.Question) Result {
	qq := q
	u.CurrentQuestion = &qq
	return Result{Step: questionStep(sessionID, u.Phase, q), Update: u}
}

func questionStep(sessionID string, phase assessment.Phase, q assessment.Question) Step {
	return Step{
		Type:      StepQuestion,
		SessionID: sessionID,
		Phase:     phase,
		Question:  &q,
	}
}
