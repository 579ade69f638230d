package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/redflag"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrSchemaMissing is returned when the database has not been migrated.
var ErrSchemaMissing = errors.New("database schema is not set up")

// AssessmentStore is the session, report and audit storage shared by the
// SQLite and Postgres backends.
type AssessmentStore interface {
	CreateSession(ctx context.Context, s assessment.Session) error
	GetSession(ctx context.Context, id string) (assessment.Session, error)
	// ActiveSession returns the user's most recent active session that has
	// not expired at now.
	ActiveSession(ctx context.Context, userID string, now time.Time) (assessment.Session, error)
	UpdateSession(ctx context.Context, id string, u assessment.Update, now time.Time) error
	ListSessions(ctx context.Context, userID string, limit int) ([]assessment.Session, error)

	SaveReport(ctx context.Context, sessionID, userID string, r assessment.Report, l assessment.Locale) error
	GetReport(ctx context.Context, sessionID string) (StoredReport, error)

	LogRedFlag(ctx context.Context, ev redflag.Event) error
	RedFlagEvents(ctx context.Context, sessionID string) ([]redflag.Event, error)

	Close() error
}

// StoredReport is a persisted report with its ownership.
type StoredReport struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"-"`
	Language  assessment.Locale `json:"language"`
	Report    assessment.Report `json:"report"`
	CreatedAt time.Time         `json:"created_at"`
}

// Job is a queued unit of background work.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Memory is the long-term record of a finished assessment. Embedding is nil
// until the indexing job has run.
type Memory struct {
	ID        string             `json:"id"`
	UserID    string             `json:"-"`
	SessionID string             `json:"session_id"`
	Summary   string             `json:"summary"`
	Urgency   assessment.Urgency `json:"urgency"`
	Language  assessment.Locale  `json:"language"`
	Embedding []float32          `json:"-"`
	CreatedAt time.Time          `json:"created_at"`
}

// ScoredMemory is a Memory with its similarity to a query.
type ScoredMemory struct {
	Memory
	Score float32 `json:"score"`
}
