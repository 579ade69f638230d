package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/redflag"
)

//go:embed pgmigrations/*.sql
var pgMigrationsFS embed.FS

var _ AssessmentStore = (*PostgresStore)(nil)

// undefinedTable is the Postgres error code for a missing relation.
const undefinedTable = "42P01"

// PostgresStore keeps sessions, reports and the red flag audit log in
// Postgres. The schema is not created on open; run Migrate first.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// Migrate applies the embedded Postgres migrations that have not run yet.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return err
	}

	all, err := loadMigrations(pgMigrationsFS, "pgmigrations")
	if err != nil {
		return err
	}
	for _, m := range all {
		if m.version <= current {
			continue
		}
		err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}
		slog.Info("applied migration", "name", m.name)
	}
	return nil
}

// classifyPg maps pgx errors onto the package sentinels.
func classifyPg(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %s", ErrSchemaMissing, pgErr.Message)
	}
	return err
}

const pgSessionColumns = `id, user_id, phase, status, chief_complaint, symptoms, history,
	current_question, demographics, language, country_code, created_at, updated_at, expires_at`

func (p *PostgresStore) CreateSession(ctx context.Context, sess assessment.Session) error {
	r, err := encodeSession(sess)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO assessment_sessions (`+pgSessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.UserID, r.Phase, r.Status, r.ChiefComplaint, r.Symptoms, r.History,
		r.CurrentQuestion, r.Demographics, r.Language, r.CountryCode,
		sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(), sess.ExpiresAt.UTC(),
	)
	return classifyPg(err)
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (assessment.Session, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+pgSessionColumns+` FROM assessment_sessions WHERE id = $1`, id)
	return scanPgSession(row)
}

func (p *PostgresStore) ActiveSession(ctx context.Context, userID string, now time.Time) (assessment.Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+pgSessionColumns+` FROM assessment_sessions
		WHERE user_id = $1 AND status = $2 AND expires_at > $3
		ORDER BY created_at DESC LIMIT 1`,
		userID, string(assessment.StatusActive), now.UTC(),
	)
	return scanPgSession(row)
}

func (p *PostgresStore) UpdateSession(ctx context.Context, id string, u assessment.Update, now time.Time) error {
	r, err := encodeSession(u.Apply(assessment.Session{ID: id}))
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE assessment_sessions SET phase = $1, status = $2, chief_complaint = $3, symptoms = $4,
			history = $5, current_question = $6, demographics = $7, language = $8, updated_at = $9
		WHERE id = $10`,
		r.Phase, r.Status, r.ChiefComplaint, r.Symptoms, r.History, r.CurrentQuestion,
		r.Demographics, r.Language, now.UTC(), id,
	)
	if err != nil {
		return classifyPg(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListSessions(ctx context.Context, userID string, limit int) ([]assessment.Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+pgSessionColumns+` FROM assessment_sessions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, classifyPg(err)
	}
	defer rows.Close()

	var out []assessment.Session
	for rows.Next() {
		sess, err := scanPgSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, classifyPg(rows.Err())
}

func scanPgSession(row pgx.Row) (assessment.Session, error) {
	var (
		r                               sessionRow
		createdAt, updatedAt, expiresAt time.Time
	)
	err := row.Scan(&r.ID, &r.UserID, &r.Phase, &r.Status, &r.ChiefComplaint, &r.Symptoms, &r.History,
		&r.CurrentQuestion, &r.Demographics, &r.Language, &r.CountryCode, &createdAt, &updatedAt, &expiresAt)
	if err != nil {
		return assessment.Session{}, classifyPg(err)
	}
	return r.decode(createdAt.UTC(), updatedAt.UTC(), expiresAt.UTC())
}

func (p *PostgresStore) SaveReport(ctx context.Context, sessionID, userID string, r assessment.Report, l assessment.Locale) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO assessment_reports (session_id, user_id, language, urgency, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET report = EXCLUDED.report,
			urgency = EXCLUDED.urgency, language = EXCLUDED.language, created_at = EXCLUDED.created_at`,
		sessionID, userID, string(l), string(r.Urgency), string(body), time.Now().UTC(),
	)
	return classifyPg(err)
}

func (p *PostgresStore) GetReport(ctx context.Context, sessionID string) (StoredReport, error) {
	var (
		sr         StoredReport
		lang, body string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT session_id, user_id, language, report, created_at
		FROM assessment_reports WHERE session_id = $1`, sessionID,
	).Scan(&sr.SessionID, &sr.UserID, &lang, &body, &sr.CreatedAt)
	if err != nil {
		return StoredReport{}, classifyPg(err)
	}
	sr.Language = assessment.Locale(lang)
	sr.CreatedAt = sr.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(body), &sr.Report); err != nil {
		return StoredReport{}, fmt.Errorf("decoding report of session %s: %w", sessionID, err)
	}
	return sr, nil
}

func (p *PostgresStore) LogRedFlag(ctx context.Context, ev redflag.Event) error {
	r, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encoding red flag event: %w", err)
	}
	detected := ev.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO red_flag_events (id, session_id, user_id, pattern, matched_terms, chief_complaint, symptoms, history, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), ev.SessionID, ev.UserID, ev.Pattern, r.Matched, ev.ChiefComplaint,
		r.Symptoms, r.History, detected.UTC(),
	)
	return classifyPg(err)
}

func (p *PostgresStore) RedFlagEvents(ctx context.Context, sessionID string) ([]redflag.Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, user_id, pattern, matched_terms, chief_complaint, symptoms, history, detected_at
		FROM red_flag_events WHERE session_id = $1 ORDER BY detected_at ASC`, sessionID)
	if err != nil {
		return nil, classifyPg(err)
	}
	defer rows.Close()

	var out []redflag.Event
	for rows.Next() {
		var (
			ev redflag.Event
			r  eventRow
		)
		if err := rows.Scan(&ev.SessionID, &ev.UserID, &ev.Pattern, &r.Matched, &ev.ChiefComplaint, &r.Symptoms, &r.History, &ev.DetectedAt); err != nil {
			return nil, classifyPg(err)
		}
		if err := r.decodeInto(&ev); err != nil {
			return nil, err
		}
		ev.DetectedAt = ev.DetectedAt.UTC()
		out = append(out, ev)
	}
	return out, classifyPg(rows.Err())
}
