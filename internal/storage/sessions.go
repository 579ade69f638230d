package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/redflag"
)

const sessionColumns = `id, user_id, phase, status, chief_complaint, symptoms_json, history_json,
	current_question_json, demographics_json, language, country_code, created_at, updated_at, expires_at`

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess assessment.Session) error {
	r, err := encodeSession(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessment_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Phase, r.Status, r.ChiefComplaint, r.Symptoms, r.History,
		r.CurrentQuestion, r.Demographics, r.Language, r.CountryCode,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt), formatTime(sess.ExpiresAt),
	)
	return classify(err)
}

func (s *Store) GetSession(ctx context.Context, id string) (assessment.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM assessment_sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *Store) ActiveSession(ctx context.Context, userID string, now time.Time) (assessment.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM assessment_sessions
		WHERE user_id = ? AND status = ? AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1`,
		userID, string(assessment.StatusActive), formatTime(now),
	)
	return scanSession(row)
}

func (s *Store) UpdateSession(ctx context.Context, id string, u assessment.Update, now time.Time) error {
	r, err := encodeSession(u.Apply(assessment.Session{ID: id}))
	if err != nil {
		return err
	}
	return s.execAffecting(ctx, `
		UPDATE assessment_sessions SET phase = ?, status = ?, chief_complaint = ?, symptoms_json = ?,
			history_json = ?, current_question_json = ?, demographics_json = ?, language = ?, updated_at = ?
		WHERE id = ?`,
		r.Phase, r.Status, r.ChiefComplaint, r.Symptoms, r.History, r.CurrentQuestion,
		r.Demographics, r.Language, formatTime(now), id,
	)
}

func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]assessment.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM assessment_sessions
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []assessment.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanSession(sc rowScanner) (assessment.Session, error) {
	var (
		r                               sessionRow
		createdAt, updatedAt, expiresAt string
	)
	err := sc.Scan(&r.ID, &r.UserID, &r.Phase, &r.Status, &r.ChiefComplaint, &r.Symptoms, &r.History,
		&r.CurrentQuestion, &r.Demographics, &r.Language, &r.CountryCode, &createdAt, &updatedAt, &expiresAt)
	if err != nil {
		return assessment.Session{}, classify(err)
	}

	var times [3]time.Time
	for i, raw := range []string{createdAt, updatedAt, expiresAt} {
		if times[i], err = parseTime(raw); err != nil {
			return assessment.Session{}, fmt.Errorf("parsing timestamps of session %s: %w", r.ID, err)
		}
	}
	return r.decode(times[0], times[1], times[2])
}

// --- Reports ---

// SaveReport stores the report of a session. Saving again replaces it.
func (s *Store) SaveReport(ctx context.Context, sessionID, userID string, r assessment.Report, l assessment.Locale) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessment_reports (session_id, user_id, language, urgency, report_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET report_json = excluded.report_json,
			urgency = excluded.urgency, language = excluded.language, created_at = excluded.created_at`,
		sessionID, userID, string(l), string(r.Urgency), string(body), formatTime(time.Now()),
	)
	return classify(err)
}

func (s *Store) GetReport(ctx context.Context, sessionID string) (StoredReport, error) {
	var (
		sr             StoredReport
		lang, body, at string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, language, report_json, created_at
		FROM assessment_reports WHERE session_id = ?`, sessionID,
	).Scan(&sr.SessionID, &sr.UserID, &lang, &body, &at)
	if err != nil {
		return StoredReport{}, classify(err)
	}
	sr.Language = assessment.Locale(lang)
	if err := json.Unmarshal([]byte(body), &sr.Report); err != nil {
		return StoredReport{}, fmt.Errorf("decoding report of session %s: %w", sessionID, err)
	}
	if sr.CreatedAt, err = parseTime(at); err != nil {
		return StoredReport{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return sr, nil
}

// --- Red flag audit ---

func (s *Store) LogRedFlag(ctx context.Context, ev redflag.Event) error {
	r, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encoding red flag event: %w", err)
	}
	detected := ev.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO red_flag_events (id, session_id, user_id, pattern, matched_json, chief_complaint, symptoms_json, history_json, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), ev.SessionID, ev.UserID, ev.Pattern, r.Matched, ev.ChiefComplaint,
		r.Symptoms, r.History, formatTime(detected),
	)
	return classify(err)
}

func (s *Store) RedFlagEvents(ctx context.Context, sessionID string) ([]redflag.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, pattern, matched_json, chief_complaint, symptoms_json, history_json, detected_at
		FROM red_flag_events WHERE session_id = ? ORDER BY detected_at ASC`, sessionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []redflag.Event
	for rows.Next() {
		var (
			ev redflag.Event
			r  eventRow
			at string
		)
		if err := rows.Scan(&ev.SessionID, &ev.UserID, &ev.Pattern, &r.Matched, &ev.ChiefComplaint, &r.Symptoms, &r.History, &at); err != nil {
			return nil, err
		}
		if err := r.decodeInto(&ev); err != nil {
			return nil, err
		}
		if ev.DetectedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parsing detected_at: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
