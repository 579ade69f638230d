package storage

import (
	"context"
	"time"
)

// SetProfileKey upserts one health profile field of a user. value is JSON text.
func (s *Store) SetProfileKey(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_profiles (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, key, value, formatTime(time.Now()),
	)
	return classify(err)
}

// GetProfileKeys returns every stored profile field of a user keyed by name.
func (s *Store) GetProfileKeys(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM health_profiles WHERE user_id = ?`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) DeleteProfileKey(ctx context.Context, userID, key string) error {
	return s.execAffecting(ctx, `DELETE FROM health_profiles WHERE user_id = ? AND key = ?`, userID, key)
}
