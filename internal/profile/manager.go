// Package profile keeps each user's health profile, the demographics
// collected by the baseline questions, so later assessments can start
// from what is already known.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/intake/internal/assessment"
)

// Profile keys. Scalar fields are stored as plain text, lists as JSON arrays.
const (
	KeySex            = "sex"
	KeyAgeRange       = "age_range"
	KeySmoking        = "smoking"
	KeyMedicalHistory = "medical_history"
	KeyMedications    = "medications"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SetProfileKey(ctx context.Context, userID, key, value string) error
	GetProfileKeys(ctx context.Context, userID string) (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	demographics assessment.Demographics
	loadedAt     time.Time
}

// Manager provides cached access to per-user health profiles.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// Get returns the stored demographics of userID. A user without a profile
// gets zero-value Demographics.
func (m *Manager) Get(ctx context.Context, userID string) (assessment.Demographics, error) {
	m.mu.RLock()
	e, ok := m.cache[userID]
	m.mu.RUnlock()
	if ok && m.clock.Now().Before(e.loadedAt.Add(m.ttl)) {
		return copyDemographics(e.demographics), nil
	}

	keys, err := m.store.GetProfileKeys(ctx, userID)
	if err != nil {
		return assessment.Demographics{}, fmt.Errorf("loading profile of %s: %w", userID, err)
	}
	d := buildDemographics(keys)

	m.mu.Lock()
	m.cache[userID] = cacheEntry{demographics: d, loadedAt: m.clock.Now()}
	m.mu.Unlock()
	return copyDemographics(d), nil
}

// SaveDemographics merges d into the stored profile of userID. Empty fields
// leave the stored value untouched.
func (m *Manager) SaveDemographics(ctx context.Context, userID string, d assessment.Demographics) error {
	fields := map[string]string{}
	for key, v := range map[string]string{KeySex: d.Sex, KeyAgeRange: d.AgeRange, KeySmoking: d.Smoking} {
		if v != "" {
			fields[key] = v
		}
	}
	for key, v := range map[string][]string{KeyMedicalHistory: d.MedicalHistory, KeyMedications: d.Medications} {
		if v == nil {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling %s: %w", key, err)
		}
		fields[key] = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, userID)

	for key, v := range fields {
		if err := m.store.SetProfileKey(ctx, userID, key, v); err != nil {
			return fmt.Errorf("setting profile key %q: %w", key, err)
		}
	}
	return nil
}

// Merge fills the empty fields of d from the stored profile.
func Merge(d, stored assessment.Demographics) assessment.Demographics {
	if d.Sex == "" {
		d.Sex = stored.Sex
	}
	if d.AgeRange == "" {
		d.AgeRange = stored.AgeRange
	}
	if d.Smoking == "" {
		d.Smoking = stored.Smoking
	}
	if d.MedicalHistory == nil {
		d.MedicalHistory = stored.MedicalHistory
	}
	if d.Medications == nil {
		d.Medications = stored.Medications
	}
	return copyDemographics(d)
}

func copyDemographics(d assessment.Demographics) assessment.Demographics {
	if d.MedicalHistory != nil {
		d.MedicalHistory = append([]string(nil), d.MedicalHistory...)
	}
	if d.Medications != nil {
		d.Medications = append([]string(nil), d.Medications...)
	}
	return d
}

func buildDemographics(keys map[string]string) assessment.Demographics {
	d := assessment.Demographics{
		Sex:      keys[KeySex],
		AgeRange: keys[KeyAgeRange],
		Smoking:  keys[KeySmoking],
	}
	unmarshalProfileKey(keys, KeyMedicalHistory, &d.MedicalHistory)
	unmarshalProfileKey(keys, KeyMedications, &d.Medications)
	return d
}

// unmarshalProfileKey unmarshals a JSON value from keys into target, logging
// a warning if the value is present but malformed.
func unmarshalProfileKey(keys map[string]string, key string, target any) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed profile key, skipping", "key", key, "error", err)
	}
}
