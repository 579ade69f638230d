package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/redflag"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testSession(id, user string) assessment.Session {
	return assessment.Session{
		ID:           id,
		UserID:       user,
		Phase:        assessment.PhaseBaseline,
		Status:       assessment.StatusActive,
		Language:     assessment.LocaleEN,
		CountryCode:  "US",
		Demographics: assessment.Demographics{Sex: "female"},
		CreatedAt:    t0,
		UpdatedAt:    t0,
		ExpiresAt:    t0.Add(time.Hour),
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) || len(v1) != 3 {
		t.Errorf("migration count = %d then %d, want 3", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("migrations not in ascending order: %v", versions)
		}
	}
}

func TestLoadMigrations_Postgres(t *testing.T) {
	ms, err := loadMigrations(pgMigrationsFS, "pgmigrations")
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(ms) == 0 || ms[0].version != 1 {
		t.Fatalf("postgres migrations = %+v, want version 1 first", ms)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := testSession("s1", "u1")
	if err := s.CreateSession(ctx, in); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UserID != "u1" || got.Phase != assessment.PhaseBaseline || got.Status != assessment.StatusActive {
		t.Errorf("got %+v", got)
	}
	if !got.ExpiresAt.Equal(in.ExpiresAt) || !got.CreatedAt.Equal(t0) {
		t.Errorf("timestamps = %v/%v, want %v/%v", got.CreatedAt, got.ExpiresAt, t0, in.ExpiresAt)
	}
	if got.Demographics.Sex != "female" {
		t.Errorf("demographics = %+v", got.Demographics)
	}
	if got.CurrentQuestion != nil {
		t.Errorf("current question = %+v, want nil", got.CurrentQuestion)
	}
	if got.Symptoms == nil || got.History == nil {
		t.Errorf("expected empty, non-nil symptoms and history")
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateSession(ctx, testSession("s1", "u1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	q := assessment.ChiefComplaintQuestion(assessment.LocaleEN)
	u := assessment.Update{
		Phase:          assessment.PhaseDifferential,
		Status:         assessment.StatusActive,
		ChiefComplaint: "headache",
		Symptoms:       []string{"headache", "nausea"},
		History: []assessment.AnswerRecord{{
			QuestionID:   "chief_complaint",
			QuestionText: "What brings you here?",
			Value:        assessment.TextAnswer("headache"),
			InputMethod:  assessment.InputType,
			AnsweredAt:   t0.Add(time.Minute),
		}},
		CurrentQuestion: &q,
		Demographics:    assessment.Demographics{Sex: "female", AgeRange: "30-39"},
		Language:        assessment.LocaleEN,
	}
	if err := s.UpdateSession(ctx, "s1", u, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Phase != assessment.PhaseDifferential || got.ChiefComplaint != "headache" {
		t.Errorf("got phase %q complaint %q", got.Phase, got.ChiefComplaint)
	}
	if len(got.Symptoms) != 2 || len(got.History) != 1 {
		t.Fatalf("symptoms %v history %v", got.Symptoms, got.History)
	}
	if got.History[0].Value.String() != "headache" || !got.History[0].AnsweredAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("history[0] = %+v", got.History[0])
	}
	if got.CurrentQuestion == nil || got.CurrentQuestion.ID != q.ID {
		t.Errorf("current question = %+v, want %q", got.CurrentQuestion, q.ID)
	}
	if !got.UpdatedAt.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("updated_at = %v", got.UpdatedAt)
	}
	if got.CountryCode != "US" || !got.CreatedAt.Equal(t0) {
		t.Errorf("identity fields changed: %+v", got)
	}

	if err := s.UpdateSession(ctx, "missing", u, t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("update of missing session: err = %v, want ErrNotFound", err)
	}
}

func TestActiveSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := testSession("old", "u1")
	newer := testSession("new", "u1")
	newer.CreatedAt = t0.Add(time.Minute)
	done := testSession("done", "u1")
	done.Status = assessment.StatusCompleted
	done.CreatedAt = t0.Add(2 * time.Minute)
	for _, sess := range []assessment.Session{old, newer, done, testSession("other", "u2")} {
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession(%s): %v", sess.ID, err)
		}
	}

	got, err := s.ActiveSession(ctx, "u1", t0.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if got.ID != "new" {
		t.Errorf("ActiveSession = %q, want %q", got.ID, "new")
	}

	if _, err := s.ActiveSession(ctx, "u1", t0.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("after expiry: err = %v, want ErrNotFound", err)
	}
}

func TestListSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := range 5 {
		sess := testSession(fmt.Sprintf("s%d", i), "u1")
		sess.CreatedAt = t0.Add(time.Duration(i) * time.Minute)
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	got, err := s.ListSessions(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 3 || got[0].ID != "s4" || got[2].ID != "s2" {
		ids := make([]string, len(got))
		for i, g := range got {
			ids[i] = g.ID
		}
		t.Errorf("ListSessions = %v, want [s4 s3 s2]", ids)
	}
}

func TestReportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := assessment.Report{
		Conditions: []assessment.Condition{
			{Name: "Migraine", Probability: 70, IsBestMatch: true, MatchedSymptoms: []string{"headache"}},
			{Name: "Tension headache", Probability: 30, MatchedSymptoms: []string{}},
		},
		Urgency:    assessment.UrgencyRoutine,
		NextSteps:  []assessment.NextStep{{Action: "Rest", Icon: "bed"}},
		Disclaimer: assessment.Disclaimer(assessment.LocaleEN),
	}
	if err := s.SaveReport(ctx, "s1", "u1", r, assessment.LocaleEN); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	got, err := s.GetReport(ctx, "s1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.UserID != "u1" || got.Language != assessment.LocaleEN {
		t.Errorf("owner/language = %q/%q", got.UserID, got.Language)
	}
	if len(got.Report.Conditions) != 2 || got.Report.Conditions[0].Name != "Migraine" {
		t.Errorf("conditions = %+v", got.Report.Conditions)
	}

	r.Urgency = assessment.UrgencyUrgent
	if err := s.SaveReport(ctx, "s1", "u1", r, assessment.LocaleEN); err != nil {
		t.Fatalf("second SaveReport: %v", err)
	}
	got, err = s.GetReport(ctx, "s1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.Report.Urgency != assessment.UrgencyUrgent {
		t.Errorf("urgency = %q, want replaced report", got.Report.Urgency)
	}

	if _, err := s.GetReport(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing report: err = %v, want ErrNotFound", err)
	}
}

func TestRedFlagEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := redflag.Event{
		SessionID:      "s1",
		UserID:         "u1",
		Pattern:        "cardiac_emergency",
		MatchedTerms:   []string{"chest pain", "shortness of breath"},
		ChiefComplaint: "chest pain",
		History: []assessment.AnswerRecord{{
			QuestionID: "q_1",
			Value:      assessment.TextAnswer("shortness of breath"),
			AnsweredAt: t0,
		}},
		DetectedAt: t0,
	}
	if err := s.LogRedFlag(ctx, ev); err != nil {
		t.Fatalf("LogRedFlag: %v", err)
	}

	got, err := s.RedFlagEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("RedFlagEvents: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Pattern != "cardiac_emergency" || len(got[0].MatchedTerms) != 2 || !got[0].DetectedAt.Equal(t0) {
		t.Errorf("event = %+v", got[0])
	}
	if got[0].Symptoms == nil || len(got[0].History) != 1 {
		t.Errorf("symptoms %v history %v", got[0].Symptoms, got[0].History)
	}
}

func TestSchemaMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.db.Exec(`DROP TABLE assessment_sessions`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	_, err := s.GetSession(context.Background(), "s1")
	if !errors.Is(err, ErrSchemaMissing) {
		t.Fatalf("err = %v, want ErrSchemaMissing", err)
	}
}

// --- Jobs ---

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j1", Type: "memory_index", PayloadJSON: `{"memory_id":"m1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob(ctx, []string{"memory_index"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job, got nil")
	}
	if job.ID != "j1" || job.Status != "running" || job.MaxAttempts != defaultMaxAttempts {
		t.Errorf("job = %+v", job)
	}

	again, err := s.ClaimNextJob(ctx, []string{"memory_index"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("running job claimed twice: %+v", again)
	}
}

func TestClaimNextJob_Filters(t *testing.T) {
	tests := []struct {
		name  string
		job   Job
		types []string
		want  bool
	}{
		{"due and matching", Job{ID: "a", Type: "memory_index"}, []string{"memory_index"}, true},
		{"other type", Job{ID: "b", Type: "other"}, []string{"memory_index"}, false},
		{"run after in future", Job{ID: "c", Type: "memory_index", RunAfter: time.Now().Add(time.Hour)}, []string{"memory_index"}, false},
		{"no types", Job{ID: "d", Type: "memory_index"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			ctx := context.Background()
			tt.job.PayloadJSON = "{}"
			if err := s.EnqueueJob(ctx, tt.job); err != nil {
				t.Fatalf("EnqueueJob: %v", err)
			}
			job, err := s.ClaimNextJob(ctx, tt.types)
			if err != nil {
				t.Fatalf("ClaimNextJob: %v", err)
			}
			if (job != nil) != tt.want {
				t.Errorf("claimed = %v, want %v", job != nil, tt.want)
			}
		})
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.EnqueueJob(ctx, Job{ID: "j1", Type: "memory_index", PayloadJSON: "{}"})
	s.ClaimNextJob(ctx, []string{"memory_index"})

	if err := s.CompleteJob(ctx, "j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	job, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("status = %q, want completed", job.Status)
	}
	if err := s.CompleteJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFailJob_BackoffThenFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.EnqueueJob(ctx, Job{ID: "j1", Type: "memory_index", PayloadJSON: "{}", MaxAttempts: 2})

	before := time.Now()
	if err := s.FailJob(ctx, "j1", "embed failed"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	job, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "pending" || job.Attempts != 1 || job.LastError != "embed failed" {
		t.Errorf("after first failure: %+v", job)
	}
	if job.RunAfter.Before(before.Add(2 * time.Second)) {
		t.Errorf("run_after = %v, want at least 2s backoff", job.RunAfter)
	}

	if err := s.FailJob(ctx, "j1", "embed failed again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	job, _ = s.GetJob(ctx, "j1")
	if job.Status != "failed" || job.Attempts != 2 {
		t.Errorf("after last failure: %+v", job)
	}
}

// --- Memories ---

func TestMemoryEmbeddingAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mems := []struct {
		id  string
		vec []float32
	}{
		{"m-exact", []float32{1, 0, 0}},
		{"m-close", []float32{0.9, 0.1, 0}},
		{"m-far", []float32{0, 0, 1}},
		{"m-unindexed", nil},
	}
	for i, m := range mems {
		err := s.SaveMemory(ctx, Memory{
			ID: m.id, UserID: "u1", SessionID: fmt.Sprintf("s%d", i), Summary: m.id,
			Urgency: assessment.UrgencyRoutine, Language: assessment.LocaleEN, CreatedAt: t0,
		})
		if err != nil {
			t.Fatalf("SaveMemory: %v", err)
		}
		if m.vec != nil {
			if err := s.SetMemoryEmbedding(ctx, m.id, m.vec); err != nil {
				t.Fatalf("SetMemoryEmbedding: %v", err)
			}
		}
	}
	s.SaveMemory(ctx, Memory{ID: "other-user", UserID: "u2", SessionID: "x", Summary: "x", CreatedAt: t0})
	s.SetMemoryEmbedding(ctx, "other-user", []float32{1, 0, 0})

	got, err := s.SearchMemories(ctx, "u1", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].ID != "m-exact" || got[1].ID != "m-close" {
		t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Score < 0.99 {
		t.Errorf("exact score = %f", got[0].Score)
	}
	if len(got[0].Embedding) != 3 || got[0].Embedding[0] != 1 {
		t.Errorf("embedding not preserved: %v", got[0].Embedding)
	}

	m, err := s.GetMemory(ctx, "m-unindexed")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if m.Embedding != nil {
		t.Errorf("unindexed memory embedding = %v", m.Embedding)
	}

	list, err := s.ListMemories(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(list) != 4 {
		t.Errorf("ListMemories returned %d, want 4", len(list))
	}
}

func TestSearchMemories_DegenerateQuery(t *testing.T) {
	s := openTestStore(t)
	for _, q := range [][]float32{nil, {0, 0, 0}} {
		got, err := s.SearchMemories(context.Background(), "u1", q, 5)
		if err != nil || got != nil {
			t.Errorf("SearchMemories(%v) = %v, %v", q, got, err)
		}
	}
}

func TestCosine(t *testing.T) {
	a := []float32{3, 4}
	if got := cosine(a, []float32{3, 4}, vectorNorm(a)); got < 0.999 {
		t.Errorf("identical vectors: %f", got)
	}
	if got := cosine(a, []float32{1}, vectorNorm(a)); got != 0 {
		t.Errorf("length mismatch: %f", got)
	}
	if _, err := decodeVectorInto(nil, []byte{1, 2, 3}); err == nil {
		t.Error("expected error on truncated vector")
	}
}

// --- Health profiles ---

func TestProfileKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetProfileKey(ctx, "u1", "sex", `"female"`); err != nil {
		t.Fatalf("SetProfileKey: %v", err)
	}
	if err := s.SetProfileKey(ctx, "u1", "sex", `"male"`); err != nil {
		t.Fatalf("SetProfileKey overwrite: %v", err)
	}
	s.SetProfileKey(ctx, "u1", "medications", `["aspirin"]`)
	s.SetProfileKey(ctx, "u2", "sex", `"female"`)

	got, err := s.GetProfileKeys(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfileKeys: %v", err)
	}
	if len(got) != 2 || got["sex"] != `"male"` || got["medications"] != `["aspirin"]` {
		t.Errorf("GetProfileKeys = %v", got)
	}

	if err := s.DeleteProfileKey(ctx, "u1", "sex"); err != nil {
		t.Fatalf("DeleteProfileKey: %v", err)
	}
	if err := s.DeleteProfileKey(ctx, "u1", "sex"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}
