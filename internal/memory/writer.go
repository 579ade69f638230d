// Package memory keeps a long-term record of finished assessments. A
// report is summarized and stored at once; its embedding is computed later
// by the indexing worker so recall never blocks an interview turn.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/storage"
)

// JobIndex is the job type that embeds a stored memory.
const JobIndex = "memory_index"

// Store abstracts the storage the writer needs. Implemented by storage.Store.
type Store interface {
	SaveMemory(ctx context.Context, m storage.Memory) error
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Writer hands finished assessments over to long-term memory.
type Writer struct {
	store Store
	now   func() time.Time
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store, now: time.Now}
}

type indexPayload struct {
	MemoryID string `json:"memory_id"`
}

// Remember stores a summary of the session and its report and queues the
// summary for embedding.
func (w *Writer) Remember(ctx context.Context, s assessment.Session, r assessment.Report) error {
	m := storage.Memory{
		ID:        uuid.NewString(),
		UserID:    s.UserID,
		SessionID: s.ID,
		Summary:   Summarize(s, r),
		Urgency:   r.Urgency,
		Language:  s.Language,
		CreatedAt: w.now(),
	}
	if err := w.store.SaveMemory(ctx, m); err != nil {
		return fmt.Errorf("saving memory: %w", err)
	}

	payload, err := json.Marshal(indexPayload{MemoryID: m.ID})
	if err != nil {
		return fmt.Errorf("encoding index payload: %w", err)
	}
	if err := w.store.EnqueueJob(ctx, storage.Job{
		ID:          uuid.NewString(),
		Type:        JobIndex,
		PayloadJSON: string(payload),
	}); err != nil {
		return fmt.Errorf("queueing memory %s for indexing: %w", m.ID, err)
	}
	return nil
}

var summaryLabels = struct {
	complaint, symptoms, conditions, urgency assessment.Text
}{
	complaint:  assessment.Text{ZH: "主诉", EN: "Chief complaint"},
	symptoms:   assessment.Text{ZH: "症状", EN: "Symptoms"},
	conditions: assessment.Text{ZH: "可能情况", EN: "Possible conditions"},
	urgency:    assessment.Text{ZH: "紧急程度", EN: "Urgency"},
}

// Summarize renders the searchable text of an assessment, one fact per line.
func Summarize(s assessment.Session, r assessment.Report) string {
	l := assessment.ParseLocale(string(s.Language), assessment.LocaleZH)
	var b strings.Builder
	line := func(label assessment.Text, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n", label.In(l), value)
	}

	line(summaryLabels.complaint, s.ChiefComplaint)
	line(summaryLabels.symptoms, strings.Join(s.Symptoms, ", "))
	conds := make([]string, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		conds = append(conds, fmt.Sprintf("%s (%.0f%%)", c.Name, c.Probability))
	}
	line(summaryLabels.conditions, strings.Join(conds, ", "))
	line(summaryLabels.urgency, string(r.Urgency))
	return strings.TrimRight(b.String(), "\n")
}
