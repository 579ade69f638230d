package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/intake/internal/metrics"
	"github.com/kalambet/intake/internal/storage"
)

// JobStore abstracts the job queue and memory operations of the worker.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetMemory(ctx context.Context, id string) (storage.Memory, error)
	SetMemoryEmbedding(ctx context.Context, id string, vec []float32) error
}

// TextEmbedder generates embeddings for text.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Worker processes memory_index jobs from the job queue.
type Worker struct {
	store    JobStore
	embedder TextEmbedder
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker polling every pollInterval (500ms when unset).
// An idle worker backs off up to maxIdleFactor times that interval.
func NewWorker(store JobStore, embedder TextEmbedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		poll:     pollInterval,
		logger:   slog.Default().With("component", "memory_worker"),
	}
}

const maxIdleFactor = 8

// Run drains the queue, then sleeps with backoff until the next job shows up
// or ctx is done.
func (w *Worker) Run(ctx context.Context) {
	wait := w.poll
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		processed, err := w.RunOnce(ctx)
		switch {
		case err != nil:
			w.logger.Error("memory job iteration failed", "error", err)
			wait = max(w.poll, min(wait*2, w.poll*maxIdleFactor))
		case processed:
			wait = 0
		case wait == 0:
			wait = w.poll
		default:
			wait = min(wait*2, w.poll*maxIdleFactor)
		}
		timer.Reset(wait)
	}
}

// RunOnce handles at most one memory_index job. processed reports whether a
// job was claimed, whatever its outcome.
func (w *Worker) RunOnce(ctx context.Context) (processed bool, err error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobIndex})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.index(ctx, job); err != nil {
		metrics.MemoryJobs.WithLabelValues("failed").Inc()
		w.logger.Warn("memory indexing failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if ferr := w.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			return true, fmt.Errorf("recording failure of job %s: %w", job.ID, ferr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	metrics.MemoryJobs.WithLabelValues("completed").Inc()
	return true, nil
}

func (w *Worker) index(ctx context.Context, job *storage.Job) error {
	var payload indexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	m, err := w.store.GetMemory(ctx, payload.MemoryID)
	if err != nil {
		return fmt.Errorf("loading memory %s: %w", payload.MemoryID, err)
	}

	vec, err := w.embedder.Embed(ctx, m.Summary)
	if err != nil {
		return err
	}
	if len(vec) == 0 {
		return fmt.Errorf("empty embedding for memory %s", m.ID)
	}

	if err := w.store.SetMemoryEmbedding(ctx, m.ID, vec); err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	return nil
}
