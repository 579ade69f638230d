// Package reasoning invokes the external reasoning models. Candidates are
// tried strictly in priority order; a failed candidate is never retried
// within the same call.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/intake/internal/metrics"
)

// Message is a chat message sent to a backend.
type Message struct {
	Role    string
	Content string
}

// Backend is one candidate reasoning model.
type Backend interface {
	// Name identifies the candidate in logs and metrics, e.g. "openai:deepseek/deepseek-chat".
	Name() string
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ErrNoCandidates is returned by Invoke on a chain without backends.
var ErrNoCandidates = errors.New("no reasoning candidates configured")

// ErrEmptyReply marks a backend that answered with no content.
var ErrEmptyReply = errors.New("empty reply")

// CandidateError records why one candidate failed.
type CandidateError struct {
	Backend string
	Err     error
}

func (e *CandidateError) Error() string { return e.Backend + ": " + e.Err.Error() }
func (e *CandidateError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every candidate failed. It unwraps to each
// candidate's error in priority order.
type ExhaustedError struct {
	Failures []*CandidateError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("all %d reasoning candidates failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}

// Reply is a successful completion and the candidate that produced it.
type Reply struct {
	Text    string
	Backend string
}

// Chain holds the ordered candidate list.
type Chain struct {
	candidates []Backend
	timeout    time.Duration
}

// NewChain returns a chain over candidates in the given priority order.
// A positive timeout bounds each individual attempt.
func NewChain(timeout time.Duration, candidates ...Backend) *Chain {
	return &Chain{candidates: candidates, timeout: timeout}
}

// Candidates returns the names of the configured backends in priority order.
func (c *Chain) Candidates() []string {
	names := make([]string, len(c.candidates))
	for i, b := range c.candidates {
		names[i] = b.Name()
	}
	return names
}

// Invoke sends messages to each candidate in turn and returns the first
// non-empty reply. Every failure is logged. When all candidates fail the
// error is an *ExhaustedError.
func (c *Chain) Invoke(ctx context.Context, messages []Message) (Reply, error) {
	if len(c.candidates) == 0 {
		return Reply{}, ErrNoCandidates
	}

	var failures []*CandidateError
	for i, b := range c.candidates {
		if err := ctx.Err(); err != nil {
			failures = append(failures, &CandidateError{Backend: b.Name(), Err: err})
			break
		}

		start := time.Now()
		text, err := c.attempt(ctx, b, messages)
		metrics.ReasoningLatency.WithLabelValues(b.Name()).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.ReasoningAttempts.WithLabelValues(b.Name(), "ok").Inc()
			if i > 0 {
				slog.Info("reasoning served by fallback candidate", "backend", b.Name(), "position", i+1)
			}
			return Reply{Text: text, Backend: b.Name()}, nil
		}

		metrics.ReasoningAttempts.WithLabelValues(b.Name(), "error").Inc()
		slog.Warn("reasoning candidate failed", "backend", b.Name(), "position", i+1, "error", err)
		failures = append(failures, &CandidateError{Backend: b.Name(), Err: err})
	}
	return Reply{}, &ExhaustedError{Failures: failures}
}

func (c *Chain) attempt(ctx context.Context, b Backend, messages []Message) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	text, err := b.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// ProbeResult is the outcome of probing one candidate.
type ProbeResult struct {
	Backend string        `json:"backend"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ns"`
	Err     error         `json:"-"`
	Error   string        `json:"error,omitempty"`
}

const probePrompt = `Reply with the JSON object {"ok":true} and nothing else.`

// Probe sends a trivial request to every candidate concurrently and reports
// each outcome in priority order. It is an operator tool and never used on the
// interview path.
func (c *Chain) Probe(ctx context.Context) []ProbeResult {
	results := make([]ProbeResult, len(c.candidates))
	var g errgroup.Group
	g.SetLimit(4)
	for i, b := range c.candidates {
		g.Go(func() error {
			start := time.Now()
			_, err := c.attempt(ctx, b, []Message{{Role: "user", Content: probePrompt}})
			results[i] = ProbeResult{Backend: b.Name(), OK: err == nil, Latency: time.Since(start), Err: err}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	g.Wait()
	return results
}
