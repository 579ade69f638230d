// Package differential turns a session's context into the next interview
// step with the help of the reasoning backends. It never fails: unusable or
// missing model output degrades to a deterministic fallback question.
package differential

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/metrics"
	"github.com/kalambet/intake/internal/reasoning"
)

// Invoker sends a prompt to the reasoning backends.
type Invoker interface {
	Invoke(ctx context.Context, messages []reasoning.Message) (reasoning.Reply, error)
}

// Request is one differential step to generate.
type Request struct {
	Context
	// QuestionID and Progress are stamped on the emitted question.
	QuestionID string
	Progress   int
}

// Outcome is the result of a generation step. Exactly one of Question and
// Report is set unless the generator could produce neither.
type Outcome struct {
	Question *assessment.Question
	Report   *assessment.ReportDraft
	// Fallback names the fallback variant used for Question, if any.
	Fallback   assessment.FallbackVariant
	Backend    string
	Confidence float64
}

// Generator runs the invoke, interpret and normalize pipeline.
type Generator struct {
	invoker Invoker
}

// NewGenerator creates a Generator over invoker.
func NewGenerator(invoker Invoker) *Generator {
	return &Generator{invoker: invoker}
}

// Generate asks the reasoning backends for the next step. The timing fallback
// question is returned when every backend fails or a reply breaks the
// response contract; the severity fallback when a reply is not JSON at all.
func (g *Generator) Generate(ctx context.Context, req Request) Outcome {
	reply, err := g.invoker.Invoke(ctx, BuildMessages(req.Context))
	if err != nil {
		slog.Warn("reasoning unavailable, using fallback question", "variant", assessment.FallbackTiming, "error", err)
		return g.fallback(req, assessment.FallbackTiming, "")
	}

	resp, err := Interpret(reply.Text)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			slog.Warn("model reply failed validation", "backend", reply.Backend, "field", verr.Field, "error", err)
			return g.fallback(req, assessment.FallbackTiming, reply.Backend)
		}
		slog.Warn("model reply is not valid JSON", "backend", reply.Backend, "error", err, "response", reply.Text)
		return g.fallback(req, assessment.FallbackSeverity, reply.Backend)
	}

	out := Outcome{Backend: reply.Backend, Confidence: resp.Confidence}
	if resp.ShouldGenerateReport {
		draft := resp.Report.ToDraft()
		out.Report = &draft
		return out
	}

	q := resp.Question.ToQuestion().Normalize(req.Language)
	q.ID = req.QuestionID
	q.Progress = req.Progress
	out.Question = &q
	slog.Debug("differential question generated",
		"backend", reply.Backend,
		"type", q.Type,
		"category", q.Category,
		"confidence", resp.Confidence,
	)
	return out
}

func (g *Generator) fallback(req Request, v assessment.FallbackVariant, backend string) Outcome {
	metrics.Fallbacks.WithLabelValues(string(v)).Inc()
	q := assessment.FallbackQuestion(v, req.QuestionID, req.Progress, req.Language)
	return Outcome{Question: &q, Fallback: v, Backend: backend}
}
