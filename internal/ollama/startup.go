package ollama

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that the server is up and that every model in models is
// present, pulling missing ones with progress written to w. The first model
// is then warmed up with a trivial chat call; a failed warm-up is reported
// but not returned.
func EnsureReady(ctx context.Context, c *Client, models []string, w io.Writer) error {
	listCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	local, err := c.ListModels(listCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("Ollama is not running at %s. Start it with: ollama serve (%w)", c.BaseURL(), err)
	}

	for _, model := range models {
		if containsModel(local, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := c.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, float64(p.Completed)/float64(p.Total)*100)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if len(models) == 0 {
		return nil
	}
	warm := models[0]
	warmCtx, cancelWarm := context.WithTimeout(ctx, 30*time.Second)
	defer cancelWarm()
	if _, err := c.Chat(warmCtx, warm, []Message{{Role: "user", Content: "ping"}}, ChatOptions{}); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", warm, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", warm)
	}
	return nil
}
