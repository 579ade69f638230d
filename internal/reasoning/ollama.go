package reasoning

import (
	"context"

	"github.com/kalambet/intake/internal/ollama"
)

// OllamaBackend calls a model served by a local Ollama instance. Replies are
// constrained to JSON.
type OllamaBackend struct {
	client      *ollama.Client
	model       string
	temperature float64
}

func NewOllamaBackend(c *ollama.Client, model string, temperature float64) *OllamaBackend {
	return &OllamaBackend{client: c, model: model, temperature: temperature}
}

func (b *OllamaBackend) Name() string { return "ollama:" + b.model }

// Model returns the Ollama model name.
func (b *OllamaBackend) Model() string { return b.model }

func (b *OllamaBackend) Complete(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	temp := b.temperature
	return b.client.Chat(ctx, b.model, msgs, ollama.ChatOptions{Temperature: &temp, JSON: true})
}
