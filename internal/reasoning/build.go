package reasoning

import (
	"fmt"
	"strings"

	"github.com/kalambet/intake/internal/ollama"
)

// BuildOptions carries what Build needs to construct each provider.
type BuildOptions struct {
	OpenAIBaseURL string
	OpenAIAPIKey  string
	Ollama        *ollama.Client
	Temperature   float64
}

// Build turns "<provider>:<model>" identifiers into backends, keeping their
// order. Supported providers are "openai" and "ollama"; an identifier without
// a known provider prefix is treated as an OpenAI-compatible model name.
func Build(ids []string, opts BuildOptions) ([]Backend, error) {
	backends := make([]Backend, 0, len(ids))
	for _, id := range ids {
		provider, model, ok := strings.Cut(id, ":")
		if !ok || (provider != "openai" && provider != "ollama") {
			provider, model = "openai", id
		}
		if model == "" {
			return nil, fmt.Errorf("candidate %q has no model name", id)
		}
		switch provider {
		case "ollama":
			if opts.Ollama == nil {
				return nil, fmt.Errorf("candidate %q needs an Ollama client", id)
			}
			backends = append(backends, NewOllamaBackend(opts.Ollama, model, opts.Temperature))
		default:
			backends = append(backends, NewOpenAIBackend(opts.OpenAIBaseURL, opts.OpenAIAPIKey, model, opts.Temperature))
		}
	}
	return backends, nil
}

// OllamaModels returns the model names of the Ollama backends among bs.
func OllamaModels(bs []Backend) []string {
	var models []string
	for _, b := range bs {
		if ob, ok := b.(*OllamaBackend); ok {
			models = append(models, ob.Model())
		}
	}
	return models
}
