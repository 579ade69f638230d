package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/intake/internal/storage"
)

// ErrEmptyQuery is returned by Recall for a blank query.
var ErrEmptyQuery = errors.New("empty recall query")

const (
	defaultRecallLimit = 5
	maxRecallLimit     = 20
)

// EmbedClient is the embedding call of the local model runtime.
// Implemented by ollama.Client.
type EmbedClient interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Embedder binds an EmbedClient to one embedding model.
type Embedder struct {
	client EmbedClient
	model  string
}

func NewEmbedder(c EmbedClient, model string) *Embedder {
	return &Embedder{client: c, model: model}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// Searcher is the vector search of the memory table.
type Searcher interface {
	SearchMemories(ctx context.Context, userID string, vec []float32, topK int) ([]storage.ScoredMemory, error)
}

// Recaller finds a user's past assessments similar to a query.
type Recaller struct {
	store    Searcher
	embedder TextEmbedder
}

func NewRecaller(store Searcher, embedder TextEmbedder) *Recaller {
	return &Recaller{store: store, embedder: embedder}
}

// Recall returns up to limit memories of userID ordered by similarity to
// query. A limit <= 0 means the default of 5; limits are capped at 20.
func (r *Recaller) Recall(ctx context.Context, userID, query string, limit int) ([]storage.ScoredMemory, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	switch {
	case limit <= 0:
		limit = defaultRecallLimit
	case limit > maxRecallLimit:
		limit = maxRecallLimit
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	res, err := r.store.SearchMemories(ctx, userID, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	return res, nil
}
