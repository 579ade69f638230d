package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/intake/internal/api"
	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/config"
	"github.com/kalambet/intake/internal/differential"
	"github.com/kalambet/intake/internal/interview"
	"github.com/kalambet/intake/internal/memory"
	"github.com/kalambet/intake/internal/ollama"
	"github.com/kalambet/intake/internal/profile"
	"github.com/kalambet/intake/internal/reasoning"
	"github.com/kalambet/intake/internal/redflag"
	"github.com/kalambet/intake/internal/storage"
)

// app is the wired service shared by the serve and mcp commands.
type app struct {
	cfg         config.Config
	local       *storage.Store
	assessments storage.AssessmentStore
	chain       *reasoning.Chain
	service     *api.Service
	recaller    *memory.Recaller
	worker      *memory.Worker
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// openAssessmentStore returns the store for sessions, reports and red flag
// events. Postgres is never migrated here; run "intake db migrate" first.
func openAssessmentStore(ctx context.Context, cfg config.Config, local *storage.Store) (storage.AssessmentStore, error) {
	if cfg.Storage.Driver != "postgres" {
		return local, nil
	}
	pg, err := storage.OpenPostgres(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	local, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	assessments, err := openAssessmentStore(ctx, cfg, local)
	if err != nil {
		local.Close()
		return nil, err
	}

	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	backends, err := reasoning.Build(cfg.CandidateList(), reasoning.BuildOptions{
		OpenAIBaseURL: cfg.Reasoning.BaseURL,
		OpenAIAPIKey:  cfg.Reasoning.APIKey,
		Ollama:        ollamaClient,
		Temperature:   cfg.Reasoning.Temperature,
	})
	if err != nil {
		closeStores(local, assessments)
		return nil, fmt.Errorf("building reasoning candidates: %w", err)
	}

	// Local models are optional when remote candidates exist; the chain falls
	// through to the next candidate and memory indexing retries.
	models := append(reasoning.OllamaModels(backends), cfg.Ollama.EmbedModel)
	if err := ollama.EnsureReady(ctx, ollamaClient, models, os.Stderr); err != nil {
		slog.Warn("ollama not ready", "base_url", cfg.Ollama.BaseURL, "error", err)
	}

	interceptor := redflag.New()
	if cfg.Assessment.RedFlagFile != "" {
		interceptor, err = redflag.LoadFile(cfg.Assessment.RedFlagFile)
		if err != nil {
			closeStores(local, assessments)
			return nil, fmt.Errorf("loading red flag patterns: %w", err)
		}
	}

	chain := reasoning.NewChain(cfg.ReasoningTimeout(), backends...)
	profiles := profile.NewManager(local)
	embedder := memory.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel)

	engine := interview.New(interceptor, differential.NewGenerator(chain),
		interview.WithAuditLogger(assessments),
		interview.WithReportStore(assessments),
		interview.WithMemoryWriter(memory.NewWriter(local)),
		interview.WithProfileWriter(profiles),
	)
	service := api.NewService(assessments, engine, profiles, api.ServiceConfig{
		SessionTTL:      cfg.SessionTTL(),
		DefaultLanguage: assessment.ParseLocale(cfg.Assessment.DefaultLanguage, assessment.LocaleZH),
		DefaultCountry:  cfg.Assessment.DefaultCountry,
	})

	slog.Info("assessment service ready",
		"storage", cfg.Storage.Driver,
		"candidates", chain.Candidates(),
		"red_flag_patterns", len(interceptor.Patterns()),
	)
	return &app{
		cfg:         cfg,
		local:       local,
		assessments: assessments,
		chain:       chain,
		service:     service,
		recaller:    memory.NewRecaller(local, embedder),
		worker:      memory.NewWorker(local, embedder, 0),
	}, nil
}

func (a *app) Close() {
	closeStores(a.local, a.assessments)
}

func closeStores(local *storage.Store, assessments storage.AssessmentStore) {
	if assessments != nil && assessments != storage.AssessmentStore(local) {
		if err := assessments.Close(); err != nil {
			printWarning("closing assessment store: %v", err)
		}
	}
	if err := local.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}
