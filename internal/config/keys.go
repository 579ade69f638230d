package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INTAKE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.rate_limit_rps", typ: kFloat, env: "INTAKE_RATE_LIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitRPS },
	},
	{
		key: "server.rate_limit_burst", typ: kInt, env: "INTAKE_RATE_LIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitBurst },
	},
	{
		key: "reasoning.base_url", typ: kString, env: "INTAKE_REASONING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Reasoning.BaseURL },
	},
	{
		key: "reasoning.api_key", typ: kString, env: "INTAKE_REASONING_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Reasoning.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Reasoning.APIKey },
	},
	{
		key: "reasoning.candidates", typ: kString, env: "INTAKE_REASONING_CANDIDATES",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.Candidates = v.(string) },
		extract: func(cfg Config) any { return cfg.Reasoning.Candidates },
	},
	{
		key: "reasoning.temperature", typ: kFloat, env: "INTAKE_REASONING_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Reasoning.Temperature },
	},
	{
		key: "reasoning.timeout", typ: kString, env: "INTAKE_REASONING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Reasoning.Timeout },
	},
	{
		key: "ollama.base_url", typ: kString, env: "INTAKE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "INTAKE_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.driver", typ: kString, env: "INTAKE_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INTAKE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.postgres_dsn", typ: kString, env: "INTAKE_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresDSN },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "INTAKE_JWT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "assessment.session_ttl", typ: kString, env: "INTAKE_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Assessment.SessionTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Assessment.SessionTTL },
	},
	{
		key: "assessment.default_language", typ: kString, env: "INTAKE_DEFAULT_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Assessment.DefaultLanguage = v.(string) },
		extract: func(cfg Config) any { return cfg.Assessment.DefaultLanguage },
	},
	{
		key: "assessment.default_country", typ: kString, env: "INTAKE_DEFAULT_COUNTRY",
		apply:   func(cfg *Config, v any) { cfg.Assessment.DefaultCountry = v.(string) },
		extract: func(cfg Config) any { return cfg.Assessment.DefaultCountry },
	},
	{
		key: "assessment.red_flag_file", typ: kString, env: "INTAKE_RED_FLAG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Assessment.RedFlagFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Assessment.RedFlagFile },
	},
	{
		key: "memory.workers", typ: kInt, env: "INTAKE_MEMORY_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Memory.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.Workers },
	},
	{
		key: "log.level", typ: kString, env: "INTAKE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if raw, ok := b.Lookup(s.key); ok {
			s.set(cfg, raw, "config key "+s.key)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		if raw := os.Getenv(s.env); raw != "" {
			s.set(cfg, raw, "env var "+s.env)
		}
	}
}

// parse converts raw into the Go value the key's apply func expects.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	}
	return raw, nil
}

// set applies raw to cfg. Unparsable values keep the previous setting and
// print a warning naming origin.
func (s keySpec) set(cfg *Config, raw, origin string) {
	v, err := s.parse(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse %s=%q: %v. Using default value.\n", origin, raw, err)
		return
	}
	s.apply(cfg, v)
}
