package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Reasoning  ReasoningConfig
	Ollama     OllamaConfig
	Storage    StorageConfig
	Auth       AuthConfig
	Assessment AssessmentConfig
	Memory     MemoryConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
}

// ReasoningConfig describes the ordered candidate backends. Candidates is a
// comma-separated list of "<provider>:<model>" identifiers, tried in order.
type ReasoningConfig struct {
	BaseURL     string
	APIKey      string
	Candidates  string
	Temperature float64
	Timeout     string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type StorageConfig struct {
	Driver      string
	DataDir     string
	PostgresDSN string
}

type AuthConfig struct {
	JWTSecret string
}

type AssessmentConfig struct {
	SessionTTL      string
	DefaultLanguage string
	DefaultCountry  string
	RedFlagFile     string
}

type MemoryConfig struct {
	Workers int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           4100,
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
		Reasoning: ReasoningConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Candidates:  "openai:deepseek/deepseek-chat,openai:qwen/qwen-2.5-72b-instruct,ollama:qwen2.5:7b",
			Temperature: 0.3,
			Timeout:     "45s",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: defaultDataDir(),
		},
		Assessment: AssessmentConfig{
			SessionTTL:      "24h",
			DefaultLanguage: "zh",
			DefaultCountry:  "CN",
		},
		Memory: MemoryConfig{
			Workers: 2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/intake/config.json, then a .env file in the working
// directory, then INTAKE_* environment variables. Later sources win.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), ".env")
}

func loadWith(b ConfigBackend, envFiles ...string) (Config, error) {
	cfg := defaults()

	applyBackend(&cfg, b)

	for _, f := range envFiles {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not load env file %s: %v\n", f, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Validate checks the settings a running server cannot do without.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("missing required config: JWT secret. Set it via environment variable INTAKE_JWT_SECRET")
	}
	cands := c.CandidateList()
	if len(cands) == 0 {
		return fmt.Errorf("reasoning.candidates is empty")
	}
	for _, id := range cands {
		if strings.HasPrefix(id, "openai:") && c.Reasoning.APIKey == "" {
			return fmt.Errorf("missing required config: reasoning API key for candidate %q. Set it via environment variable INTAKE_REASONING_API_KEY", id)
		}
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.driver is postgres but INTAKE_POSTGRES_DSN is not set")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q (want sqlite or postgres)", c.Storage.Driver)
	}
	if _, err := time.ParseDuration(c.Assessment.SessionTTL); err != nil {
		return fmt.Errorf("invalid assessment.session_ttl %q: %w", c.Assessment.SessionTTL, err)
	}
	return nil
}

// CandidateList splits the configured candidate identifiers, dropping blanks.
func (c Config) CandidateList() []string {
	var out []string
	for _, part := range strings.Split(c.Reasoning.Candidates, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SessionTTL returns the parsed session lifetime, falling back to 24h.
func (c Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.Assessment.SessionTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// ReasoningTimeout returns the per-candidate timeout, or zero when unset.
func (c Config) ReasoningTimeout() time.Duration {
	d, err := time.ParseDuration(c.Reasoning.Timeout)
	if err != nil {
		return 0
	}
	return d
}
