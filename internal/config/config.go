// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds settings shared by the Lambda and the CLI.
type Config struct {
	StateTable  string `env:"STATE_TABLE"`
	ParamPrefix string `env:"PARAM_PREFIX"`

	TokenBudget      int `env:"TOKEN_BUDGET" envDefault:"1000"`
	MaxMessageLength int `env:"MAX_MESSAGE_LENGTH" envDefault:"300"`
	HistoryWindow    int `env:"HISTORY_WINDOW" envDefault:"6"`

	RetrievalDB         string `env:"RETRIEVAL_DB" envDefault:"./tutor.db"`
	RetrievalCollection string `env:"RETRIEVAL_COLLECTION" envDefault:"course_docs"`
	RetrievalTopK       int    `env:"RETRIEVAL_TOP_K" envDefault:"3"`
	EmbeddingModel      string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`

	DefaultModel      string        `env:"DEFAULT_MODEL" envDefault:"mini"`
	ModerationEnabled bool          `env:"MODERATION_ENABLED" envDefault:"true"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"720h"`
}

// Load parses the environment into a validated Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.TokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_BUDGET must be positive, got %d", c.TokenBudget))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGE_LENGTH must be positive, got %d", c.MaxMessageLength))
	}
	if c.HistoryWindow <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_WINDOW must be positive, got %d", c.HistoryWindow))
	}
	if c.RetrievalTopK <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.RetrievalTopK))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RequireLambda checks the settings only the Lambda deployment needs.
func (c Config) RequireLambda() error {
	var missing []string
	if strings.TrimSpace(c.StateTable) == "" {
		missing = append(missing, "STATE_TABLE")
	}
	if strings.TrimSpace(c.ParamPrefix) == "" {
		missing = append(missing, "PARAM_PREFIX")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Model returns the resolved default model id.
func (c Config) Model() string {
	return ResolveModel(c.DefaultModel)
}

var modelAliases = map[string]string{
	"mini":    "gpt-4o-mini",
	"regular": "gpt-4o",
}

// ResolveModel maps a user-facing alias to a model id. Unknown values are
// treated as model ids already.
func ResolveModel(alias string) string {
	a := strings.TrimSpace(alias)
	if id, ok := modelAliases[strings.ToLower(a)]; ok {
		return id
	}
	return a
}
