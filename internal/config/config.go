package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting the service reads from the environment.
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Auth   AuthConfig
	Log    LogConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI:     ai,
		Auth:   AuthConfig{Token: strings.TrimSpace(os.Getenv("API_TOKEN"))},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Pretty: os.Getenv("LOG_PRETTY") == "true",
		},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
	// StreamBuffer is the capacity of each streaming response's frame
	// channel; a slow client blocks the producer once it fills up.
	StreamBuffer int
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	buffer := 16
	if override, err := parseOptionalIntEnv("STREAM_BUFFER"); err != nil {
		return ServerConfig{}, err
	} else if override != nil && *override > 0 {
		buffer = *override
	}

	return ServerConfig{Addr: addr, StreamBuffer: buffer}, nil
}

// AuthConfig holds the static bearer token protecting /api routes. An
// empty token disables the check.
type AuthConfig struct {
	Token string
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string
	Pretty bool
}

// AIConfig selects and configures the language model provider.
type AIConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int
	// MaxTurns bounds each session's conversation history.
	MaxTurns int
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", "ollama"))

	llmModel := strings.TrimSpace(os.Getenv("LLM_MODEL"))
	if llmModel == "" {
		llmModel = defaultModel(provider)
	}

	maxTokens := 4096
	if override, err := parseOptionalIntEnv("LLM_MAX_TOKENS"); err != nil {
		return AIConfig{}, err
	} else if override != nil && *override > 0 {
		maxTokens = *override
	}

	maxTurns := 20
	if override, err := parseOptionalIntEnv("HISTORY_MAX_TURNS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		maxTurns = *override
	}

	return AIConfig{
		Provider:  provider,
		Model:     llmModel,
		BaseURL:   strings.TrimSpace(os.Getenv("LLM_BASE_URL")),
		APIKey:    apiKeyFor(provider),
		MaxTokens: maxTokens,
		MaxTurns:  maxTurns,
	}, nil
}

// apiKeyFor resolves the provider-specific key, falling back to the
// generic LLM_API_KEY.
func apiKeyFor(provider string) string {
	var key string
	switch provider {
	case "openai":
		key = os.Getenv("OPENAI_API_KEY")
	case "claude":
		key = os.Getenv("ANTHROPIC_API_KEY")
	case "ark":
		key = os.Getenv("ARK_API_KEY")
	}
	if strings.TrimSpace(key) == "" {
		key = os.Getenv("LLM_API_KEY")
	}
	return strings.TrimSpace(key)
}

func defaultModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4.1-mini"
	case "claude":
		return "claude-3-5-haiku-20241022"
	case "ark":
		return "" // endpoint id, must come from env
	default:
		return "qwen3"
	}
}

// Enabled reports whether the required credentials for the selected
// provider are present. Ollama needs none.
func (c AIConfig) Enabled() bool {
	if c.Provider == "ollama" {
		return true
	}
	return c.Model != "" && c.APIKey != ""
}

// NewChatModel builds the eino chat model for the configured provider.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ToolCallingChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("provider %q is missing credentials or model id", c.Provider)
	}

	switch c.Provider {
	case "openai":
		cfg := &openai.ChatModelConfig{
			APIKey: c.APIKey,
			Model:  c.Model,
		}
		if c.BaseURL != "" {
			cfg.BaseURL = c.BaseURL
		}
		return openai.NewChatModel(ctx, cfg)

	case "claude":
		cfg := &claude.Config{
			APIKey:    c.APIKey,
			Model:     c.Model,
			MaxTokens: c.MaxTokens,
		}
		if c.BaseURL != "" {
			baseURL := c.BaseURL
			cfg.BaseURL = &baseURL
		}
		return claude.NewChatModel(ctx, cfg)

	case "ark":
		maxTokens := c.MaxTokens
		cfg := &ark.ChatModelConfig{
			APIKey:    c.APIKey,
			Model:     c.Model,
			MaxTokens: &maxTokens,
		}
		if c.BaseURL != "" {
			cfg.BaseURL = c.BaseURL
		}
		return ark.NewChatModel(ctx, cfg)

	case "ollama":
		cfg := &ollama.ChatModelConfig{
			BaseURL: c.BaseURL,
			Model:   c.Model,
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434"
		}
		return ollama.NewChatModel(ctx, cfg)

	default:
		return nil, fmt.Errorf("unknown LLM provider %q", c.Provider)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
