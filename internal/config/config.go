package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Ollama    ModelConfig
	OpenAI    ModelConfig
	API       APIConfig
	Storage   StorageConfig
	Log       LogConfig
	Capture   CaptureConfig
	Replay    ReplayConfig
	Synthesis SynthesisConfig
	Pricing   PricingConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type EngineConfig struct {
	Provider string // "ollama" or "openai"
}

// ModelConfig is the endpoint and model names of one inference provider.
type ModelConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
	APIKey     string
}

type APIConfig struct {
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type CaptureConfig struct {
	MinLength    int
	StreakWindow time.Duration
	Timeout      time.Duration
}

type ReplayConfig struct {
	SeedStreakWindow time.Duration
}

type SynthesisConfig struct {
	Interval time.Duration // 0 disables the scheduler
	Timeout  time.Duration
}

type PricingConfig struct {
	InputPerMTok   float64
	OutputPerMTok  float64
	DailyBudgetUSD float64 // 0 disables the budget gate
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Engine: EngineConfig{
			Provider: "ollama",
		},
		Ollama: ModelConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.1",
			EmbedModel: "nomic-embed-text",
		},
		OpenAI: ModelConfig{
			BaseURL:    "https://api.openai.com/v1",
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Capture: CaptureConfig{
			MinLength:    10,
			StreakWindow: 48 * time.Hour,
			Timeout:      60 * time.Second,
		},
		Replay: ReplayConfig{
			SeedStreakWindow: 168 * time.Hour,
		},
		Synthesis: SynthesisConfig{
			Timeout: 90 * time.Second,
		},
		Pricing: PricingConfig{
			InputPerMTok:  0.15,
			OutputPerMTok: 0.60,
		},
	}
}

// Models returns the chat and embedding model names of the active provider.
func (c Config) Models() (chat, embed string) {
	if c.Engine.Provider == "openai" {
		return c.OpenAI.ChatModel, c.OpenAI.EmbedModel
	}
	return c.Ollama.ChatModel, c.Ollama.EmbedModel
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/driftline/config.json, then applies DRIFTLINE_*
// environment overrides. Secrets come from the environment or from the
// secrets file at $XDG_DATA_HOME/driftline/secrets.json.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), NewSecretStore())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.OpenAI.APIKey == "" {
		if key, err := secrets.Get(secretService, "openai_api_key"); err == nil && key != "" {
			cfg.OpenAI.APIKey = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.Engine.Provider) {
	case "ollama":
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("missing required config: OpenAI API key. " +
				"Set it via environment variable DRIFTLINE_OPENAI_API_KEY or the secrets file")
		}
	default:
		return fmt.Errorf("invalid engine.provider %q: must be ollama or openai", c.Engine.Provider)
	}
	if c.Capture.MinLength < 1 {
		return fmt.Errorf("invalid capture.min_length %d: must be at least 1", c.Capture.MinLength)
	}
	if c.Capture.StreakWindow <= 0 || c.Replay.SeedStreakWindow <= 0 {
		return fmt.Errorf("streak windows must be positive")
	}
	if c.Synthesis.Interval < 0 {
		return fmt.Errorf("invalid synthesis.interval %s", c.Synthesis.Interval)
	}
	if c.Pricing.DailyBudgetUSD < 0 {
		return fmt.Errorf("invalid pricing.daily_budget_usd %v: must not be negative", c.Pricing.DailyBudgetUSD)
	}
	return nil
}
