package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
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
		key: "server.port", typ: kInt, env: "DRIFTLINE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "DRIFTLINE_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "engine.provider", typ: kString, env: "DRIFTLINE_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DRIFTLINE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "DRIFTLINE_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "DRIFTLINE_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "openai.base_url", typ: kString, env: "DRIFTLINE_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.chat_model", typ: kString, env: "DRIFTLINE_OPENAI_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ChatModel },
	},
	{
		key: "openai.embed_model", typ: kString, env: "DRIFTLINE_OPENAI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedModel },
	},
	{
		key: "openai.api_key", typ: kString, env: "DRIFTLINE_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DRIFTLINE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "DRIFTLINE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "capture.min_length", typ: kInt, env: "DRIFTLINE_CAPTURE_MIN_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Capture.MinLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Capture.MinLength },
	},
	{
		key: "capture.streak_window", typ: kDuration, env: "DRIFTLINE_CAPTURE_STREAK_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Capture.StreakWindow = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Capture.StreakWindow },
	},
	{
		key: "capture.timeout", typ: kDuration, env: "DRIFTLINE_CAPTURE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Capture.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Capture.Timeout },
	},
	{
		key: "replay.seed_streak_window", typ: kDuration, env: "DRIFTLINE_REPLAY_SEED_STREAK_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Replay.SeedStreakWindow = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Replay.SeedStreakWindow },
	},
	{
		key: "synthesis.interval", typ: kDuration, env: "DRIFTLINE_SYNTHESIS_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Synthesis.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Synthesis.Interval },
	},
	{
		key: "synthesis.timeout", typ: kDuration, env: "DRIFTLINE_SYNTHESIS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Synthesis.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Synthesis.Timeout },
	},
	{
		key: "pricing.input_per_mtok", typ: kFloat, env: "DRIFTLINE_PRICING_INPUT_PER_MTOK",
		apply:   func(cfg *Config, v any) { cfg.Pricing.InputPerMTok = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.InputPerMTok },
	},
	{
		key: "pricing.output_per_mtok", typ: kFloat, env: "DRIFTLINE_PRICING_OUTPUT_PER_MTOK",
		apply:   func(cfg *Config, v any) { cfg.Pricing.OutputPerMTok = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.OutputPerMTok },
	},
	{
		key: "pricing.daily_budget_usd", typ: kFloat, env: "DRIFTLINE_PRICING_DAILY_BUDGET_USD",
		apply:   func(cfg *Config, v any) { cfg.Pricing.DailyBudgetUSD = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.DailyBudgetUSD },
	},
}

// parse converts raw text into the key's value type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
