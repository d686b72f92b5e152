package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockSecrets is an in-memory SecretStore.
type mockSecrets struct {
	values map[string]string
	err    error
}

func (m *mockSecrets) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockSecrets) Set(service, account, value string) error {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[service+"/"+account] = value
	return nil
}

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{}`), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.MaxConns != 64 {
		t.Errorf("Server.MaxConns = %d, want 64", cfg.Server.MaxConns)
	}
	if cfg.Engine.Provider != "ollama" {
		t.Errorf("Engine.Provider = %q, want ollama", cfg.Engine.Provider)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Capture.MinLength != 10 {
		t.Errorf("Capture.MinLength = %d, want 10", cfg.Capture.MinLength)
	}
	if cfg.Capture.StreakWindow != 48*time.Hour {
		t.Errorf("Capture.StreakWindow = %s, want 48h", cfg.Capture.StreakWindow)
	}
	if cfg.Replay.SeedStreakWindow != 168*time.Hour {
		t.Errorf("Replay.SeedStreakWindow = %s, want 168h", cfg.Replay.SeedStreakWindow)
	}
	if cfg.Synthesis.Interval != 0 {
		t.Errorf("Synthesis.Interval = %s, want disabled", cfg.Synthesis.Interval)
	}
	if cfg.Pricing.InputPerMTok != 0.15 || cfg.Pricing.OutputPerMTok != 0.60 || cfg.Pricing.DailyBudgetUSD != 0 {
		t.Errorf("Pricing = %+v", cfg.Pricing)
	}
	chat, embed := cfg.Models()
	if chat != "llama3.1" || embed != "nomic-embed-text" {
		t.Errorf("Models() = %q, %q", chat, embed)
	}
}

// TestFileValues verifies that every kind of key is read from the JSON file.
func TestFileValues(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{
		"server.port": 5000,
		"ollama.chat_model": "qwen2.5",
		"storage.data_dir": "/tmp/driftline-test",
		"capture.streak_window": "72h",
		"pricing.input_per_mtok": "0.5",
		"synthesis.interval": "15m"
	}`)

	cfg, err := loadWith(b, &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Ollama.ChatModel != "qwen2.5" {
		t.Errorf("Ollama.ChatModel = %q", cfg.Ollama.ChatModel)
	}
	if cfg.Storage.DataDir != "/tmp/driftline-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Capture.StreakWindow != 72*time.Hour {
		t.Errorf("Capture.StreakWindow = %s", cfg.Capture.StreakWindow)
	}
	if cfg.Pricing.InputPerMTok != 0.5 {
		t.Errorf("Pricing.InputPerMTok = %v", cfg.Pricing.InputPerMTok)
	}
	if cfg.Synthesis.Interval != 15*time.Minute {
		t.Errorf("Synthesis.Interval = %s", cfg.Synthesis.Interval)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{"server.port": 5000, "log.level": "info"}`)
	t.Setenv("DRIFTLINE_SERVER_PORT", "6000")
	t.Setenv("DRIFTLINE_LOG_LEVEL", "debug")
	t.Setenv("DRIFTLINE_SYNTHESIS_TIMEOUT", "2m")
	t.Setenv("DRIFTLINE_CAPTURE_MIN_LENGTH", "not-a-number")

	cfg, err := loadWith(b, &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Synthesis.Timeout != 2*time.Minute {
		t.Errorf("Synthesis.Timeout = %s", cfg.Synthesis.Timeout)
	}
	if cfg.Capture.MinLength != 10 {
		t.Errorf("unparseable override changed MinLength to %d", cfg.Capture.MinLength)
	}
}

// TestOpenAIRequiresKey verifies a clear error when the key is missing everywhere.
func TestOpenAIRequiresKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("DRIFTLINE_ENGINE_PROVIDER", "openai")

	_, err := loadWith(writeTempConfig(t, `{}`), &mockSecrets{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q", err)
	}
}

// TestOpenAIKeyFromSecrets verifies the secret store is consulted when the env has no key.
func TestOpenAIKeyFromSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("DRIFTLINE_ENGINE_PROVIDER", "openai")
	secrets := &mockSecrets{values: map[string]string{"driftline/openai_api_key": "sk-stored"}}

	cfg, err := loadWith(writeTempConfig(t, `{}`), secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-stored" {
		t.Errorf("OpenAI.APIKey = %q", cfg.OpenAI.APIKey)
	}
	chat, embed := cfg.Models()
	if chat != "gpt-4o-mini" || embed != "text-embedding-3-small" {
		t.Errorf("Models() = %q, %q", chat, embed)
	}
}

// TestSecretNotReadFromFile verifies secrets in the config file are ignored.
func TestSecretNotReadFromFile(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{"openai.api_key": "leaked"}`), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "" {
		t.Errorf("OpenAI.APIKey = %q, want empty", cfg.OpenAI.APIKey)
	}
}

func TestInvalidProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("DRIFTLINE_ENGINE_PROVIDER", "llamafile")
	if _, err := loadWith(writeTempConfig(t, `{}`), &mockSecrets{}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestDailyBudget(t *testing.T) {
	clearEnv(t)
	t.Setenv("DRIFTLINE_PRICING_DAILY_BUDGET_USD", "2.5")
	cfg, err := loadWith(writeTempConfig(t, `{}`), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pricing.DailyBudgetUSD != 2.5 {
		t.Errorf("Pricing.DailyBudgetUSD = %v, want 2.5", cfg.Pricing.DailyBudgetUSD)
	}

	t.Setenv("DRIFTLINE_PRICING_DAILY_BUDGET_USD", "-1")
	if _, err := loadWith(writeTempConfig(t, `{}`), &mockSecrets{}); err == nil {
		t.Fatal("expected error for a negative budget")
	}
}

func TestSetKey(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	if err := setKey(b, "server.port", "4200"); err != nil {
		t.Fatalf("setKey(server.port): %v", err)
	}
	if err := setKey(b, "synthesis.interval", "1h"); err != nil {
		t.Fatalf("setKey(synthesis.interval): %v", err)
	}
	if err := setKey(b, "synthesis.interval", "hourly"); err == nil {
		t.Error("accepted an invalid duration")
	}
	if err := setKey(b, "openai.api_key", "sk"); err == nil {
		t.Error("accepted a secret")
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("accepted an unknown key")
	}

	reloaded := newFileBackend(b.path)
	clearEnv(t)
	cfg, err := loadWith(reloaded, &mockSecrets{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 || cfg.Synthesis.Interval != time.Hour {
		t.Errorf("reloaded = %d/%s", cfg.Server.Port, cfg.Synthesis.Interval)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.OpenAI.APIKey = "sk-secret"
	for _, k := range ShowAll(cfg) {
		if k.Key == "openai.api_key" || k.Value == "sk-secret" {
			t.Errorf("secret shown: %+v", k)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Error("ValidKeys and ShowAll disagree")
	}
}

func TestGetAPIToken(t *testing.T) {
	t.Setenv("DRIFTLINE_API_TOKEN", "")
	s := &mockSecrets{}

	first, err := GetAPIToken(s)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64", len(first))
	}
	second, err := GetAPIToken(s)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Error("token regenerated on second call")
	}

	t.Setenv("DRIFTLINE_API_TOKEN", "from-env")
	if tok, _ := GetAPIToken(s); tok != "from-env" {
		t.Errorf("token = %q, want env override", tok)
	}
}

func TestFileSecrets_RoundTrip(t *testing.T) {
	s := fileSecrets{path: filepath.Join(t.TempDir(), "nested", "secrets.json")}
	if _, err := s.Get("driftline", "api_token"); err == nil {
		t.Error("Get on missing file succeeded")
	}
	if err := s.Set("driftline", "api_token", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get("driftline", "api_token")
	if err != nil || got != "abc" {
		t.Errorf("Get = %q, %v", got, err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}
