package engine

import "testing"

func TestDetect_DefaultsToOllama(t *testing.T) {
	e, err := Detect(DetectConfig{OllamaBaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("Detect returned %T, want *OllamaEngine", e)
	}
}

func TestDetect_OpenAI(t *testing.T) {
	e, err := Detect(DetectConfig{Provider: ProviderOpenAI, OpenAIAPIKey: "sk-test"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OpenAIEngine); !ok {
		t.Errorf("Detect returned %T, want *OpenAIEngine", e)
	}
}

func TestDetect_OpenAIRequiresKey(t *testing.T) {
	if _, err := Detect(DetectConfig{Provider: ProviderOpenAI}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestDetect_UnknownProvider(t *testing.T) {
	if _, err := Detect(DetectConfig{Provider: "mlx"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
