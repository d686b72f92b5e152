//go:build integration

package extract

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/driftline/internal/engine"
)

const integrationModel = "llama3.1"

func realOllama(t *testing.T) *engine.OllamaEngine {
	t.Helper()
	e := engine.NewOllamaEngine("http://localhost:11434")
	if !e.IsRunning(context.Background()) {
		t.Skip("Ollama is not running, skipping integration test")
	}
	if !e.HasModel(context.Background(), integrationModel) {
		t.Skipf("%s model not available, skipping integration test", integrationModel)
	}
	return e
}

func TestExtract_RealOllama(t *testing.T) {
	x := NewExtractor(realOllama(t), integrationModel)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	start := time.Now()
	got, u, err := x.Extract(ctx, "Shipped the onboarding revamp, but the billing migration is blocked on finance sign-off. Need to chase legal for the DPA.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.SentimentScore < -1 || got.SentimentScore > 1 {
		t.Errorf("sentiment %v out of range", got.SentimentScore)
	}
	if got.Synthesis == "" {
		t.Error("synthesis is empty")
	}
	if u.PromptTokens == 0 {
		t.Error("expected prompt token usage")
	}
	t.Logf("extraction: %+v usage: %+v (took %v)", got, u, time.Since(start))
}

func TestPropose_RealOllama(t *testing.T) {
	x := NewExtractor(realOllama(t), integrationModel)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	p, _, err := x.Propose(ctx,
		[]SignalInput{{ID: "s1", Content: "Three enterprise prospects asked for SAML SSO this week", Priority: "medium"}},
		[]DocumentInput{{Title: "Roadmap", Content: "Q3: self-serve onboarding."}},
	)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	for _, op := range p.Operations {
		if op.Title == "" {
			t.Errorf("operation without title: %+v", op)
		}
	}
	t.Logf("proposal: %+v", p)
}
