package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/driftline/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (ChatResponse, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	// A nil *Schema must not reach the client as a typed nil in an interface.
	var format any
	if jsonSchema != nil {
		format = jsonSchema
	}

	res, err := e.client.Chat(ctx, model, msgs, format)
	if err != nil {
		return ChatResponse{}, classifyOllama(err)
	}
	return ChatResponse{
		Content: res.Content,
		Usage: Usage{
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.OutputTokens,
		},
	}, nil
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, model, text)
	if err != nil {
		return nil, classifyOllama(err)
	}
	return vec, nil
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, classifyOllama(err)
	}
	return models, nil
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	if err := e.client.PullModel(ctx, name, cb); err != nil {
		return classifyOllama(err)
	}
	return nil
}

func classifyOllama(err error) error {
	var se *ollama.StatusError
	if errors.As(err, &se) {
		return classify(fmt.Errorf("ollama: %w", err), se.Code)
	}
	return classify(fmt.Errorf("ollama: %w", err), 0)
}
