package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name      string
		err       error
		status    int
		transient bool
	}{
		{"no status", base, 0, true},
		{"deadline", fmt.Errorf("chat: %w", context.DeadlineExceeded), 0, true},
		{"canceled", context.Canceled, 0, false},
		{"429", base, 429, true},
		{"408", base, 408, true},
		{"500", base, 500, true},
		{"401", base, 401, false},
		{"422", base, 422, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err, tt.status)
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, want %v", IsTransient(err), tt.transient)
			}
			if !errors.Is(err, tt.err) {
				t.Error("classified error must unwrap to the original")
			}
		})
	}
}

func TestClassify_KeepsExistingClass(t *testing.T) {
	fatal := NewFatalError(errors.New("bad key"))
	if got := classify(fatal, 503); !IsFatal(got) || IsTransient(got) {
		t.Errorf("classify must not reclassify, got %v", got)
	}
}

func TestUsageAdd(t *testing.T) {
	got := Usage{PromptTokens: 3, CompletionTokens: 1}.Add(Usage{PromptTokens: 4, CompletionTokens: 2})
	if got != (Usage{PromptTokens: 7, CompletionTokens: 3}) {
		t.Errorf("Add = %+v", got)
	}
}
