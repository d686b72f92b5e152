package extract

import (
	"fmt"
	"strings"

	"github.com/kalambet/driftline/internal/engine"
)

const extractionSystemPrompt = `You read short status updates written by members of a team. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Fields:
- "sentimentScore": a number from -1.0 (frustrated, negative) to 1.0 (energised, positive).
- "actionItems": every concrete task the author mentions, each with status "open", "blocked" or "done". Use an empty array when there are none.
- "synthesis": a concise, third-person restatement of the update.
- "feedback": one or two sentences of constructive coaching addressed to the author.`

const synthesisSystemPrompt = `You maintain a team's shared knowledge base. You receive new signals (short observations) and the current documents. Decide how the documents must change so that they reflect the signals. Your output must be ONLY a single valid JSON object that conforms to the provided schema.

Rules:
- Prefer modifying an existing document over creating a near-duplicate. Use the exact existing title when modifying or deleting.
- For "create" and "modify", "content" is the complete new document text, not a diff.
- Delete a document only when the signals make it obsolete.
- Return an empty "operations" array when the signals add nothing new.
- "priorityRecommendations" may suggest a priority (low, medium, high, critical) for any signal id you were given.`

// BuildExtractionPrompt constructs the chat messages for capture extraction.
func BuildExtractionPrompt(text string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: text},
	}
}

// BuildSynthesisPrompt constructs the chat messages for a synthesis proposal.
func BuildSynthesisPrompt(signals []SignalInput, docs []DocumentInput) []engine.Message {
	var sb strings.Builder
	sb.WriteString("[Signals]\n")
	for _, s := range signals {
		fmt.Fprintf(&sb, "- id=%s priority=%s: %s\n", s.ID, orNone(s.Priority), s.Content)
	}

	sb.WriteString("\n[Documents]\n")
	if len(docs) == 0 {
		sb.WriteString("(none yet)\n")
	}
	for _, d := range docs {
		fmt.Fprintf(&sb, "## %s\n%s\n\n", d.Title, d.Content)
	}

	return []engine.Message{
		{Role: "system", Content: synthesisSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
