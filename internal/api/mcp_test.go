package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/driftline/internal/extract"
	"github.com/kalambet/driftline/internal/retrieval"
	"github.com/kalambet/driftline/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	return result
}

func TestNewMCPServer(t *testing.T) {
	env := setup(t)
	if s := NewMCPServer(env.deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_SubmitCapture(t *testing.T) {
	env := setup(t)
	deps := withDefaults(env.deps)
	if _, err := env.store.EnsureMembership(context.Background(), "u1", "ws1"); err != nil {
		t.Fatalf("EnsureMembership: %v", err)
	}

	result := callTool(t, mcpSubmitCapture(deps), "submit_capture", map[string]interface{}{
		"workspace_id": "ws1",
		"user_id":      "u1",
		"text":         "shipped the billing migration",
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var resp struct {
		Artifact   artifactView   `json:"artifact"`
		Engagement engagementView `json:"engagement"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if resp.Artifact.AlignmentScore != 0.5 || resp.Engagement.Streak != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestMCPTool_SubmitCapture_Errors(t *testing.T) {
	env := setup(t)
	h := mcpSubmitCapture(withDefaults(env.deps))

	missing := callTool(t, h, "submit_capture", map[string]interface{}{"workspace_id": "ws1", "user_id": "u1"})
	if !missing.IsError || !strings.Contains(toolText(t, missing), "text is required") {
		t.Errorf("missing text: %s", toolText(t, missing))
	}

	short := callTool(t, h, "submit_capture", map[string]interface{}{"workspace_id": "ws1", "user_id": "u1", "text": "hi"})
	if !short.IsError {
		t.Error("short text accepted")
	}

	env.deps.Quota = denyQuota{}
	denied := callTool(t, mcpSubmitCapture(withDefaults(env.deps)), "submit_capture", map[string]interface{}{
		"workspace_id": "ws1", "user_id": "u1", "text": "a long enough update",
	})
	if !denied.IsError || !strings.Contains(toolText(t, denied), "quota exceeded") {
		t.Errorf("denied: %s", toolText(t, denied))
	}
}

func TestMCPTool_SynthesisAndHistory(t *testing.T) {
	env := setup(t)
	deps := withDefaults(env.deps)
	env.do(t, "POST", "/workspaces/ws1/signals", `{"content":"customers want SSO"}`)
	env.proposer.proposal = extract.Proposal{
		Operations: []extract.Operation{{Action: "create", Title: "Security", Content: "SSO requested."}},
	}

	result := callTool(t, mcpRunSynthesis(deps), "run_synthesis", map[string]interface{}{"workspace_id": "ws1"})
	if result.IsError {
		t.Fatalf("run_synthesis: %s", toolText(t, result))
	}
	var run runResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &run); err != nil {
		t.Fatalf("parsing run: %v", err)
	}
	if run.Commit == nil || run.Summary != "Synthesized 1 signals" || len(run.Operations) != 1 {
		t.Fatalf("run = %+v", run)
	}

	result = callTool(t, mcpListDocuments(deps), "list_documents", map[string]interface{}{"workspace_id": "ws1"})
	var docs []documentView
	if err := json.Unmarshal([]byte(toolText(t, result)), &docs); err != nil {
		t.Fatalf("parsing documents: %v", err)
	}
	if len(docs) != 1 || docs[0].Title != "Security" {
		t.Fatalf("docs = %+v", docs)
	}

	result = callTool(t, mcpDocumentHistory(deps), "document_history", map[string]interface{}{"document_id": docs[0].ID})
	var history []versionView
	if err := json.Unmarshal([]byte(toolText(t, result)), &history); err != nil {
		t.Fatalf("parsing history: %v", err)
	}
	if len(history) != 1 || history[0].ChangeType != storage.ChangeCreated || history[0].CommitID != run.Commit.ID {
		t.Errorf("history = %+v", history)
	}

	missing := callTool(t, mcpDocumentHistory(deps), "document_history", map[string]interface{}{"document_id": "nope"})
	if !missing.IsError {
		t.Error("history of missing document succeeded")
	}
}

func TestMCPTool_SearchKnowledge(t *testing.T) {
	env := setup(t)
	deps := withDefaults(env.deps)
	h := mcpSearchKnowledge(deps)

	empty := callTool(t, h, "search_knowledge", map[string]interface{}{"workspace_id": "ws1", "query": "anything"})
	if empty.IsError || toolText(t, empty) != "[]" {
		t.Errorf("empty search = %s", toolText(t, empty))
	}

	env.do(t, "POST", "/workspaces/ws1/signals", `{"content":"customers want SSO"}`)
	result := callTool(t, h, "search_knowledge", map[string]interface{}{"workspace_id": "ws1", "query": "sso", "kind": "signals"})
	var hits []retrieval.Hit
	if err := json.Unmarshal([]byte(toolText(t, result)), &hits); err != nil {
		t.Fatalf("parsing hits: %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "customers want SSO" {
		t.Errorf("hits = %+v", hits)
	}

	bad := callTool(t, h, "search_knowledge", map[string]interface{}{"workspace_id": "ws1", "query": "x", "kind": "captures"})
	if !bad.IsError {
		t.Error("invalid kind accepted")
	}
}
