package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/driftline/internal/capture"
	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/usage"
)

// NewMCPServer exposes captures, search and synthesis as MCP tools. It uses
// the same dependencies as the HTTP API; Token and Gatherer are ignored.
func NewMCPServer(deps Deps) *server.MCPServer {
	deps = withDefaults(deps)

	s := server.NewMCPServer(
		"driftline",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("driftline scores team updates against the workspace strategy and keeps a versioned knowledge base synthesized from signals."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("submit_capture",
			mcp.WithDescription("Submit a member's update for scoring against the workspace strategy."),
			mcp.WithString("workspace_id", mcp.Description("Workspace ID"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Author's user ID"), mcp.Required()),
			mcp.WithString("text", mcp.Description("The update text"), mcp.Required()),
		),
		mcpSubmitCapture(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Semantically search the workspace's synthesis documents or signals."),
			mcp.WithString("workspace_id", mcp.Description("Workspace ID"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("documents (default) or signals")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("run_synthesis",
			mcp.WithDescription("Fold the workspace's unprocessed signals into its knowledge base as one commit."),
			mcp.WithString("workspace_id", mcp.Description("Workspace ID"), mcp.Required()),
		),
		mcpRunSynthesis(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List the workspace's live synthesis documents."),
			mcp.WithString("workspace_id", mcp.Description("Workspace ID"), mcp.Required()),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("document_history",
			mcp.WithDescription("Show every recorded version of a synthesis document in commit order."),
			mcp.WithString("document_id", mcp.Description("Document ID"), mcp.Required()),
		),
		mcpDocumentHistory(deps),
	)

	return s
}

func mcpSubmitCapture(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ws, err := req.RequireString("workspace_id")
		if err != nil {
			return mcpError("workspace_id is required"), nil
		}
		user, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		d, err := deps.Quota.Check(ctx, user, ws, usage.OpCapture)
		if err != nil {
			return mcpError(fmt.Sprintf("quota check failed: %v", err)), nil
		}
		if !d.Allowed {
			return mcpError(fmt.Sprintf("quota exceeded: %s", d.Reason)), nil
		}

		ctx, cancel := context.WithTimeout(ctx, deps.CaptureTimeout)
		defer cancel()
		res, m, err := deps.Pipeline.ProcessCapture(ctx, capture.Request{
			UserID:      user,
			WorkspaceID: ws,
			Text:        text,
			Source:      storage.SourceWeb,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("capture failed: %v", err)), nil
		}
		recordUsage(ctx, deps, ws, user, usage.OpCapture, m)

		art := newArtifactView(res.Artifact)
		eng := newEngagementView(res.Member, res.Engagement)
		return mcpJSON(captureResponse{
			Capture:    newCaptureView(res.Capture),
			Artifact:   &art,
			Engagement: &eng,
			Usage:      &m,
		})
	}
}

func mcpSearchKnowledge(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ws, err := req.RequireString("workspace_id")
		if err != nil {
			return mcpError("workspace_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		kind := req.GetString("kind", storage.KindDocuments)
		if kind != storage.KindDocuments && kind != storage.KindSignals {
			return mcpError(fmt.Sprintf("kind must be %q or %q", storage.KindDocuments, storage.KindSignals)), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		hits, err := deps.Searcher.Search(ctx, ws, query, kind, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(hits) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(hits)
	}
}

func mcpRunSynthesis(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ws, err := req.RequireString("workspace_id")
		if err != nil {
			return mcpError("workspace_id is required"), nil
		}

		d, err := deps.Quota.Check(ctx, "", ws, usage.OpSynthesis)
		if err != nil {
			return mcpError(fmt.Sprintf("quota check failed: %v", err)), nil
		}
		if !d.Allowed {
			return mcpError(fmt.Sprintf("quota exceeded: %s", d.Reason)), nil
		}

		ctx, cancel := context.WithTimeout(ctx, deps.SynthesisTimeout)
		defer cancel()
		res, m, err := deps.Orchestrator.Run(ctx, ws, storage.TriggerSynthesisRun)
		recordUsage(ctx, deps, ws, "", usage.OpSynthesis, m)
		if err != nil {
			return mcpError(fmt.Sprintf("synthesis failed: %v", err)), nil
		}
		return mcpJSON(newRunResponse(res, m))
	}
}

func mcpListDocuments(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ws, err := req.RequireString("workspace_id")
		if err != nil {
			return mcpError("workspace_id is required"), nil
		}
		docs, err := deps.Store.ListDocuments(ctx, ws)
		if err != nil {
			return mcpError(fmt.Sprintf("listing documents failed: %v", err)), nil
		}
		return mcpJSON(newDocumentViews(docs))
	}
}

func mcpDocumentHistory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}
		vs, err := deps.Store.DocumentHistory(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("document history failed: %v", err)), nil
		}
		return mcpJSON(newVersionViews(vs))
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
