package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jpviola/theoagent-sub002/internal/quota"
	"github.com/jpviola/theoagent-sub002/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator *session.Orchestrator
}

// NewMCPServer creates an MCP server exposing profile, stats, and quota
// tools for agent-driven clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"theoagent",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("theoagent — adaptive conversation service with per-user learning profiles and subscription quotas."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_learner_profile",
			mcp.WithDescription("Return a user's learning profile: interest counts, query count, and complexity level."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpGetProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("get_conversation_stats",
			mcp.WithDescription("Return a user's stored message count and subscription tier."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpGetStats(deps),
	)

	s.AddTool(
		mcp.NewTool("check_quota",
			mcp.WithDescription("Report how many messages a user may still send today, without consuming any."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithString("tier", mcp.Description("Subscription tier: free, plus, or expert (default free)")),
		),
		mcpCheckQuota(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_conversation_history",
			mcp.WithDescription("Delete a user's stored conversation history."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpClearHistory(deps),
	)

	return s
}

func mcpGetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		p, err := deps.Orchestrator.Profile(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get profile: %v", err)), nil
		}

		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		stats, err := deps.Orchestrator.ConversationStats(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get stats: %v", err)), nil
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCheckQuota(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		tier, err := quota.ParseTier(req.GetString("tier", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("invalid tier: %v", err)), nil
		}

		d, err := deps.Orchestrator.QuotaStatus(userID, tier)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to check quota: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"allowed":   d.Allowed,
			"remaining": d.Remaining,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal decision: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClearHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		if err := deps.Orchestrator.ClearHistory(ctx, userID); err != nil {
			return mcpError(fmt.Sprintf("failed to clear history: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Cleared conversation history for %s", userID)), nil
	}
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
