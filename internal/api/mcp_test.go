package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jpviola/theoagent-sub002/internal/learner"
	"github.com/jpviola/theoagent-sub002/internal/quota"
	"github.com/jpviola/theoagent-sub002/internal/session"
)

// --- helpers ---

func newTestMCPDeps(eng *fakeEngine) (MCPDeps, *memStore) {
	store := newMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := session.NewOrchestrator(
		quota.NewManager(store),
		learner.NewStore(store),
		eng,
		eng,
		store,
		store,
		logger,
	)
	return MCPDeps{Orchestrator: orch}, store
}

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

func seedUser(t *testing.T, deps MCPDeps, userID string) {
	t.Helper()
	if _, err := deps.Orchestrator.HandleTurn(context.Background(), session.TurnRequest{
		UserID: userID, Message: "la biblia", Tier: quota.TierFree,
	}); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
}

// --- tests ---

func TestMCPTool_GetLearnerProfile(t *testing.T) {
	deps, _ := newTestMCPDeps(&fakeEngine{response: "ok"})
	seedUser(t, deps, "maria")
	handler := mcpGetProfile(deps)

	req := makeCallToolRequest("get_learner_profile", map[string]interface{}{
		"user_id": "maria",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var p learner.Profile
	if err := json.Unmarshal([]byte(toolText(t, result)), &p); err != nil {
		t.Fatalf("decoding profile: %v", err)
	}
	if p.QueryCount != 1 {
		t.Errorf("query count %d, want 1", p.QueryCount)
	}
}

func TestMCPTool_GetLearnerProfile_MissingUserID(t *testing.T) {
	deps, _ := newTestMCPDeps(&fakeEngine{})
	handler := mcpGetProfile(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_learner_profile", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing user_id")
	}
}

func TestMCPTool_GetConversationStats(t *testing.T) {
	deps, _ := newTestMCPDeps(&fakeEngine{response: "ok", historyCount: 3})
	seedUser(t, deps, "maria")
	handler := mcpGetStats(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_conversation_stats", map[string]interface{}{
		"user_id": "maria",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var stats session.Stats
	if err := json.Unmarshal([]byte(toolText(t, result)), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.MessageCount != 3 {
		t.Errorf("message count %d, want 3", stats.MessageCount)
	}
}

func TestMCPTool_CheckQuota(t *testing.T) {
	deps, _ := newTestMCPDeps(&fakeEngine{})
	handler := mcpCheckQuota(deps)

	result, err := handler(context.Background(), makeCallToolRequest("check_quota", map[string]interface{}{
		"user_id": "maria",
		"tier":    "free",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var decision struct {
		Allowed   bool            `json:"allowed"`
		Remaining json.RawMessage `json:"remaining"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &decision); err != nil {
		t.Fatalf("decoding decision: %v", err)
	}
	if !decision.Allowed {
		t.Error("expected allowed")
	}
	if string(decision.Remaining) != "10" {
		t.Errorf("remaining %s, want 10", decision.Remaining)
	}
}

func TestMCPTool_CheckQuota_InvalidTier(t *testing.T) {
	deps, _ := newTestMCPDeps(&fakeEngine{})
	handler := mcpCheckQuota(deps)

	result, err := handler(context.Background(), makeCallToolRequest("check_quota", map[string]interface{}{
		"user_id": "maria",
		"tier":    "premium",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for invalid tier")
	}
}

func TestMCPTool_ClearConversationHistory(t *testing.T) {
	deps, _ := newTestMCPDeps(&fakeEngine{response: "ok"})
	seedUser(t, deps, "maria")
	handler := mcpClearHistory(deps)

	result, err := handler(context.Background(), makeCallToolRequest("clear_conversation_history", map[string]interface{}{
		"user_id": "maria",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
}

func TestMCPTool_ClearConversationHistory_UnknownUser(t *testing.T) {
	deps, _ := newTestMCPDeps(&fakeEngine{})
	handler := mcpClearHistory(deps)

	result, err := handler(context.Background(), makeCallToolRequest("clear_conversation_history", map[string]interface{}{
		"user_id": "ghost",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown user")
	}
}
