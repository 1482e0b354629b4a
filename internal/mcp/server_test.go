package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bd/internal/models"
	"github.com/joescharf/bd/internal/service"
	"github.com/joescharf/bd/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "issues.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := service.New(st, service.WithClock(func() time.Time { return clock }))
	return NewServer(svc)
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

func createViaTool(t *testing.T, srv *Server, title string, priority int) models.Issue {
	t.Helper()
	result, err := srv.handleCreateIssue(context.Background(), callToolReq("bd_create", map[string]any{
		"title":    title,
		"priority": priority,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var issue models.Issue
	resultJSON(t, result, &issue)
	return issue
}

func TestMCPServer_RegistersTools(t *testing.T) {
	srv := newTestServer(t)
	assert.NotNil(t, srv.MCPServer())
}

func TestHandleCreateIssue(t *testing.T) {
	srv := newTestServer(t)

	issue := createViaTool(t, srv, "Wire up retries", 1)
	assert.GreaterOrEqual(t, len(issue.ID), 8)
	assert.Equal(t, models.StatusOpen, issue.Status)
	assert.Equal(t, 1, issue.Priority)
}

func TestHandleCreateIssue_MissingTitle(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleCreateIssue(context.Background(), callToolReq("bd_create", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleShowAndList(t *testing.T) {
	srv := newTestServer(t)
	created := createViaTool(t, srv, "Visible issue", 2)

	result, err := srv.handleShowIssue(context.Background(), callToolReq("bd_show", map[string]any{"id": created.ID}))
	require.NoError(t, err)
	var issue models.Issue
	resultJSON(t, result, &issue)
	assert.Equal(t, created.ID, issue.ID)

	result, err = srv.handleListIssues(context.Background(), callToolReq("bd_list", map[string]any{"status": "open"}))
	require.NoError(t, err)
	var issues []models.Issue
	resultJSON(t, result, &issues)
	assert.Len(t, issues, 1)

	result, err = srv.handleListIssues(context.Background(), callToolReq("bd_list", map[string]any{"status": "closed"}))
	require.NoError(t, err)
	resultJSON(t, result, &issues)
	assert.Empty(t, issues)
}

func TestHandleUpdateAndClose(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	created := createViaTool(t, srv, "Lifecycle issue", 2)

	result, err := srv.handleUpdateIssue(ctx, callToolReq("bd_update", map[string]any{
		"id":     created.ID,
		"status": "in_progress",
	}))
	require.NoError(t, err)
	var update struct {
		Issue   models.Issue `json:"issue"`
		Changed bool         `json:"changed"`
	}
	resultJSON(t, result, &update)
	assert.True(t, update.Changed)
	assert.Equal(t, models.StatusInProgress, update.Issue.Status)

	// Closing through bd_update is rejected; bd_close captures the reason.
	result, err = srv.handleUpdateIssue(ctx, callToolReq("bd_update", map[string]any{
		"id":     created.ID,
		"status": "closed",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleCloseIssue(ctx, callToolReq("bd_close", map[string]any{
		"id":     created.ID,
		"reason": "done",
	}))
	require.NoError(t, err)
	var closed models.Issue
	resultJSON(t, result, &closed)
	assert.Equal(t, models.StatusClosed, closed.Status)
	require.NotNil(t, closed.CloseReason)
	assert.Equal(t, "done", *closed.CloseReason)

	result, err = srv.handleReopenIssue(ctx, callToolReq("bd_reopen", map[string]any{"id": created.ID}))
	require.NoError(t, err)
	var reopened models.Issue
	resultJSON(t, result, &reopened)
	assert.Equal(t, models.StatusOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)
}

func TestHandleDepsAndReady(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	blocker := createViaTool(t, srv, "Blocker", 2)
	blocked := createViaTool(t, srv, "Blocked", 2)

	result, err := srv.handleDepAdd(ctx, callToolReq("bd_dep_add", map[string]any{
		"from": blocker.ID,
		"to":   blocked.ID,
		"type": "blocks",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = srv.handleReady(ctx, callToolReq("bd_ready", nil))
	require.NoError(t, err)
	var ready []models.Issue
	resultJSON(t, result, &ready)
	require.Len(t, ready, 1)
	assert.Equal(t, blocker.ID, ready[0].ID)

	// A cycle is reported as a tool error, not a crash.
	result, err = srv.handleDepAdd(ctx, callToolReq("bd_dep_add", map[string]any{
		"from": blocked.ID,
		"to":   blocker.ID,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "cycle")

	result, err = srv.handleDepList(ctx, callToolReq("bd_dep_list", map[string]any{"id": blocked.ID}))
	require.NoError(t, err)
	var views []service.LinkView
	resultJSON(t, result, &views)
	require.Len(t, views, 1)
	assert.Equal(t, models.LinkBlockedBy, views[0].Type)

	result, err = srv.handleDepRemove(ctx, callToolReq("bd_dep_remove", map[string]any{
		"from": blocker.ID,
		"to":   blocked.ID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = srv.handleReady(ctx, callToolReq("bd_ready", nil))
	require.NoError(t, err)
	resultJSON(t, result, &ready)
	assert.Len(t, ready, 2)
}

func TestHandleSwarm(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	a := createViaTool(t, srv, "A", 2)
	b := createViaTool(t, srv, "B", 2)
	_, err := srv.svc.AddLink(ctx, a.ID, b.ID, models.LinkBlocks, "")
	require.NoError(t, err)

	result, err := srv.handleSwarm(ctx, callToolReq("bd_swarm", nil))
	require.NoError(t, err)
	var layers [][]struct {
		ID string `json:"id"`
	}
	resultJSON(t, result, &layers)
	require.Len(t, layers, 2)
	assert.Equal(t, a.ID, layers[0][0].ID)
	assert.Equal(t, b.ID, layers[1][0].ID)
}

func TestHandleComment(t *testing.T) {
	srv := newTestServer(t)
	created := createViaTool(t, srv, "Commented", 2)

	result, err := srv.handleComment(context.Background(), callToolReq("bd_comment", map[string]any{
		"id":     created.ID,
		"body":   "taking this one",
		"author": "agent-7",
	}))
	require.NoError(t, err)
	var comment models.Comment
	resultJSON(t, result, &comment)
	assert.Equal(t, "taking this one", comment.Body)
	assert.Equal(t, "agent-7", comment.Author)
}
