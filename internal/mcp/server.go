// Package mcp exposes the tracker's operations as MCP tools over stdio so
// agent runtimes can drive bd without shelling out to the CLI.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/bd/internal/models"
	"github.com/joescharf/bd/internal/service"
)

// Server wraps the bd service layer and exposes it as MCP tools.
type Server struct {
	svc *service.Service
}

// NewServer creates the MCP server wrapper.
func NewServer(svc *service.Service) *Server {
	return &Server{svc: svc}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("bd", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.showIssueTool())
	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.updateIssueTool())
	srv.AddTool(s.closeIssueTool())
	srv.AddTool(s.reopenIssueTool())
	srv.AddTool(s.readyTool())
	srv.AddTool(s.depAddTool())
	srv.AddTool(s.depRemoveTool())
	srv.AddTool(s.depListTool())
	srv.AddTool(s.swarmTool())
	srv.AddTool(s.commentTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// bd_create
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_create",
		mcp.WithDescription("Create a new issue. Returns the created issue as JSON, including its minted id."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Issue title (single line)")),
		mcp.WithString("description", mcp.Description("Issue description")),
		mcp.WithString("type", mcp.Description("Issue type: bug, feature, task, epic, chore, spike, doc (default: task)")),
		mcp.WithNumber("priority", mcp.Description("Priority 0 (highest) to 4 (default: 2)")),
		mcp.WithString("assignee", mcp.Description("Assignee identifier")),
		mcp.WithString("actor", mcp.Description("Actor recorded on the audit event")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	params := service.CreateParams{
		Title:       title,
		Description: request.GetString("description", ""),
		Type:        models.IssueType(request.GetString("type", "")),
		Assignee:    request.GetString("assignee", ""),
		Actor:       request.GetString("actor", ""),
	}
	if p := request.GetInt("priority", -1); p >= 0 {
		params.Priority = &p
	}

	issue, err := s.svc.CreateIssue(ctx, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create issue: %v", err)), nil
	}
	return jsonResult(issue)
}

// bd_show
func (s *Server) showIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_show",
		mcp.WithDescription("Show one issue as JSON, including labels and outgoing links."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Issue id")),
	)
	return tool, s.handleShowIssue
}

func (s *Server) handleShowIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	issue, err := s.svc.GetIssue(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to show issue: %v", err)), nil
	}
	return jsonResult(issue)
}

// bd_list
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_list",
		mcp.WithDescription("List issues as a JSON array. All filters are optional and combined with AND."),
		mcp.WithString("status", mcp.Description("Filter by status: open, in_progress, blocked, closed")),
		mcp.WithString("type", mcp.Description("Filter by issue type")),
		mcp.WithString("assignee", mcp.Description("Filter by assignee")),
		mcp.WithString("label", mcp.Description("Filter by label")),
		mcp.WithString("text", mcp.Description("Title/description substring match")),
		mcp.WithNumber("limit", mcp.Description("Maximum results")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := models.IssueFilter{
		Text:  request.GetString("text", ""),
		Limit: request.GetInt("limit", 0),
	}
	if st := request.GetString("status", ""); st != "" {
		filter.Statuses = []models.IssueStatus{models.IssueStatus(st)}
	}
	if ty := request.GetString("type", ""); ty != "" {
		filter.Types = []models.IssueType{models.IssueType(ty)}
	}
	if a := request.GetString("assignee", ""); a != "" {
		filter.Assignee = &a
	}
	if l := request.GetString("label", ""); l != "" {
		filter.Labels = []string{l}
	}

	issues, err := s.svc.ListIssues(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}
	if issues == nil {
		issues = []*models.Issue{}
	}
	return jsonResult(issues)
}

// bd_update
func (s *Server) updateIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_update",
		mcp.WithDescription("Update issue fields. Omitted fields are untouched. Closing requires bd_close. Returns the updated issue and a changed flag; re-applying an identical update reports changed=false."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("type", mcp.Description("New issue type")),
		mcp.WithNumber("priority", mcp.Description("New priority 0..4")),
		mcp.WithString("status", mcp.Description("New status: open, in_progress, blocked")),
		mcp.WithString("assignee", mcp.Description("New assignee")),
		mcp.WithString("actor", mcp.Description("Actor recorded on the audit events")),
	)
	return tool, s.handleUpdateIssue
}

func (s *Server) handleUpdateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	params := service.UpdateParams{
		Type:   models.IssueType(request.GetString("type", "")),
		Status: models.IssueStatus(request.GetString("status", "")),
		Actor:  request.GetString("actor", ""),
	}
	if title := request.GetString("title", ""); title != "" {
		params.Title = title
		params.HasTitle = true
	}
	if desc := request.GetString("description", ""); desc != "" {
		params.Description = desc
		params.HasDesc = true
	}
	if p := request.GetInt("priority", -1); p >= 0 {
		params.Priority = &p
	}
	if a := request.GetString("assignee", ""); a != "" {
		params.Assignee = a
		params.HasAssignee = true
	}

	res, err := s.svc.UpdateIssue(ctx, id, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update issue: %v", err)), nil
	}
	return jsonResult(map[string]any{"issue": res.Issue, "changed": res.Changed})
}

// bd_close
func (s *Server) closeIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_close",
		mcp.WithDescription("Close an issue with a required reason."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why the issue is closed")),
		mcp.WithString("actor", mcp.Description("Actor recorded on the audit events")),
	)
	return tool, s.handleCloseIssue
}

func (s *Server) handleCloseIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	reason, err := request.RequireString("reason")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: reason"), nil
	}

	issue, err := s.svc.CloseIssue(ctx, id, reason, request.GetString("actor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to close issue: %v", err)), nil
	}
	return jsonResult(issue)
}

// bd_reopen
func (s *Server) reopenIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_reopen",
		mcp.WithDescription("Reopen a closed issue, clearing closed_at and the close reason."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("actor", mcp.Description("Actor recorded on the audit events")),
	)
	return tool, s.handleReopenIssue
}

func (s *Server) handleReopenIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	issue, err := s.svc.ReopenIssue(ctx, id, request.GetString("actor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to reopen issue: %v", err)), nil
	}
	return jsonResult(issue)
}

// bd_ready
func (s *Server) readyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_ready",
		mcp.WithDescription("List issues ready to work on right now: open or in-progress with every blocking predecessor closed. Sorted by priority, recency, then id."),
	)
	return tool, s.handleReady
}

func (s *Server) handleReady(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issues, err := s.svc.Ready(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute ready set: %v", err)), nil
	}
	if issues == nil {
		issues = []*models.Issue{}
	}
	return jsonResult(issues)
}

// bd_dep_add
func (s *Server) depAddTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_dep_add",
		mcp.WithDescription("Add a typed link between two issues. Inverse spellings (blocked_by, depends_on, child_of, ...) are normalized on ingest. Blocking links are rejected if they would create a cycle."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Source issue id")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Target issue id")),
		mcp.WithString("type", mcp.Description("Link type (default: blocks)")),
		mcp.WithString("actor", mcp.Description("Actor recorded on the audit event")),
	)
	return tool, s.handleDepAdd
}

func (s *Server) handleDepAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := request.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: from"), nil
	}
	to, err := request.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: to"), nil
	}
	typ := models.LinkType(request.GetString("type", string(models.LinkBlocks)))

	link, err := s.svc.AddLink(ctx, from, to, typ, request.GetString("actor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add link: %v", err)), nil
	}
	return jsonResult(link)
}

// bd_dep_remove
func (s *Server) depRemoveTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_dep_remove",
		mcp.WithDescription("Remove a link between two issues, in any spelling."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Source issue id")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Target issue id")),
		mcp.WithString("type", mcp.Description("Link type (default: blocks)")),
		mcp.WithString("actor", mcp.Description("Actor recorded on the audit event")),
	)
	return tool, s.handleDepRemove
}

func (s *Server) handleDepRemove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := request.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: from"), nil
	}
	to, err := request.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: to"), nil
	}
	typ := models.LinkType(request.GetString("type", string(models.LinkBlocks)))

	if err := s.svc.RemoveLink(ctx, from, to, typ, request.GetString("actor", "")); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to remove link: %v", err)), nil
	}
	return jsonResult(map[string]any{"removed": true})
}

// bd_dep_list
func (s *Server) depListTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_dep_list",
		mcp.WithDescription("List an issue's links in both directions, with incoming edges rendered in their inverse spelling."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Issue id")),
	)
	return tool, s.handleDepList
}

func (s *Server) handleDepList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	views, err := s.svc.Links(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list links: %v", err)), nil
	}
	if views == nil {
		views = []service.LinkView{}
	}
	return jsonResult(views)
}

// bd_swarm
func (s *Server) swarmTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_swarm",
		mcp.WithDescription("Partition all non-closed issues into parallel work layers: layer 0 is ready now, layer k unblocks once layers below are closed."),
	)
	return tool, s.handleSwarm
}

func (s *Server) handleSwarm(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	layers, err := s.svc.Swarm(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute swarm: %v", err)), nil
	}

	type swarmNode struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Status   string `json:"status"`
		Priority int    `json:"priority"`
	}
	out := make([][]swarmNode, len(layers))
	for k, layer := range layers {
		out[k] = make([]swarmNode, len(layer))
		for i, n := range layer {
			out[k][i] = swarmNode{ID: n.ID, Title: n.Title, Status: string(n.Status), Priority: n.Priority}
		}
	}
	return jsonResult(out)
}

// bd_comment
func (s *Server) commentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bd_comment",
		mcp.WithDescription("Append a comment to an issue."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Comment text")),
		mcp.WithString("author", mcp.Description("Comment author")),
	)
	return tool, s.handleComment
}

func (s *Server) handleComment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	body, err := request.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: body"), nil
	}

	comment, err := s.svc.AddComment(ctx, id, request.GetString("author", ""), body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add comment: %v", err)), nil
	}
	return jsonResult(comment)
}
