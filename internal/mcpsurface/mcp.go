// Package mcpsurface exposes the add_memories and search_memory tools over
// an SSE streaming transport. The connection URL carries the caller's
// user id and client name; both ride the request context into every tool
// invocation.
package mcpsurface

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/memforge/memforge/internal/service/orchestrator"
)

type contextKey string

const (
	ctxUserID     contextKey = "mcpUserID"
	ctxClientName contextKey = "mcpClientName"
)

// Surface wraps the MCP server and its SSE transport.
type Surface struct {
	orch *orchestrator.Orchestrator
	sse  *server.SSEServer
}

// New builds the tool host. basePath is where the SSE transport is mounted
// on the main router (e.g. "/mcp").
func New(orch *orchestrator.Orchestrator, basePath string) *Surface {
	s := &Surface{orch: orch}

	srv := server.NewMCPServer("memforge", "1.0.0", server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("add_memories",
		mcp.WithDescription("Store one or more natural-language statements as long-term memories. Commands (forget ..., stop tracking ..., mark as resolved ...) are dispatched to the matching mutation instead of being stored."),
		mcp.WithString("content", mcp.Required(),
			mcp.Description("A statement to remember, or a JSON array of statements processed sequentially")),
		mcp.WithArray("categories", mcp.Description("Explicit category names to attach")),
		mcp.WithArray("tags", mcp.Description("Tags to attach to stored memories")),
		mcp.WithBoolean("suppress_auto_categories",
			mcp.Description("Skip LLM categorization; defaults to true when categories are given")),
	), s.handleAddMemories)

	srv.AddTool(mcp.NewTool("search_memory",
		mcp.WithDescription("Recall memories. With a query runs hybrid lexical+vector search; without one browses chronologically."),
		mcp.WithString("query", mcp.Description("Search text; omit to browse")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (search default 10, browse default 50, cap 200)")),
		mcp.WithNumber("offset", mcp.Description("Browse-mode pagination offset")),
		mcp.WithString("category", mcp.Description("Case-insensitive category filter")),
		mcp.WithString("created_after", mcp.Description("ISO-8601 lower bound on creation time")),
		mcp.WithBoolean("include_entities", mcp.Description("Enrich search results with matching entities")),
		mcp.WithString("tag", mcp.Description("Case-insensitive tag filter")),
	), s.handleSearchMemory)

	s.sse = server.NewSSEServer(srv,
		server.WithStaticBasePath(basePath),
		server.WithSSEContextFunc(connectionContext),
	)
	return s
}

// Handler returns the SSE transport as a plain http.Handler for mounting.
func (s *Surface) Handler() http.Handler {
	return s.sse
}

// connectionContext resolves the per-connection identity from the transport
// URL (query string) or headers.
func connectionContext(ctx context.Context, r *http.Request) context.Context {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("x-user-id")
	}
	clientName := r.URL.Query().Get("client_name")
	if clientName == "" {
		clientName = r.Header.Get("x-client-name")
	}
	ctx = context.WithValue(ctx, ctxUserID, userID)
	return context.WithValue(ctx, ctxClientName, clientName)
}

func identityFrom(ctx context.Context) (userID, clientName string) {
	userID, _ = ctx.Value(ctxUserID).(string)
	clientName, _ = ctx.Value(ctxClientName).(string)
	return
}

func (s *Surface) handleAddMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, clientName := identityFrom(ctx)
	if userID == "" {
		return mcp.NewToolResultError("user_id is required on the connection URL"), nil
	}
	args := req.GetArguments()

	contents := stringsArg(args["content"])
	if len(contents) == 0 {
		return mcp.NewToolResultError("content must be a non-empty string or array of strings"), nil
	}
	addReq := orchestrator.AddRequest{
		Contents:   contents,
		Categories: stringsArg(args["categories"]),
		Tags:       stringsArg(args["tags"]),
		AppName:    clientName,
	}
	if v, ok := args["suppress_auto_categories"].(bool); ok {
		addReq.SuppressAutoCategories = &v
	}

	resp := s.orch.AddMemories(ctx, userID, addReq)
	return jsonResult(resp)
}

func (s *Surface) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, clientName := identityFrom(ctx)
	if userID == "" {
		return mcp.NewToolResultError("user_id is required on the connection URL"), nil
	}
	args := req.GetArguments()

	searchReq := orchestrator.SearchRequest{
		Query:    stringArg(args["query"]),
		Limit:    intArg(args["limit"]),
		Offset:   intArg(args["offset"]),
		Category: stringArg(args["category"]),
		Tag:      stringArg(args["tag"]),
		AppName:  clientName,
	}
	if v, ok := args["include_entities"].(bool); ok {
		searchReq.IncludeEntities = v
	}
	if raw := stringArg(args["created_after"]); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError("created_after must be an ISO-8601 timestamp"), nil
		}
		searchReq.CreatedAfter = &t
	}

	resp, err := s.orch.SearchMemory(ctx, userID, searchReq)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(resp)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to encode result"), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// stringArg extracts an optional string argument.
func stringArg(v interface{}) string {
	s, _ := v.(string)
	return s
}

// stringsArg accepts a single string or an array of strings (the
// add_memories content argument allows both shapes).
func stringsArg(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func intArg(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int64:
		return int(t)
	case int:
		return t
	}
	return 0
}
