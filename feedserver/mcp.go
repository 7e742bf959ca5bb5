package feedserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/liveblog/kit"
)

// RegisterMCP registers the liveblog tools on an MCP server.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerUpdatesTool(srv)
	s.registerCountTool(srv)
	s.registerAppendTool(srv)
}

// postScoped is a tool request naming a post.
type postScoped interface{ post() int64 }

func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var v T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &v); err != nil {
			return nil, err
		}
	}
	res := &kit.MCPDecodeResult{Request: &v}
	if ps, ok := any(&v).(postScoped); ok {
		res.EnrichCtx = func(ctx context.Context) context.Context {
			return kit.WithPostID(ctx, ps.post())
		}
	}
	return res, nil
}

// logged logs each tool call at debug level.
func (s *Server) logged(tool string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			s.logger.Debug("feedserver: mcp call",
				"tool", tool, "post_id", kit.GetPostID(ctx), "duration", time.Since(start), "error", err)
			return resp, err
		}
	}
}

func (s *Server) addTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Chain(s.logged(tool.Name))(endpoint), decode)
}

func postIDProp() map[string]any {
	return map[string]any{"type": "integer", "description": "Liveblog post ID"}
}

// --- liveblog_updates ---

type updatesRequest struct {
	PostID          int64 `json:"post_id"`
	Since           int64 `json:"since,omitempty"`
	Before          int64 `json:"before,omitempty"`
	PerPage         int   `json:"per_page,omitempty"`
	ExcludeModified bool  `json:"exclude_modified,omitempty"`
}

func (r *updatesRequest) post() int64 { return r.PostID }

func (s *Server) registerUpdatesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "liveblog_updates",
		Description: "Fetch liveblog entries created or edited after a cursor, or a page of older entries. Returns the same JSON as the updates endpoint.",
		InputSchema: kit.InputSchema(map[string]any{
			"post_id":          postIDProp(),
			"since":            map[string]any{"type": "integer", "description": "Cursor (last_modified of a previous response); 0 for a full sync"},
			"before":           map[string]any{"type": "integer", "description": "Return entries strictly older than this timestamp"},
			"per_page":         map[string]any{"type": "integer", "description": "Page size, 1-100 (default 50)"},
			"exclude_modified": map[string]any{"type": "boolean", "description": "Skip edited entries"},
		}, []string{"post_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*updatesRequest)
		return s.Updates(ctx, rr.PostID, UpdatesParams{
			Since:           abs(rr.Since),
			Before:          abs(rr.Before),
			PerPage:         rr.PerPage,
			IncludeModified: !rr.ExcludeModified,
		})
	}
	s.addTool(srv, tool, endpoint, decodeArgs[updatesRequest])
}

// --- liveblog_count ---

type countRequest struct {
	PostID int64 `json:"post_id"`
	Since  int64 `json:"since,omitempty"`
}

func (r *countRequest) post() int64 { return r.PostID }

func (s *Server) registerCountTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "liveblog_count",
		Description: "Count liveblog entries created or edited after a cursor.",
		InputSchema: kit.InputSchema(map[string]any{
			"post_id": postIDProp(),
			"since":   map[string]any{"type": "integer", "description": "Cursor; 0 counts every entry"},
		}, []string{"post_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*countRequest)
		return s.Count(ctx, rr.PostID, abs(rr.Since))
	}
	s.addTool(srv, tool, endpoint, decodeArgs[countRequest])
}

// --- liveblog_append_entry ---

type appendRequest struct {
	PostID int64 `json:"post_id"`
	EntryInput
}

func (r *appendRequest) post() int64 { return r.PostID }

func (s *Server) registerAppendTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "liveblog_append_entry",
		Description: "Publish a new liveblog entry. The body is Markdown; the entry is stamped with the current time.",
		InputSchema: kit.InputSchema(map[string]any{
			"post_id":   postIDProp(),
			"body":      map[string]any{"type": "string", "description": "Entry text in Markdown"},
			"author":    map[string]any{"type": "string", "description": "Display name of the author"},
			"is_pinned": map[string]any{"type": "boolean", "description": "Pin the entry"},
		}, []string{"post_id", "body"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*appendRequest)
		if rr.PostID <= 0 {
			return nil, fmt.Errorf("%w: post_id required", ErrInvalidInput)
		}
		return s.AppendEntry(ctx, rr.PostID, rr.EntryInput)
	}
	s.addTool(srv, tool, endpoint, decodeArgs[appendRequest])
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
