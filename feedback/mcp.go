package feedback

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/kit"
)

// RegisterMCP registers the annotation tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerListOpenTool(srv)
	s.registerSetStatusTool(srv)
}

type listOpenReq struct {
	ProjectID string `json:"project_id"`
	APIKey    string `json:"api_key"`
}

func (s *Service) registerListOpenTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pinpoint_list_open",
		Description: "List the open annotations of a project, oldest first, with their text, page path, element selector and pin coordinates.",
		InputSchema: kit.InputSchema(map[string]any{
			"project_id": map[string]any{"type": "string", "description": "Project identifier"},
			"api_key":    map[string]any{"type": "string", "description": "Project API key"},
		}, "project_id", "api_key"),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listOpenReq)
		p, err := s.project(ctx, r.ProjectID)
		if err != nil {
			return nil, err
		}
		if err := checkKey(p, r.APIKey); err != nil {
			return nil, err
		}
		recs, err := s.listOpen(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"project_id": p.ID, "comments": recs, "count": len(recs)}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(s.logger, tool.Name))(endpoint), decodeWithProject[listOpenReq](func(r *listOpenReq) string { return r.ProjectID }))
}

type setStatusReq struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	APIKey string `json:"api_key"`
}

func (s *Service) registerSetStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pinpoint_set_status",
		Description: "Mark an annotation as resolved or reopen it.",
		InputSchema: kit.InputSchema(map[string]any{
			"id":      map[string]any{"type": "string", "description": "Annotation id"},
			"status":  map[string]any{"type": "string", "enum": []string{"open", "resolved"}},
			"api_key": map[string]any{"type": "string", "description": "API key of the annotation's project"},
		}, "id", "status", "api_key"),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*setStatusReq)
		status, err := annotation.ParseStatus(r.Status)
		if err != nil {
			return nil, err
		}
		if err := s.setStatus(ctx, r.ID, status, r.APIKey); err != nil {
			return nil, err
		}
		return map[string]any{"id": r.ID, "status": status}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r, err := kit.DecodeArgs[setStatusReq](req)
		if err != nil {
			return nil, err
		}
		if r.ID == "" {
			return nil, errors.New("id is required")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(s.logger, tool.Name))(endpoint), decode)
}

// decodeWithProject decodes T and tags the context with its project id.
func decodeWithProject[T any](project func(*T) string) func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r, err := kit.DecodeArgs[T](req)
		if err != nil {
			return nil, err
		}
		id := project(&r)
		return &kit.MCPDecodeResult{
			Request:   &r,
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithProjectID(ctx, id) },
		}, nil
	}
}
