package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// registerGraphTool adds query_graph, GraphQueries' tool surface (§4.6).
// It is only registered when Deps.Graph is wired, since the RequestPlane
// minimum tool set (§4.8) does not require it.
func (s *Server) registerGraphTool() {
	if s.deps.Graph == nil {
		return
	}
	s.mcpServer.AddTool(mcp.NewTool("query_graph",
		mcp.WithDescription("Traverse, shortest-path, connected-components, or centrality queries over a group's graph projection"),
		mcp.WithString("operation", mcp.Required(), mcp.Description("neighbors, shortest_path, connected_components, or centrality")),
		mcp.WithString("group_id", mcp.Required(), mcp.Description("Group to project the graph from")),
		mcp.WithString("start", mcp.Description("Node id to start from (neighbors, shortest_path source)")),
		mcp.WithString("target", mcp.Description("Node id to reach (shortest_path target)")),
		mcp.WithNumber("depth", mcp.Description("Traversal depth, capped at 3 (neighbors)")),
	), s.guarded("query_graph", s.handleQueryGraph))
}

func (s *Server) handleQueryGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	operation, err := req.RequireString("operation")
	if err != nil {
		return errorResult(domain.CodeInvalidParameters, err.Error()), nil
	}
	groupID, err := req.RequireString("group_id")
	if err != nil {
		return errorResult(domain.CodeInvalidParameters, err.Error()), nil
	}

	switch operation {
	case "neighbors":
		start, err := req.RequireString("start")
		if err != nil {
			return errorResult(domain.CodeInvalidParameters, err.Error()), nil
		}
		depth := req.GetInt("depth", 1)
		neighbors, err := s.deps.Graph.Neighbors(ctx, groupID, start, depth)
		if err != nil {
			return domainErrorResult("query_graph", err), nil
		}
		return mcp.NewToolResultText(strings.Join(neighbors, "\n")), nil

	case "shortest_path":
		start, err := req.RequireString("start")
		if err != nil {
			return errorResult(domain.CodeInvalidParameters, err.Error()), nil
		}
		target, err := req.RequireString("target")
		if err != nil {
			return errorResult(domain.CodeInvalidParameters, err.Error()), nil
		}
		path, cost, err := s.deps.Graph.ShortestPath(ctx, groupID, start, target)
		if err != nil {
			return domainErrorResult("query_graph", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("cost=%.4f path=%s", cost, strings.Join(path, "->"))), nil

	case "connected_components":
		components, err := s.deps.Graph.ConnectedComponents(ctx, groupID)
		if err != nil {
			return domainErrorResult("query_graph", err), nil
		}
		var b strings.Builder
		for i, members := range components {
			fmt.Fprintf(&b, "component_%d: %s\n", i, strings.Join(members, ","))
		}
		return mcp.NewToolResultText(b.String()), nil

	case "centrality":
		c, err := s.deps.Graph.Centrality(ctx, groupID)
		if err != nil {
			return domainErrorResult("query_graph", err), nil
		}
		var b strings.Builder
		for id, degree := range c.Degree {
			if c.Betweenness != nil {
				fmt.Fprintf(&b, "%s degree=%.2f betweenness=%.4f closeness=%.4f\n", id, degree, c.Betweenness[id], c.Closeness[id])
			} else {
				fmt.Fprintf(&b, "%s degree=%.2f\n", id, degree)
			}
		}
		return mcp.NewToolResultText(b.String()), nil

	default:
		return errorResult(domain.CodeInvalidParameters, fmt.Sprintf("unknown operation %q", operation)), nil
	}
}
