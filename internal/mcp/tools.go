package mcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Nonymaus/cursor-kg/internal/contextwindow"
	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// registerTools builds the RequestPlane dispatch table: add_memory,
// search_memory, get_episodes, get_entity_edge, delete_entity_edge,
// delete_episode, clear_graph (§4.8).
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("add_memory",
		mcp.WithDescription("Store an episode and extract entities/relationships into the knowledge graph"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Episode name")),
		mcp.WithString("episode_body", mcp.Required(), mcp.Description("Episode body text")),
		mcp.WithString("source", mcp.Description("Source kind: text, json, or message")),
		mcp.WithString("source_description", mcp.Description("Free-form provenance note")),
		mcp.WithString("group_id", mcp.Description("Group to scope this episode to")),
	), s.guarded("add_memory", s.handleAddMemory))

	s.mcpServer.AddTool(mcp.NewTool("search_memory",
		mcp.WithDescription("Hybrid text+vector search over episodes, nodes, and relationships"),
		mcp.WithString("operation", mcp.Description("nodes, facts, or similar_concepts (default: similar_concepts)")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithNumber("limit", mcp.Description("Maximum results to return")),
		mcp.WithString("group_filter", mcp.Description("Restrict results to one group")),
		mcp.WithString("verbosity", mcp.Description("summary, compact, or full")),
	), s.guarded("search_memory", s.handleSearchMemory))

	s.mcpServer.AddTool(mcp.NewTool("get_episodes",
		mcp.WithDescription("Fetch the most recent episodes for a group"),
		mcp.WithString("group_id", mcp.Required(), mcp.Description("Group to list episodes for")),
		mcp.WithNumber("last_n", mcp.Description("How many recent episodes to return")),
	), s.guarded("get_episodes", s.handleGetEpisodes))

	s.mcpServer.AddTool(mcp.NewTool("get_entity_edge",
		mcp.WithDescription("Fetch a single relationship edge by id"),
		mcp.WithString("edge_id", mcp.Required(), mcp.Description("Edge id")),
	), s.guarded("get_entity_edge", s.handleGetEntityEdge))

	s.mcpServer.AddTool(mcp.NewTool("delete_entity_edge",
		mcp.WithDescription("Delete a relationship edge by id"),
		mcp.WithString("edge_id", mcp.Required(), mcp.Description("Edge id")),
	), s.guarded("delete_entity_edge", s.handleDeleteEntityEdge))

	s.mcpServer.AddTool(mcp.NewTool("delete_episode",
		mcp.WithDescription("Delete an episode by id"),
		mcp.WithString("episode_id", mcp.Required(), mcp.Description("Episode id")),
	), s.guarded("delete_episode", s.handleDeleteEpisode))

	s.mcpServer.AddTool(mcp.NewTool("clear_graph",
		mcp.WithDescription("Delete every episode, node, edge, and embedding in a group"),
		mcp.WithString("group_id", mcp.Required(), mcp.Description("Group to clear")),
		mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true to execute")),
	), s.guarded("clear_graph", s.handleClearGraph))
}

func (s *Server) handleAddMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return errorResult(domain.CodeInvalidParameters, err.Error()), nil
	}
	content, err := req.RequireString("episode_body")
	if err != nil {
		return errorResult(domain.CodeInvalidParameters, err.Error()), nil
	}
	if max := s.cfg.Limits.MaxContentLength; max > 0 && len(content) > max {
		return errorResult(domain.CodeSizeLimit, fmt.Sprintf("episode_body exceeds max_content_length (%d bytes)", max)), nil
	}
	groupID := req.GetString("group_id", domain.DefaultGroupID)
	source := domain.Source(req.GetString("source", string(domain.SourceText)))
	sourceDesc := req.GetString("source_description", "")

	episodeID, err := s.deps.Memory.PutEpisode(ctx, domain.Episode{
		GroupID: groupID, Name: name, Content: content, Source: source, SourceDescription: sourceDesc,
	})
	if err != nil {
		return domainErrorResult("add_memory", err), nil
	}

	nodes, edges := s.deps.Extract(groupID, name, content, source)
	nodeIDs := make(map[string]string, len(nodes)) // extracted name -> real node id
	createdNodes := 0
	for _, n := range nodes {
		res, err := s.deps.Memory.PutNode(ctx, n)
		if err != nil {
			continue
		}
		nodeIDs[n.Name] = res.ID
		if res.WasNew {
			createdNodes++
		}
	}
	createdEdges := 0
	for _, e := range edges {
		srcID, srcOK := nodeIDs[e.SourceNodeID]
		dstID, dstOK := nodeIDs[e.TargetNodeID]
		if !srcOK || !dstOK {
			continue
		}
		e.SourceNodeID, e.TargetNodeID = srcID, dstID
		if _, err := s.deps.Memory.PutEdge(ctx, e); err == nil {
			createdEdges++
		}
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"episode_id=%s entities_created=%d relationships_created=%d", episodeID, createdNodes, createdEdges,
	)), nil
}

func (s *Server) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return errorResult(domain.CodeInvalidParameters, err.Error()), nil
	}
	if max := s.cfg.Limits.MaxQueryLength; max > 0 && len(query) > max {
		return errorResult(domain.CodeSizeLimit, fmt.Sprintf("query exceeds max_query_length (%d bytes)", max)), nil
	}
	limit := req.GetInt("limit", 10)
	groupFilter := req.GetString("group_filter", "")
	verbosity := domain.Verbosity(req.GetString("verbosity", string(domain.VerbosityCompact))).Normalize()
	operation := req.GetString("operation", "similar_concepts")

	if operation == "facts" {
		return s.searchFacts(ctx, groupFilter, query, limit, verbosity)
	}

	resp, err := s.deps.Search.Search(ctx, query, limit, groupFilter)
	if err != nil {
		return domainErrorResult("search_memory", err), nil
	}
	if operation == "nodes" {
		filtered := resp.Results[:0]
		for _, r := range resp.Results {
			if r.Kind == "node" {
				filtered = append(filtered, r)
			}
		}
		resp.Results = filtered
	}

	lines := make([]responseLine, 0, len(resp.Results)+1)
	if resp.Degraded != "" {
		lines = append(lines, responseLine{text: fmt.Sprintf("degraded: %s\n", resp.Degraded), relevance: 1})
	}
	for i, r := range resp.Results {
		var text string
		switch verbosity {
		case domain.VerbosityFull:
			text = fmt.Sprintf("%s %s (group=%s score=%.4f)\n", r.Kind, r.RefID, r.GroupID, r.Score)
		case domain.VerbositySummary:
			text = fmt.Sprintf("%s\n", r.RefID)
		default:
			text = fmt.Sprintf("%s %s (score=%.4f)\n", r.Kind, r.RefID, r.Score)
		}
		lines = append(lines, responseLine{text: text, relevance: 1 / float64(i+1)})
	}
	return mcp.NewToolResultText(s.shapeResponse(lines)), nil
}

// searchFacts serves operation="facts": relationships aren't part of the
// FTS/vector index (§4.3 indexes only nodes and episodes), so this matches
// the query substring against relation_type and summary directly.
func (s *Server) searchFacts(ctx context.Context, groupID, query string, limit int, verbosity domain.Verbosity) (*mcp.CallToolResult, error) {
	edges, err := s.deps.Memory.EdgesForGroup(ctx, groupID, 0)
	if err != nil {
		return domainErrorResult("search_memory", err), nil
	}
	needle := strings.ToLower(query)

	var lines []responseLine
	matched := 0
	for _, e := range edges {
		if !strings.Contains(strings.ToLower(e.RelationType), needle) && !strings.Contains(strings.ToLower(e.Summary), needle) {
			continue
		}
		if matched >= limit && limit > 0 {
			break
		}
		matched++
		var text string
		switch verbosity {
		case domain.VerbosityFull:
			text = fmt.Sprintf("%s --[%s]--> %s (group=%s weight=%.2f)\n", e.SourceNodeID, e.RelationType, e.TargetNodeID, e.GroupID, e.Weight)
		case domain.VerbositySummary:
			text = fmt.Sprintf("%s\n", e.ID)
		default:
			text = fmt.Sprintf("%s --[%s]--> %s\n", e.SourceNodeID, e.RelationType, e.TargetNodeID)
		}
		lines = append(lines, responseLine{text: text, relevance: 1 / float64(matched)})
	}
	return mcp.NewToolResultText(s.shapeResponse(lines)), nil
}

func (s *Server) handleGetEpisodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groupID, err := req.RequireString("group_id")
	if err != nil {
		return errorResult(domain.CodeInvalidParameters, err.Error()), nil
	}
	lastN := req.GetInt("last_n", 50)

	episodes, err := s.deps.Memory.IterEpisodes(ctx, groupID, lastN)
	if err != nil {
		return domainErrorResult("get_episodes", err), nil
	}
	lines := make([]responseLine, 0, len(episodes))
	for i, ep := range episodes {
		text := fmt.Sprintf("%s %s (%s, %s)\n", ep.ID, ep.Name, ep.Source, ep.CreatedAt.Format("2006-01-02T15:04:05Z"))
		lines = append(lines, responseLine{text: text, relevance: 1 / float64(i+1)})
	}
	return mcp.NewToolResultText(s.shapeResponse(lines)), nil
}

func (s *Server) handleGetEntityEdge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	edgeID, err := req.RequireString("edge_id")
	if err != nil {
		return errorResult(domain.CodeInvalidParameters, err.Error()), nil
	}
	edge, err := s.deps.Memory.GetEdge(ctx, edgeID)
	if err != nil {
		return domainErrorResult("get_entity_edge", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"%s --[%s]--> %s (weight=%.2f)", edge.SourceNodeID, edge.RelationType, edge.TargetNodeID, edge.Weight,
	)), nil
}

func (s *Server) handleDeleteEntityEdge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	edgeID, err := req.RequireString("edge_id")
	if err != nil {
		return errorResult(domain.CodeInvalidParameters, err.Error()), nil
	}
	if err := s.deps.Memory.DeleteEdge(ctx, edgeID); err != nil {
		return domainErrorResult("delete_entity_edge", err), nil
	}
	return mcp.NewToolResultText("deleted"), nil
}

func (s *Server) handleDeleteEpisode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	episodeID, err := req.RequireString("episode_id")
	if err != nil {
		return errorResult(domain.CodeInvalidParameters, err.Error()), nil
	}
	if err := s.deps.Memory.DeleteEpisode(ctx, episodeID); err != nil {
		return domainErrorResult("delete_episode", err), nil
	}
	return mcp.NewToolResultText("deleted"), nil
}

func (s *Server) handleClearGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groupID, err := req.RequireString("group_id")
	if err != nil {
		return errorResult(domain.CodeInvalidParameters, err.Error()), nil
	}
	confirm, err := req.RequireBool("confirm")
	if err != nil {
		return errorResult(domain.CodeInvalidParameters, err.Error()), nil
	}
	deleted, err := s.deps.Memory.ClearGroup(ctx, groupID, confirm)
	if err != nil {
		return domainErrorResult("clear_graph", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("rows_deleted=%d", deleted)), nil
}

// responseLine is one formatted result line awaiting assembly into a tool
// response, tagged with its rank-derived relevance for ContextWindow.
type responseLine struct {
	text      string
	relevance float64
}

// shapeResponse assembles lines in order, running them through
// Deps.Context when one is configured so a response never exceeds the
// configured token budget (§4.10). With no ContextWindow wired, every line
// passes through unchanged.
func (s *Server) shapeResponse(lines []responseLine) string {
	if s.deps.Context == nil || len(lines) == 0 {
		var b strings.Builder
		for _, l := range lines {
			b.WriteString(l.text)
		}
		return b.String()
	}

	chunks := make([]contextwindow.Chunk, len(lines))
	for i, l := range lines {
		chunks[i] = contextwindow.Chunk{ID: strconv.Itoa(i), Text: l.text, Priority: 1, Relevance: l.relevance}
	}
	selected := s.deps.Context.Select(chunks, time.Now())
	var b strings.Builder
	for _, c := range selected {
		b.WriteString(c.Text)
	}
	return b.String()
}
