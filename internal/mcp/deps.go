// Package mcp implements RequestPlane (§4.8): the JSON-RPC/MCP surface
// dispatching add_memory/search_memory/get_episodes/get_entity_edge/
// delete_entity_edge/delete_episode/clear_graph over stdio or HTTP+SSE.
package mcp

import (
	"context"
	"time"

	"github.com/Nonymaus/cursor-kg/internal/contextwindow"
	"github.com/Nonymaus/cursor-kg/internal/domain"
	"github.com/Nonymaus/cursor-kg/internal/extraction"
	"github.com/Nonymaus/cursor-kg/internal/graph"
	"github.com/Nonymaus/cursor-kg/internal/search/hybrid"
	"github.com/Nonymaus/cursor-kg/internal/storage"
)

// Memory is the storage surface the MCP tool handlers call into.
type Memory interface {
	PutEpisode(ctx context.Context, ep domain.Episode) (string, error)
	GetEpisode(ctx context.Context, id string) (domain.Episode, error)
	DeleteEpisode(ctx context.Context, id string) error
	IterEpisodes(ctx context.Context, groupID string, lastN int) ([]domain.Episode, error)
	PutNode(ctx context.Context, n domain.Node) (storage.PutNodeResult, error)
	PutEdge(ctx context.Context, e domain.Edge) (string, error)
	GetEdge(ctx context.Context, id string) (domain.Edge, error)
	DeleteEdge(ctx context.Context, id string) error
	EdgesForGroup(ctx context.Context, groupID string, limit int) ([]domain.Edge, error)
	ClearGroup(ctx context.Context, groupID string, confirm bool) (int64, error)
}

// Searcher is the HybridSearch surface used by search_memory.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, groupFilter string) (hybrid.Response, error)
}

// ContextWindow optionally budgets assembled response text through
// token-aware chunk selection (§4.10). A nil Deps.Context disables shaping
// and handlers return every formatted line unchanged.
type ContextWindow interface {
	Select(chunks []contextwindow.Chunk, now time.Time) []contextwindow.Chunk
}

// GraphEngine is the GraphQueries surface used by query_graph (§4.6). A nil
// Deps.Graph disables the tool's registration.
type GraphEngine interface {
	Neighbors(ctx context.Context, groupID, start string, depth int) ([]string, error)
	ShortestPath(ctx context.Context, groupID, a, b string) ([]string, float64, error)
	ConnectedComponents(ctx context.Context, groupID string) ([][]string, error)
	Centrality(ctx context.Context, groupID string) (graph.Centrality, error)
}

// Deps bundles every subsystem the tool dispatch table calls into.
type Deps struct {
	Memory  Memory
	Search  Searcher
	Extract func(groupID, name, body string, source domain.Source) ([]domain.Node, []domain.Edge)
	Context ContextWindow // optional
	Graph   GraphEngine   // optional
}

// DefaultExtract wires extraction.Extract as the default extraction
// function for Deps.Extract.
func DefaultExtract(groupID, name, body string, source domain.Source) ([]domain.Node, []domain.Edge) {
	return extraction.Extract(groupID, name, body, source)
}
