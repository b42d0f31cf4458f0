package mcp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nonymaus/cursor-kg/internal/contextwindow"
	"github.com/Nonymaus/cursor-kg/internal/domain"
	"github.com/Nonymaus/cursor-kg/internal/search/hybrid"
	"github.com/Nonymaus/cursor-kg/internal/storage"
)

type fakeMemory struct {
	episodes map[string]domain.Episode
	edges    map[string]domain.Edge
	nodes    map[string]storage.PutNodeResult
	cleared  string
	putErr   error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		episodes: make(map[string]domain.Episode),
		edges:    make(map[string]domain.Edge),
		nodes:    make(map[string]storage.PutNodeResult),
	}
}

func (f *fakeMemory) PutEpisode(_ context.Context, ep domain.Episode) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	ep.ID = "ep-1"
	f.episodes[ep.ID] = ep
	return ep.ID, nil
}

func (f *fakeMemory) GetEpisode(_ context.Context, id string) (domain.Episode, error) {
	ep, ok := f.episodes[id]
	if !ok {
		return domain.Episode{}, domain.NewError("fakeMemory.GetEpisode", domain.ErrNotFound, "episode not found")
	}
	return ep, nil
}

func (f *fakeMemory) DeleteEpisode(_ context.Context, id string) error {
	if _, ok := f.episodes[id]; !ok {
		return domain.NewError("fakeMemory.DeleteEpisode", domain.ErrNotFound, "episode not found")
	}
	delete(f.episodes, id)
	return nil
}

func (f *fakeMemory) IterEpisodes(_ context.Context, groupID string, lastN int) ([]domain.Episode, error) {
	var out []domain.Episode
	for _, ep := range f.episodes {
		if ep.GroupID == groupID {
			out = append(out, ep)
		}
	}
	if lastN < len(out) {
		out = out[:lastN]
	}
	return out, nil
}

func (f *fakeMemory) PutNode(_ context.Context, n domain.Node) (storage.PutNodeResult, error) {
	res, existed := f.nodes[n.Name]
	if existed {
		return res, nil
	}
	res = storage.PutNodeResult{ID: "node-" + n.Name, WasNew: true}
	f.nodes[n.Name] = res
	return res, nil
}

func (f *fakeMemory) PutEdge(_ context.Context, e domain.Edge) (string, error) {
	e.ID = "edge-1"
	f.edges[e.ID] = e
	return e.ID, nil
}

func (f *fakeMemory) GetEdge(_ context.Context, id string) (domain.Edge, error) {
	e, ok := f.edges[id]
	if !ok {
		return domain.Edge{}, domain.NewError("fakeMemory.GetEdge", domain.ErrNotFound, "edge not found")
	}
	return e, nil
}

func (f *fakeMemory) DeleteEdge(_ context.Context, id string) error {
	if _, ok := f.edges[id]; !ok {
		return domain.NewError("fakeMemory.DeleteEdge", domain.ErrNotFound, "edge not found")
	}
	delete(f.edges, id)
	return nil
}

func (f *fakeMemory) EdgesForGroup(_ context.Context, groupID string, limit int) ([]domain.Edge, error) {
	var out []domain.Edge
	for _, e := range f.edges {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMemory) ClearGroup(_ context.Context, groupID string, confirm bool) (int64, error) {
	if !confirm {
		return 0, domain.NewError("fakeMemory.ClearGroup", domain.ErrInvalidParameters, "confirm required")
	}
	f.cleared = groupID
	return 3, nil
}

type fakeSearcher struct {
	resp hybrid.Response
	err  error
}

func (f fakeSearcher) Search(_ context.Context, _ string, _ int, _ string) (hybrid.Response, error) {
	return f.resp, f.err
}

func newTestServer(mem *fakeMemory, search Searcher) *Server {
	deps := Deps{
		Memory:  mem,
		Search:  search,
		Extract: DefaultExtract,
	}
	return New(deps, Config{Transport: "stdio"}, NewClientLimiter(0, 0), slog.Default())
}

func callReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func TestHandleAddMemoryStoresEpisodeAndExtracts(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})

	res, err := s.handleAddMemory(context.Background(), callReq(map[string]any{
		"name":         "note",
		"episode_body": "Alice works with Bob.",
	}))

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.IsError)
	assert.Len(t, mem.episodes, 1)
}

func TestHandleAddMemoryRequiresEpisodeBody(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})

	res, err := s.handleAddMemory(context.Background(), callReq(map[string]any{"name": "note"}))

	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleAddMemoryEnforcesMaxContentLength(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})
	s.cfg.Limits.MaxContentLength = 8

	res, err := s.handleAddMemory(context.Background(), callReq(map[string]any{
		"name": "note", "episode_body": "this body is way too long",
	}))

	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "SIZE_LIMIT")
	assert.Empty(t, mem.episodes)
}

func TestHandleSearchMemoryEnforcesMaxQueryLength(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})
	s.cfg.Limits.MaxQueryLength = 4

	res, err := s.handleSearchMemory(context.Background(), callReq(map[string]any{"query": "too long query"}))

	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "SIZE_LIMIT")
}

func TestHandleSearchMemoryFormatsResults(t *testing.T) {
	mem := newFakeMemory()
	search := fakeSearcher{resp: hybrid.Response{Results: []hybrid.Result{
		{Kind: "node", RefID: "node-1", GroupID: "default", Score: 0.9},
	}}}
	s := newTestServer(mem, search)

	res, err := s.handleSearchMemory(context.Background(), callReq(map[string]any{"query": "alice"}))

	require.NoError(t, err)
	assert.False(t, res.IsError)
}

func TestHandleSearchMemoryNodesOperationFiltersToNodes(t *testing.T) {
	mem := newFakeMemory()
	search := fakeSearcher{resp: hybrid.Response{Results: []hybrid.Result{
		{Kind: "node", RefID: "node-1", GroupID: "default", Score: 0.9},
		{Kind: "episode", RefID: "ep-1", GroupID: "default", Score: 0.8},
	}}}
	s := newTestServer(mem, search)

	res, err := s.handleSearchMemory(context.Background(), callReq(map[string]any{
		"query": "alice", "operation": "nodes",
	}))

	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "node-1")
	assert.NotContains(t, text, "ep-1")
}

func TestHandleSearchMemoryFactsOperationMatchesRelationType(t *testing.T) {
	mem := newFakeMemory()
	mem.edges["edge-1"] = domain.Edge{ID: "edge-1", GroupID: "g1", SourceNodeID: "a", TargetNodeID: "b", RelationType: "works_with"}
	mem.edges["edge-2"] = domain.Edge{ID: "edge-2", GroupID: "g1", SourceNodeID: "a", TargetNodeID: "c", RelationType: "reports_to"}
	s := newTestServer(mem, fakeSearcher{})

	res, err := s.handleSearchMemory(context.Background(), callReq(map[string]any{
		"query": "works", "operation": "facts", "group_filter": "g1",
	}))

	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "works_with")
	assert.NotContains(t, text, "reports_to")
}

type fakeContextWindow struct {
	keepFirst int
}

func (f fakeContextWindow) Select(chunks []contextwindow.Chunk, _ time.Time) []contextwindow.Chunk {
	if f.keepFirst <= 0 || f.keepFirst > len(chunks) {
		return chunks
	}
	return chunks[:f.keepFirst]
}

func TestHandleSearchMemoryShapesResponseThroughContextWindow(t *testing.T) {
	mem := newFakeMemory()
	search := fakeSearcher{resp: hybrid.Response{Results: []hybrid.Result{
		{Kind: "node", RefID: "node-1", GroupID: "default", Score: 0.9},
		{Kind: "node", RefID: "node-2", GroupID: "default", Score: 0.8},
	}}}
	s := newTestServer(mem, search)
	s.deps.Context = fakeContextWindow{keepFirst: 1}

	res, err := s.handleSearchMemory(context.Background(), callReq(map[string]any{"query": "alice"}))

	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "node-1")
	assert.NotContains(t, text, "node-2")
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestHandleSearchMemoryPropagatesError(t *testing.T) {
	mem := newFakeMemory()
	search := fakeSearcher{err: errors.New("boom")}
	s := newTestServer(mem, search)

	res, err := s.handleSearchMemory(context.Background(), callReq(map[string]any{"query": "alice"}))

	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleGetEpisodesListsByGroup(t *testing.T) {
	mem := newFakeMemory()
	mem.episodes["ep-1"] = domain.Episode{ID: "ep-1", GroupID: "g1", Name: "n", CreatedAt: time.Now()}
	s := newTestServer(mem, fakeSearcher{})

	res, err := s.handleGetEpisodes(context.Background(), callReq(map[string]any{"group_id": "g1"}))

	require.NoError(t, err)
	assert.False(t, res.IsError)
}

func TestHandleGetEntityEdgeNotFound(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})

	res, err := s.handleGetEntityEdge(context.Background(), callReq(map[string]any{"edge_id": "missing"}))

	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleDeleteEpisodeDeletes(t *testing.T) {
	mem := newFakeMemory()
	mem.episodes["ep-1"] = domain.Episode{ID: "ep-1"}
	s := newTestServer(mem, fakeSearcher{})

	res, err := s.handleDeleteEpisode(context.Background(), callReq(map[string]any{"episode_id": "ep-1"}))

	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.NotContains(t, mem.episodes, "ep-1")
}

func TestHandleClearGraphRequiresConfirm(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})

	res, err := s.handleClearGraph(context.Background(), callReq(map[string]any{
		"group_id": "g1", "confirm": false,
	}))

	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, mem.cleared)
}

func TestHandleClearGraphDeletesOnConfirm(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})

	res, err := s.handleClearGraph(context.Background(), callReq(map[string]any{
		"group_id": "g1", "confirm": true,
	}))

	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "g1", mem.cleared)
}
