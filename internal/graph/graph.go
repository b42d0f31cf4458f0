// Package graph implements GraphQueries (§4.6): bounded subgraph
// projection, neighbor traversal, shortest path, connected components, and
// centrality, all scoped to a single group_id at a time.
package graph

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// MaxNodes bounds subgraph projection size (§4.6 N_max).
const MaxNodes = 10000

// BrandesNodeLimit is the largest subgraph Centrality computes exact
// betweenness/closeness for; larger groups fall back to degree centrality
// (§4.6 "Brandes only if <= 2000 nodes").
const BrandesNodeLimit = 2000

const cacheTTL = 5 * time.Minute

// Store is the subset of *storage.Store GraphQueries depends on.
type Store interface {
	NodesForGroup(ctx context.Context, groupID string, limit int) ([]domain.Node, error)
	EdgesForGroup(ctx context.Context, groupID string, limit int) ([]domain.Edge, error)
	GroupEpoch(group string) uint64
}

// Subgraph is a bounded, in-memory projection of one group's nodes/edges.
type Subgraph struct {
	Nodes    map[string]domain.Node
	Adjacent map[string][]domain.Edge // source_node_id -> outgoing edges (both directions included)
}

// Engine runs graph algorithms over Subgraph projections pulled from Store,
// caching each group's projection for cacheTTL or until its write epoch
// changes (§4.6).
type Engine struct {
	raw Store

	mu    sync.Mutex
	cache map[string]cachedSubgraph
}

type cachedSubgraph struct {
	sg       Subgraph
	epoch    uint64
	storedAt time.Time
}

// New builds a GraphQueries Engine.
func New(store Store) *Engine {
	return &Engine{raw: store, cache: make(map[string]cachedSubgraph)}
}

// Projection returns group's bounded subgraph, from cache when the cached
// epoch still matches and the entry has not expired.
func (e *Engine) Projection(ctx context.Context, groupID string) (Subgraph, error) {
	epoch := e.raw.GroupEpoch(groupID)

	e.mu.Lock()
	cached, ok := e.cache[groupID]
	e.mu.Unlock()
	if ok && cached.epoch == epoch && time.Since(cached.storedAt) < cacheTTL {
		return cached.sg, nil
	}

	nodes, err := e.raw.NodesForGroup(ctx, groupID, MaxNodes)
	if err != nil {
		return Subgraph{}, domain.WrapOp("graph.Projection", err)
	}
	edges, err := e.raw.EdgesForGroup(ctx, groupID, MaxNodes*4)
	if err != nil {
		return Subgraph{}, domain.WrapOp("graph.Projection", err)
	}

	sg := Subgraph{Nodes: make(map[string]domain.Node, len(nodes)), Adjacent: make(map[string][]domain.Edge)}
	for _, n := range nodes {
		sg.Nodes[n.ID] = n
	}
	for _, edge := range edges {
		sg.Adjacent[edge.SourceNodeID] = append(sg.Adjacent[edge.SourceNodeID], edge)
		sg.Adjacent[edge.TargetNodeID] = append(sg.Adjacent[edge.TargetNodeID], edge)
	}

	e.mu.Lock()
	e.cache[groupID] = cachedSubgraph{sg: sg, epoch: epoch, storedAt: time.Now()}
	e.mu.Unlock()
	return sg, nil
}

// edgeWeight converts an edge's similarity-style weight (higher = closer)
// into a traversal cost (lower = closer), per §4.6.
func edgeWeight(e domain.Edge) float64 {
	return 1 - e.Weight
}

// Neighbors returns every node reachable from start within depth hops
// (BFS), depth capped at 3 (§4.6).
func (e *Engine) Neighbors(ctx context.Context, groupID, start string, depth int) ([]string, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > 3 {
		depth = 3
	}
	sg, err := e.Projection(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, ok := sg.Nodes[start]; !ok {
		return nil, domain.NewError("graph.Neighbors", domain.ErrNotFound, start)
	}

	visited := map[string]bool{start: true}
	frontier := []string{start}
	var out []string

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, edge := range sg.Adjacent[id] {
				other := otherEnd(edge, id)
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
					out = append(out, other)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func otherEnd(e domain.Edge, from string) string {
	if e.SourceNodeID == from {
		return e.TargetNodeID
	}
	return e.SourceNodeID
}

// ShortestPath finds the lowest-cost path from a to b using Dijkstra over
// edge weights defined by edgeWeight (§4.6).
func (e *Engine) ShortestPath(ctx context.Context, groupID, a, b string) ([]string, float64, error) {
	sg, err := e.Projection(ctx, groupID)
	if err != nil {
		return nil, 0, err
	}
	if _, ok := sg.Nodes[a]; !ok {
		return nil, 0, domain.NewError("graph.ShortestPath", domain.ErrNotFound, a)
	}
	if _, ok := sg.Nodes[b]; !ok {
		return nil, 0, domain.NewError("graph.ShortestPath", domain.ErrNotFound, b)
	}

	dist := map[string]float64{a: 0}
	prev := map[string]string{}
	visited := map[string]bool{}

	pq := &priorityQueue{{id: a, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		curr := heap.Pop(pq).(pqItem)
		if visited[curr.id] {
			continue
		}
		visited[curr.id] = true
		if curr.id == b {
			break
		}
		for _, edge := range sg.Adjacent[curr.id] {
			other := otherEnd(edge, curr.id)
			if visited[other] {
				continue
			}
			nd := dist[curr.id] + edgeWeight(edge)
			if existing, ok := dist[other]; !ok || nd < existing {
				dist[other] = nd
				prev[other] = curr.id
				heap.Push(pq, pqItem{id: other, dist: nd})
			}
		}
	}

	if _, ok := dist[b]; !ok {
		return nil, 0, domain.NewError("graph.ShortestPath", domain.ErrNotFound, "no path")
	}

	path := []string{b}
	for path[len(path)-1] != a {
		path = append(path, prev[path[len(path)-1]])
	}
	reverse(path)
	return path, dist[b], nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

type pqItem struct {
	id   string
	dist float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x any)         { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// ConnectedComponents partitions group's nodes into connected components
// via union-find (§4.6).
func (e *Engine) ConnectedComponents(ctx context.Context, groupID string) ([][]string, error) {
	sg, err := e.Projection(ctx, groupID)
	if err != nil {
		return nil, err
	}

	uf := newUnionFind()
	for id := range sg.Nodes {
		uf.add(id)
	}
	for _, edges := range sg.Adjacent {
		for _, edge := range edges {
			uf.union(edge.SourceNodeID, edge.TargetNodeID)
		}
	}

	groups := make(map[string][]string)
	for id := range sg.Nodes {
		root := uf.find(id)
		groups[root] = append(groups[root], id)
	}

	out := make([][]string, 0, len(groups))
	for _, members := range groups {
		out = append(out, members)
	}
	return out, nil
}

type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string), rank: make(map[string]int)}
}

func (u *unionFind) add(id string) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
	}
}

func (u *unionFind) find(id string) string {
	if u.parent[id] != id {
		u.parent[id] = u.find(u.parent[id])
	}
	return u.parent[id]
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}
