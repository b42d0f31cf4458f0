package graph

import "context"

// Centrality holds per-node centrality scores (§4.6).
type Centrality struct {
	Degree      map[string]float64
	Betweenness map[string]float64 // nil when the group exceeded BrandesNodeLimit
	Closeness   map[string]float64 // nil when the group exceeded BrandesNodeLimit
}

// Centrality computes degree centrality for every node in groupID, plus
// exact Brandes betweenness/closeness when the subgraph has at most
// BrandesNodeLimit nodes (§4.6). Larger groups get degree only — Brandes is
// O(VE) and not worth paying unbounded for exploratory queries.
func (e *Engine) Centrality(ctx context.Context, groupID string) (Centrality, error) {
	sg, err := e.Projection(ctx, groupID)
	if err != nil {
		return Centrality{}, err
	}

	degree := make(map[string]float64, len(sg.Nodes))
	for id := range sg.Nodes {
		degree[id] = float64(len(sg.Adjacent[id]))
	}

	if len(sg.Nodes) > BrandesNodeLimit {
		return Centrality{Degree: degree}, nil
	}

	betweenness, closeness := brandes(sg)
	return Centrality{Degree: degree, Betweenness: betweenness, Closeness: closeness}, nil
}

// brandes computes exact betweenness and closeness centrality via Brandes'
// algorithm (unweighted BFS from every node, O(V*E)).
func brandes(sg Subgraph) (betweenness, closeness map[string]float64) {
	betweenness = make(map[string]float64, len(sg.Nodes))
	closeness = make(map[string]float64, len(sg.Nodes))
	for id := range sg.Nodes {
		betweenness[id] = 0
	}

	for s := range sg.Nodes {
		stack := make([]string, 0, len(sg.Nodes))
		pred := make(map[string][]string, len(sg.Nodes))
		sigma := make(map[string]float64, len(sg.Nodes))
		dist := make(map[string]int, len(sg.Nodes))
		for id := range sg.Nodes {
			sigma[id] = 0
			dist[id] = -1
		}
		sigma[s] = 1
		dist[s] = 0

		queue := []string{s}
		var reachableDist int
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			reachableDist += dist[v]
			for _, edge := range sg.Adjacent[v] {
				w := otherEnd(edge, v)
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		if reachableDist > 0 {
			closeness[s] = float64(len(stack)-1) / float64(reachableDist)
		}

		delta := make(map[string]float64, len(sg.Nodes))
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range pred[w] {
				if sigma[w] != 0 {
					delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
				}
			}
			if w != s {
				betweenness[w] += delta[w]
			}
		}
	}

	// Undirected graph: every pair counted from both endpoints.
	for id := range betweenness {
		betweenness[id] /= 2
	}
	return betweenness, closeness
}
