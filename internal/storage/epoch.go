package storage

import "sync"

// groupEpochs tracks a per-group invalidation counter (§4.5, §4.6) bumped on
// every write so HybridSearch and GraphQueries can key their caches without
// an explicit invalidation callback. The "" key counts writes to every
// group, so unfiltered (all-group) caches are invalidated too.
type groupEpochs struct {
	mu    sync.Mutex
	byKey map[string]uint64
}

func newGroupEpochs() *groupEpochs {
	return &groupEpochs{byKey: make(map[string]uint64)}
}

func (g *groupEpochs) get(group string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byKey[group]
}

func (g *groupEpochs) bump(group string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byKey[group]++
	if group != "" {
		g.byKey[""]++
	}
}
