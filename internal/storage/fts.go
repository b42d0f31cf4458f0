package storage

import (
	"context"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// FTSHit is one row of a full-text match, ranked by FTS5's bm25() function
// with per-column weights supplied by the caller (§4.3 field boosts).
type FTSHit struct {
	Kind    string // "node" or "episode"
	RefID   string
	GroupID string
	Score   float64 // bm25 is a cost: lower is better
}

// FTSSearch runs matchQuery against fts_index, scoring with bm25 weighted by
// weights (one entry per indexed column: name, node_type, summary, content,
// metadata — matching the FTS5 table declaration order in schema.go; the
// three leading UNINDEXED columns get weight 0).
// groupFilter restricts to one group_id; empty means all groups.
func (s *Store) FTSSearch(ctx context.Context, matchQuery string, weights [5]float64, limit int, groupFilter string) ([]FTSHit, error) {
	l, err := s.pool.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	if limit <= 0 {
		limit = 10
	}

	query := `SELECT kind, ref_id, group_id, bm25(fts_index, 0, 0, 0, ?, ?, ?, ?, ?) AS score
		FROM fts_index WHERE fts_index MATCH ?`
	args := []any{weights[0], weights[1], weights[2], weights[3], weights[4], matchQuery}
	if groupFilter != "" {
		query += ` AND group_id = ?`
		args = append(args, groupFilter)
	}
	query += ` ORDER BY score LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewError("storage.FTSSearch", domain.ErrStorage, err.Error())
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.Kind, &h.RefID, &h.GroupID, &h.Score); err != nil {
			continue
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// UpdatedAtOf returns the updated_at (nodes) or created_at (episodes)
// timestamp for a kind/ref_id pair, used by text search to break bm25 ties
// by recency (§4.3).
func (s *Store) UpdatedAtOf(ctx context.Context, kind, refID string) (string, error) {
	l, err := s.pool.acquireRead(ctx)
	if err != nil {
		return "", err
	}
	defer l.Release()

	var ts string
	var q string
	if kind == "episode" {
		q = `SELECT created_at FROM episodes WHERE id = ?`
	} else {
		q = `SELECT updated_at FROM nodes WHERE id = ?`
	}
	if err := s.db.QueryRowContext(ctx, q, refID).Scan(&ts); err != nil {
		return "", domain.NewError("storage.UpdatedAtOf", domain.ErrStorage, err.Error())
	}
	return ts, nil
}
