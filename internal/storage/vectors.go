package storage

import (
	"context"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// EmbeddingRow is one stored node embedding, surfaced for linear-scan KNN in
// internal/search/vector (§4.4). The table is small enough in practice that
// a full scan per query beats maintaining a secondary ANN index (§9).
type EmbeddingRow struct {
	NodeID string
	Vector []float32
}

// AllEmbeddings returns every stored node embedding in groupFilter (all
// groups if empty).
func (s *Store) AllEmbeddings(ctx context.Context, groupFilter string) ([]EmbeddingRow, error) {
	l, err := s.pool.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	query := `SELECT e.node_id, e.vector FROM embeddings e JOIN nodes n ON n.id = e.node_id`
	var args []any
	if groupFilter != "" {
		query += ` WHERE n.group_id = ?`
		args = append(args, groupFilter)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewError("storage.AllEmbeddings", domain.ErrStorage, err.Error())
	}
	defer rows.Close()

	var out []EmbeddingRow
	for rows.Next() {
		var nodeID string
		var blob []byte
		if err := rows.Scan(&nodeID, &blob); err != nil {
			continue
		}
		out = append(out, EmbeddingRow{NodeID: nodeID, Vector: bytesToFloat32(blob)})
	}
	return out, rows.Err()
}
