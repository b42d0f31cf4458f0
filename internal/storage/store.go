// Package storage is the durable, crash-safe, concurrent-reader store for
// episodes, nodes, edges, embeddings, and the FTS index (§4.2). It is the
// sole owner of all rows — every other component reads through Store's API.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Nonymaus/cursor-kg/internal/domain"
	"github.com/Nonymaus/cursor-kg/pkg/idgen"
)

// Config controls the physical layout and pool sizing (§4.2, §6 database).
type Config struct {
	Filename             string
	ConnectionPoolSize   int
	EnableWAL            bool
	CacheSizeKB          int
	SlowQueryThresholdMS int
	EmbeddingDimension   int
	MaxContentLength     int // 0 disables the check; mirrors security.max_content_length (§8)
}

// Store is the embedded relational+FTS store described by §4.2.
type Store struct {
	db               *sql.DB
	pool             *pool
	dimension        int
	maxContentLength int
	logger           *slog.Logger

	groups *groupEpochs
}

// Open creates (or opens) the database file at cfg.Filename, applies WAL
// pragmas, and runs schema migration.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Filename)
	if err != nil {
		return nil, domain.NewError("storage.Open", domain.ErrStorage, err.Error())
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	if cfg.EnableWAL {
		pragmas = append([]string{"PRAGMA journal_mode=WAL"}, pragmas...)
	}
	if cfg.CacheSizeKB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=-%d", cfg.CacheSizeKB))
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, domain.NewError("storage.Open", domain.ErrStorage, "pragma: "+err.Error())
		}
	}

	// WAL enforces a single writer at the engine level; the in-process pool
	// additionally bounds reader concurrency and serializes writer leases.
	db.SetMaxOpenConns(cfg.ConnectionPoolSize)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, domain.NewError("storage.Open", domain.ErrStorage, "migrate: "+err.Error())
	}

	slow := time.Duration(cfg.SlowQueryThresholdMS) * time.Millisecond
	if slow <= 0 {
		slow = 250 * time.Millisecond
	}

	return &Store{
		db:               db,
		pool:             newPool(cfg.ConnectionPoolSize, slow, logger),
		dimension:        cfg.EmbeddingDimension,
		maxContentLength: cfg.MaxContentLength,
		logger:           logger,
		groups:           newGroupEpochs(),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GroupEpoch returns the current invalidation epoch for group (§5, §4.5,
// §4.6). HybridSearch and GraphQueries use this to key their caches.
func (s *Store) GroupEpoch(group string) uint64 {
	return s.groups.get(group)
}

func (s *Store) bumpEpoch(group string) {
	s.groups.bump(group)
}

// --- Episodes ---

// PutEpisode inserts a new episode and returns its id (§4.2).
func (s *Store) PutEpisode(ctx context.Context, ep domain.Episode) (string, error) {
	l, err := s.pool.acquireWrite(ctx)
	if err != nil {
		return "", err
	}
	defer l.Release()

	if s.maxContentLength > 0 && len(ep.Content) > s.maxContentLength {
		return "", domain.NewError("storage.PutEpisode", domain.ErrSizeLimit,
			fmt.Sprintf("content exceeds max_content_length (%d bytes)", s.maxContentLength))
	}
	if ep.GroupID == "" {
		ep.GroupID = domain.DefaultGroupID
	}
	if ep.ID == "" {
		ep.ID = idgen.New()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO episodes (id, group_id, name, content, source, source_description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.GroupID, ep.Name, ep.Content, string(ep.Source), ep.SourceDescription,
		ep.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", domain.NewError("storage.PutEpisode", domain.ErrStorage, err.Error())
	}
	s.bumpEpoch(ep.GroupID)
	return ep.ID, nil
}

// GetEpisode fetches an episode by id.
func (s *Store) GetEpisode(ctx context.Context, id string) (domain.Episode, error) {
	l, err := s.pool.acquireRead(ctx)
	if err != nil {
		return domain.Episode{}, err
	}
	defer l.Release()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, name, content, source, source_description, created_at
		 FROM episodes WHERE id = ?`, id)
	return scanEpisode(row)
}

// DeleteEpisode removes an episode. Nodes/edges derived from it are left
// untouched (§3: "episodes and their extractions are loosely coupled").
func (s *Store) DeleteEpisode(ctx context.Context, id string) error {
	l, err := s.pool.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer l.Release()

	var groupID string
	if err := s.db.QueryRowContext(ctx, `SELECT group_id FROM episodes WHERE id = ?`, id).Scan(&groupID); err != nil {
		if err == sql.ErrNoRows {
			return domain.NewError("storage.DeleteEpisode", domain.ErrNotFound, id)
		}
		return domain.NewError("storage.DeleteEpisode", domain.ErrStorage, err.Error())
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id); err != nil {
		return domain.NewError("storage.DeleteEpisode", domain.ErrStorage, err.Error())
	}
	s.bumpEpoch(groupID)
	return nil
}

// IterEpisodes returns the most recent lastN episodes for group, newest first.
func (s *Store) IterEpisodes(ctx context.Context, groupID string, lastN int) ([]domain.Episode, error) {
	l, err := s.pool.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	if lastN <= 0 {
		lastN = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, name, content, source, source_description, created_at
		 FROM episodes WHERE group_id = ? ORDER BY created_at DESC LIMIT ?`, groupID, lastN)
	if err != nil {
		return nil, domain.NewError("storage.IterEpisodes", domain.ErrStorage, err.Error())
	}
	defer rows.Close()

	var out []domain.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			continue
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEpisode(row scannable) (domain.Episode, error) {
	var (
		ep        domain.Episode
		source    string
		createdAt string
	)
	if err := row.Scan(&ep.ID, &ep.GroupID, &ep.Name, &ep.Content, &source, &ep.SourceDescription, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return ep, domain.NewError("storage.GetEpisode", domain.ErrNotFound, "")
		}
		return ep, domain.NewError("storage.scanEpisode", domain.ErrStorage, err.Error())
	}
	ep.Source = domain.Source(source)
	ep.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return ep, nil
}

// --- Nodes ---

// PutNodeResult reports whether PutNode inserted a new row or upserted an
// existing one (§4.2 put_node).
type PutNodeResult struct {
	ID     string
	WasNew bool
}

// PutNode upserts by the (group_id, name, node_type) unique key (§3).
// A second write with the same triple updates the existing row, refreshing
// updated_at and the embedding.
func (s *Store) PutNode(ctx context.Context, n domain.Node) (PutNodeResult, error) {
	l, err := s.pool.acquireWrite(ctx)
	if err != nil {
		return PutNodeResult{}, err
	}
	defer l.Release()

	if n.GroupID == "" {
		n.GroupID = domain.DefaultGroupID
	}
	if len(n.Summary) > domain.MaxSummaryBytes {
		return PutNodeResult{}, domain.NewError("storage.PutNode", domain.ErrSizeLimit, "summary exceeds 4KiB")
	}
	if n.Embedding != nil && !domain.IsZeroVector(n.Embedding) && len(n.Embedding) != s.dimension {
		return PutNodeResult{}, domain.NewError("storage.PutNode", domain.ErrInvalidParameters, "embedding dimension mismatch")
	}

	metaJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return PutNodeResult{}, domain.NewError("storage.PutNode", domain.ErrInvalidParameters, err.Error())
	}

	var existingID string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM nodes WHERE group_id = ? AND name = ? AND node_type = ?`,
		n.GroupID, n.Name, n.NodeType).Scan(&existingID)

	now := time.Now().UTC()

	switch {
	case err == sql.ErrNoRows:
		if n.ID == "" {
			n.ID = idgen.New()
		}
		n.CreatedAt, n.UpdatedAt = now, now
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO nodes (id, group_id, name, node_type, summary, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.GroupID, n.Name, n.NodeType, n.Summary, string(metaJSON),
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		if execErr != nil {
			return PutNodeResult{}, domain.NewError("storage.PutNode", domain.ErrStorage, execErr.Error())
		}
		if err := s.putEmbedding(ctx, n.ID, n.Embedding); err != nil {
			return PutNodeResult{}, err
		}
		s.bumpEpoch(n.GroupID)
		return PutNodeResult{ID: n.ID, WasNew: true}, nil

	case err != nil:
		return PutNodeResult{}, domain.NewError("storage.PutNode", domain.ErrStorage, err.Error())

	default:
		n.ID = existingID
		_, execErr := s.db.ExecContext(ctx,
			`UPDATE nodes SET summary = ?, metadata = ?, updated_at = ? WHERE id = ?`,
			n.Summary, string(metaJSON), now.Format(time.RFC3339Nano), n.ID)
		if execErr != nil {
			return PutNodeResult{}, domain.NewError("storage.PutNode", domain.ErrStorage, execErr.Error())
		}
		if err := s.putEmbedding(ctx, n.ID, n.Embedding); err != nil {
			return PutNodeResult{}, err
		}
		s.bumpEpoch(n.GroupID)
		return PutNodeResult{ID: n.ID, WasNew: false}, nil
	}
}

func (s *Store) putEmbedding(ctx context.Context, nodeID string, vec []float32) error {
	if vec == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (node_id, dimension, version, vector) VALUES (?, ?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET dimension = excluded.dimension, version = excluded.version, vector = excluded.vector`,
		nodeID, len(vec), "v1", float32ToBytes(vec))
	if err != nil {
		return domain.NewError("storage.putEmbedding", domain.ErrStorage, err.Error())
	}
	return nil
}

// GetNode fetches a node (with embedding) by id.
func (s *Store) GetNode(ctx context.Context, id string) (domain.Node, error) {
	l, err := s.pool.acquireRead(ctx)
	if err != nil {
		return domain.Node{}, err
	}
	defer l.Release()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, name, node_type, summary, metadata, created_at, updated_at FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err != nil {
		return n, err
	}
	n.Embedding = s.loadEmbedding(ctx, id)
	return n, nil
}

func (s *Store) loadEmbedding(ctx context.Context, nodeID string) []float32 {
	var blob []byte
	if err := s.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE node_id = ?`, nodeID).Scan(&blob); err != nil {
		return nil
	}
	return bytesToFloat32(blob)
}

func scanNode(row scannable) (domain.Node, error) {
	var (
		n             domain.Node
		metaJSON      string
		createdAt     string
		updatedAt     string
	)
	if err := row.Scan(&n.ID, &n.GroupID, &n.Name, &n.NodeType, &n.Summary, &metaJSON, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return n, domain.NewError("storage.GetNode", domain.ErrNotFound, "")
		}
		return n, domain.NewError("storage.scanNode", domain.ErrStorage, err.Error())
	}
	_ = json.Unmarshal([]byte(metaJSON), &n.Metadata)
	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return n, nil
}

// --- Edges ---

// PutEdge creates a new edge; both endpoints must already exist in the same
// group_id (§3, §4.2).
func (s *Store) PutEdge(ctx context.Context, e domain.Edge) (string, error) {
	l, err := s.pool.acquireWrite(ctx)
	if err != nil {
		return "", err
	}
	defer l.Release()

	src, err := s.nodeGroup(ctx, e.SourceNodeID)
	if err != nil {
		return "", domain.NewError("storage.PutEdge", domain.ErrNotFound, "source_node_id")
	}
	dst, err := s.nodeGroup(ctx, e.TargetNodeID)
	if err != nil {
		return "", domain.NewError("storage.PutEdge", domain.ErrNotFound, "target_node_id")
	}
	if src != dst || (e.GroupID != "" && e.GroupID != src) {
		return "", domain.NewError("storage.PutEdge", domain.ErrInvalidParameters, "endpoints span different groups")
	}
	e.GroupID = src

	if e.ID == "" {
		e.ID = idgen.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	metaJSON, _ := json.Marshal(e.Metadata)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO edges (id, group_id, source_node_id, target_node_id, relation_type, summary, weight, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.GroupID, e.SourceNodeID, e.TargetNodeID, e.RelationType, e.Summary, e.Weight, string(metaJSON),
		e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", domain.NewError("storage.PutEdge", domain.ErrStorage, err.Error())
	}
	s.bumpEpoch(e.GroupID)
	return e.ID, nil
}

func (s *Store) nodeGroup(ctx context.Context, nodeID string) (string, error) {
	var group string
	err := s.db.QueryRowContext(ctx, `SELECT group_id FROM nodes WHERE id = ?`, nodeID).Scan(&group)
	return group, err
}

// GetEdge fetches an edge by id.
func (s *Store) GetEdge(ctx context.Context, id string) (domain.Edge, error) {
	l, err := s.pool.acquireRead(ctx)
	if err != nil {
		return domain.Edge{}, err
	}
	defer l.Release()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, source_node_id, target_node_id, relation_type, summary, weight, metadata, created_at
		 FROM edges WHERE id = ?`, id)
	return scanEdge(row)
}

// DeleteEdge removes an edge by id.
func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	l, err := s.pool.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer l.Release()

	var groupID string
	if err := s.db.QueryRowContext(ctx, `SELECT group_id FROM edges WHERE id = ?`, id).Scan(&groupID); err != nil {
		if err == sql.ErrNoRows {
			return domain.NewError("storage.DeleteEdge", domain.ErrNotFound, id)
		}
		return domain.NewError("storage.DeleteEdge", domain.ErrStorage, err.Error())
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id); err != nil {
		return domain.NewError("storage.DeleteEdge", domain.ErrStorage, err.Error())
	}
	s.bumpEpoch(groupID)
	return nil
}

func scanEdge(row scannable) (domain.Edge, error) {
	var (
		e         domain.Edge
		metaJSON  string
		createdAt string
	)
	if err := row.Scan(&e.ID, &e.GroupID, &e.SourceNodeID, &e.TargetNodeID, &e.RelationType, &e.Summary, &e.Weight, &metaJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return e, domain.NewError("storage.GetEdge", domain.ErrNotFound, "")
		}
		return e, domain.NewError("storage.scanEdge", domain.ErrStorage, err.Error())
	}
	_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

// EdgesForGroup returns up to limit edges in group (10000 when limit <= 0),
// used by GraphQueries to project a bounded subgraph (§4.6).
func (s *Store) EdgesForGroup(ctx context.Context, groupID string, limit int) ([]domain.Edge, error) {
	l, err := s.pool.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, source_node_id, target_node_id, relation_type, summary, weight, metadata, created_at
		 FROM edges WHERE group_id = ? LIMIT ?`, groupID, limit)
	if err != nil {
		return nil, domain.NewError("storage.EdgesForGroup", domain.ErrStorage, err.Error())
	}
	defer rows.Close()

	var out []domain.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// NodesForGroup returns up to limit nodes in group (10000 when limit <= 0),
// with all node columns, used for GraphQueries subgraph projection bound by
// N_max (§4.6).
func (s *Store) NodesForGroup(ctx context.Context, groupID string, limit int) ([]domain.Node, error) {
	l, err := s.pool.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, name, node_type, summary, metadata, created_at, updated_at
		 FROM nodes WHERE group_id = ? LIMIT ?`, groupID, limit)
	if err != nil {
		return nil, domain.NewError("storage.NodesForGroup", domain.ErrStorage, err.Error())
	}
	defer rows.Close()

	var out []domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ClearGroup deletes all episodes/nodes/edges/embeddings for groupID. confirm
// must be true (§4.2 clear_group).
func (s *Store) ClearGroup(ctx context.Context, groupID string, confirm bool) (int64, error) {
	if !confirm {
		return 0, domain.NewError("storage.ClearGroup", domain.ErrInvalidParameters, "confirm must be true")
	}

	l, err := s.pool.acquireWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer l.Release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.NewError("storage.ClearGroup", domain.ErrStorage, err.Error())
	}
	defer tx.Rollback()

	var total int64
	for _, stmt := range []string{
		`DELETE FROM embeddings WHERE node_id IN (SELECT id FROM nodes WHERE group_id = ?)`,
		`DELETE FROM edges WHERE group_id = ?`,
		`DELETE FROM nodes WHERE group_id = ?`,
		`DELETE FROM episodes WHERE group_id = ?`,
	} {
		res, err := tx.ExecContext(ctx, stmt, groupID)
		if err != nil {
			return 0, domain.NewError("storage.ClearGroup", domain.ErrStorage, err.Error())
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, domain.NewError("storage.ClearGroup", domain.ErrStorage, err.Error())
	}
	s.bumpEpoch(groupID)
	return total, nil
}
