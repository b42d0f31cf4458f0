package storage

import "database/sql"

// migrate creates the schema described in §3/§4.2 if it does not already
// exist: episodes, nodes, edges, embeddings, and an FTS5 virtual table kept
// in sync by triggers. Schema changes here must remain additive (§1
// Non-goals: "Schema migrations across incompatible versions" is out of
// scope).
func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS episodes (
			id                  TEXT PRIMARY KEY,
			group_id            TEXT NOT NULL,
			name                TEXT NOT NULL,
			content             TEXT NOT NULL,
			source              TEXT NOT NULL,
			source_description  TEXT NOT NULL DEFAULT '',
			created_at          TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_group_created
			ON episodes(group_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS nodes (
			id          TEXT PRIMARY KEY,
			group_id    TEXT NOT NULL,
			name        TEXT NOT NULL,
			node_type   TEXT NOT NULL,
			summary     TEXT NOT NULL DEFAULT '',
			metadata    TEXT NOT NULL DEFAULT '{}',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			UNIQUE(group_id, name, node_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_group ON nodes(group_id)`,

		`CREATE TABLE IF NOT EXISTS edges (
			id               TEXT PRIMARY KEY,
			group_id         TEXT NOT NULL,
			source_node_id   TEXT NOT NULL REFERENCES nodes(id),
			target_node_id   TEXT NOT NULL REFERENCES nodes(id),
			relation_type    TEXT NOT NULL,
			summary          TEXT NOT NULL DEFAULT '',
			weight           REAL NOT NULL DEFAULT 0,
			metadata         TEXT NOT NULL DEFAULT '{}',
			created_at       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_group ON edges(group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_node_id)`,

		`CREATE TABLE IF NOT EXISTS embeddings (
			node_id     TEXT PRIMARY KEY REFERENCES nodes(id),
			dimension   INTEGER NOT NULL,
			version     TEXT NOT NULL,
			vector      BLOB NOT NULL
		)`,

		// FTS5 over node(name, node_type, summary, metadata) and episode(name, content).
		// kind+ref_id identify which row a given FTS row mirrors.
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_index USING fts5(
			kind UNINDEXED,
			ref_id UNINDEXED,
			group_id UNINDEXED,
			name,
			node_type,
			summary,
			content,
			metadata,
			tokenize = 'unicode61'
		)`,

		// --- node triggers ---
		`CREATE TRIGGER IF NOT EXISTS nodes_ai AFTER INSERT ON nodes BEGIN
			INSERT INTO fts_index(kind, ref_id, group_id, name, node_type, summary, content, metadata)
			VALUES ('node', new.id, new.group_id, new.name, new.node_type, new.summary, '', new.metadata);
		END`,
		`CREATE TRIGGER IF NOT EXISTS nodes_ad AFTER DELETE ON nodes BEGIN
			DELETE FROM fts_index WHERE kind = 'node' AND ref_id = old.id;
		END`,
		`CREATE TRIGGER IF NOT EXISTS nodes_au AFTER UPDATE ON nodes BEGIN
			DELETE FROM fts_index WHERE kind = 'node' AND ref_id = old.id;
			INSERT INTO fts_index(kind, ref_id, group_id, name, node_type, summary, content, metadata)
			VALUES ('node', new.id, new.group_id, new.name, new.node_type, new.summary, '', new.metadata);
		END`,

		// --- episode triggers ---
		`CREATE TRIGGER IF NOT EXISTS episodes_ai AFTER INSERT ON episodes BEGIN
			INSERT INTO fts_index(kind, ref_id, group_id, name, node_type, summary, content, metadata)
			VALUES ('episode', new.id, new.group_id, new.name, '', '', new.content, '');
		END`,
		`CREATE TRIGGER IF NOT EXISTS episodes_ad AFTER DELETE ON episodes BEGIN
			DELETE FROM fts_index WHERE kind = 'episode' AND ref_id = old.id;
		END`,
	}

	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
