package database

import "fmt"

// dynamicSchema returns schema DDL using the configured embedding dimension.
// Entities are never physically deleted on the common path; deletion is the
// tombstoned flag, which preserves the provenance ledger.
func dynamicSchema(embeddingDims int) []string {
	if embeddingDims <= 0 {
		embeddingDims = 4
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entities (
        id TEXT PRIMARY KEY,
        content TEXT NOT NULL DEFAULT '',
        entity_type TEXT NOT NULL,
        version INTEGER NOT NULL DEFAULT 1,
        metadata TEXT NOT NULL DEFAULT '{}',
        embedding F32_BLOB(%d),
        created_by TEXT NOT NULL DEFAULT '',
        tombstoned INTEGER NOT NULL DEFAULT 0,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    )`, embeddingDims),

		// Append-only ledger. seq is the per-store total order; per entity it
		// matches CAS acceptance order because appends commit inside the same
		// transaction as the mutation they record.
		`CREATE TABLE IF NOT EXISTS provenance (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        entity_id TEXT NOT NULL,
        source TEXT NOT NULL DEFAULT '',
        evidence TEXT NOT NULL DEFAULT '',
        actor_id TEXT NOT NULL DEFAULT '',
        entity_version INTEGER NOT NULL DEFAULT 0,
        changed_fields TEXT NOT NULL DEFAULT '[]',
        metadata TEXT NOT NULL DEFAULT '{}',
        created_at TEXT NOT NULL,
        FOREIGN KEY (entity_id) REFERENCES entities(id)
    )`,

		`CREATE TABLE IF NOT EXISTS conflicts (
        id TEXT PRIMARY KEY,
        entity_id TEXT NOT NULL,
        field TEXT NOT NULL,
        proposed_value TEXT NOT NULL DEFAULT 'null',
        status TEXT NOT NULL DEFAULT 'pending',
        resolution_note TEXT NOT NULL DEFAULT '',
        resolved_by TEXT NOT NULL DEFAULT '',
        created_at TEXT NOT NULL,
        resolved_at TEXT,
        FOREIGN KEY (entity_id) REFERENCES entities(id)
    )`,

		`CREATE TABLE IF NOT EXISTS relations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        source TEXT NOT NULL,
        target TEXT NOT NULL,
        relation_type TEXT NOT NULL,
        attributes TEXT NOT NULL DEFAULT '{}',
        created_at TEXT NOT NULL
    )`,

		`CREATE INDEX IF NOT EXISTS idx_entities_created_at ON entities(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_provenance_entity ON provenance(entity_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_provenance_entity_version ON provenance(entity_id, entity_version)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_entity ON conflicts(entity_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_src_tgt_type ON relations(source, target, relation_type)`,

		// Vector index for similarity search
		`CREATE INDEX IF NOT EXISTS idx_entities_embedding ON entities(libsql_vector_idx(embedding))`,
	}
}
