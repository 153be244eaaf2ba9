package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"
)

// capFlags stores capability detection for a specific project/DB handle
type capFlags struct {
	checked    bool
	vectorTopK bool
	fts5       bool
}

// detectCapabilitiesForProject probes for ANN (vector_top_k) and FTS5 support
// and records the flags for this project handle.
func (dm *DBManager) detectCapabilitiesForProject(ctx context.Context, projectName string, db *sql.DB) {
	dm.capMu.RLock()
	caps, ok := dm.capsByProject[projectName]
	dm.capMu.RUnlock()
	if ok && caps.checked {
		return
	}

	// Skip ANN probe for in-memory test URLs to avoid driver quirks
	if strings.Contains(dm.config.URL, "mode=memory") {
		caps.vectorTopK = false
	} else {
		zero := dm.vectorZeroString()
		ctx2, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		rows, err := db.QueryContext(ctx2, "SELECT id FROM vector_top_k('idx_entities_embedding', vector32(?), 1) LIMIT 1", zero)
		if rows != nil {
			rows.Close()
		}
		cancel()
		caps.vectorTopK = err == nil
	}
	caps.checked = true

	// Detect FTS5 support by attempting to create a temporary virtual table
	ctx3, cancel3 := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel3()
	if _, err := db.ExecContext(ctx3, "CREATE VIRTUAL TABLE IF NOT EXISTS temp._fts5_probe USING fts5(x)"); err == nil {
		_, _ = db.ExecContext(ctx3, "DROP TABLE IF EXISTS temp._fts5_probe")
		caps.fts5 = true
		if err := dm.ensureFTSSchema(context.Background(), db); err != nil {
			dm.logger.Warn("fts schema setup failed, disabling fts", zap.String("project", projectName), zap.Error(err))
			caps.fts5 = false
		} else if _, verr := db.ExecContext(context.Background(), "SELECT 1 FROM fts_entities WHERE 1=0"); verr != nil {
			caps.fts5 = false
		}
	} else {
		caps.fts5 = false
	}

	dm.capMu.Lock()
	dm.capsByProject[projectName] = caps
	dm.capMu.Unlock()
}

// ensureFTSSchema creates the lexical index table. No triggers: the async
// indexer owns all writes to it, so an index failure can never roll back or
// block an entity mutation.
func (dm *DBManager) ensureFTSSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		"CREATE VIRTUAL TABLE IF NOT EXISTS fts_entities USING fts5(id UNINDEXED, entity_type, content)")
	return err
}

func (dm *DBManager) capsFor(projectName string) capFlags {
	dm.capMu.RLock()
	defer dm.capMu.RUnlock()
	return dm.capsByProject[projectName]
}
