package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
)

// Hot read paths against the store (entity lookups, ledger scans, conflict
// listings) reuse prepared statements. The cache is keyed per project so
// multi-project mode never hands a statement prepared on one database to
// another.

func (dm *DBManager) getPreparedStmt(ctx context.Context, projectName string, db *sql.DB, sqlText string) (*sql.Stmt, error) {
	dm.stmtMu.RLock()
	if projCache, ok := dm.stmtCache[projectName]; ok {
		if stmt, ok2 := projCache[sqlText]; ok2 {
			dm.stmtMu.RUnlock()
			metrics.Default().IncStmtCacheHit("prepare")
			return stmt, nil
		}
	}
	dm.stmtMu.RUnlock()
	metrics.Default().IncStmtCacheMiss("prepare")

	stmt, err := db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	dm.stmtMu.Lock()
	if _, ok := dm.stmtCache[projectName]; !ok {
		dm.stmtCache[projectName] = make(map[string]*sql.Stmt)
	}
	dm.stmtCache[projectName][sqlText] = stmt
	dm.stmtMu.Unlock()
	return stmt, nil
}

// closeAllStmts releases every cached statement. Runs on manager shutdown,
// before the project handles themselves close.
func (dm *DBManager) closeAllStmts() {
	dm.stmtMu.Lock()
	defer dm.stmtMu.Unlock()
	for _, projCache := range dm.stmtCache {
		for _, stmt := range projCache {
			_ = stmt.Close()
		}
	}
	dm.stmtCache = make(map[string]map[string]*sql.Stmt)
}
