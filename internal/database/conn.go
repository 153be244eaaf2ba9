package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
)

const defaultProject = "default"

// DBManager is the entity store: the only component that touches the backing
// database. It owns entities, the provenance ledger, conflict rows, and the
// relation table, one libSQL handle per project.
type DBManager struct {
	config *Config
	logger *zap.Logger

	dbs map[string]*sql.DB
	mu  sync.RWMutex

	stmtCache map[string]map[string]*sql.Stmt
	stmtMu    sync.RWMutex

	capsByProject map[string]capFlags
	capMu         sync.RWMutex
}

// NewDBManager creates a new store manager.
func NewDBManager(config *Config, logger *zap.Logger) (*DBManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.EmbeddingDims <= 0 || config.EmbeddingDims > 65536 {
		return nil, fmt.Errorf("EMBEDDING_DIMS must be between 1 and 65536 inclusive, got %d", config.EmbeddingDims)
	}
	manager := &DBManager{
		config:        config,
		logger:        logger,
		dbs:           make(map[string]*sql.DB),
		stmtCache:     make(map[string]map[string]*sql.Stmt),
		capsByProject: make(map[string]capFlags),
	}

	// If not in multi-project mode, initialize the default database immediately
	if !config.MultiProjectMode {
		if _, err := manager.getDB(defaultProject); err != nil {
			return nil, fmt.Errorf("failed to initialize default database: %w", err)
		}
	}

	return manager, nil
}

// Config exposes the active configuration (dims may be adopted from the DB).
func (dm *DBManager) Config() *Config { return dm.config }

// getDB retrieves a database connection for a given project, creating it if necessary
func (dm *DBManager) getDB(projectName string) (*sql.DB, error) {
	dm.mu.RLock()
	db, ok := dm.dbs[projectName]
	dm.mu.RUnlock()

	if ok {
		return db, nil
	}

	dm.mu.Lock()

	// Double-check if another goroutine created the DB while we were waiting for the lock
	db, ok = dm.dbs[projectName]
	if ok {
		dm.mu.Unlock()
		return db, nil
	}

	var dbURL string
	if dm.config.MultiProjectMode {
		if projectName == "" {
			dm.mu.Unlock()
			return nil, fmt.Errorf("project name cannot be empty in multi-project mode")
		}
		dbPath := filepath.Join(dm.config.ProjectsDir, projectName, "knowledge.db")
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			dm.mu.Unlock()
			return nil, fmt.Errorf("failed to create project directory for %s: %w", projectName, err)
		}
		dbURL = fmt.Sprintf("file:%s", dbPath)
	} else {
		dbURL = dm.config.URL
	}

	var newDb *sql.DB
	var err error

	if strings.HasPrefix(dbURL, "file:") {
		newDb, err = sql.Open("libsql", dbURL)
	} else {
		authURL := dbURL
		if dm.config.AuthToken != "" {
			if u, perr := url.Parse(dbURL); perr == nil {
				q := u.Query()
				q.Set("authToken", dm.config.AuthToken)
				u.RawQuery = q.Encode()
				authURL = u.String()
			} else if strings.Contains(dbURL, "?") {
				authURL = dbURL + "&authToken=" + url.QueryEscape(dm.config.AuthToken)
			} else {
				authURL = dbURL + "?authToken=" + url.QueryEscape(dm.config.AuthToken)
			}
		}
		newDb, err = sql.Open("libsql", authURL)
	}

	if err != nil {
		dm.mu.Unlock()
		return nil, kgerr.Storage(err, fmt.Sprintf("failed to create database connector for project %s", projectName))
	}

	if err := dm.initialize(newDb); err != nil {
		newDb.Close()
		dm.mu.Unlock()
		return nil, kgerr.Storage(err, fmt.Sprintf("failed to initialize database for project %s", projectName))
	}

	if dm.config.MaxOpenConns > 0 {
		newDb.SetMaxOpenConns(dm.config.MaxOpenConns)
	}
	if dm.config.MaxIdleConns > 0 {
		newDb.SetMaxIdleConns(dm.config.MaxIdleConns)
	}
	if dm.config.ConnMaxIdleSec > 0 {
		newDb.SetConnMaxIdleTime(time.Duration(dm.config.ConnMaxIdleSec) * time.Second)
	}
	if dm.config.ConnMaxLifeSec > 0 {
		newDb.SetConnMaxLifetime(time.Duration(dm.config.ConnMaxLifeSec) * time.Second)
	}

	dm.dbs[projectName] = newDb
	dm.stmtMu.Lock()
	if _, ok := dm.stmtCache[projectName]; !ok {
		dm.stmtCache[projectName] = make(map[string]*sql.Stmt)
	}
	dm.stmtMu.Unlock()
	// Unlock before capability detection to avoid self-deadlock
	dm.mu.Unlock()

	dm.detectCapabilitiesForProject(context.Background(), projectName, newDb)

	stats := newDb.Stats()
	metrics.Default().ObservePoolStats(stats.InUse, stats.Idle)
	return newDb, nil
}

// initialize creates tables and indexes if they don't exist
func (dm *DBManager) initialize(db *sql.DB) error {
	done := metrics.TimeOp("db_initialize")
	success := false
	defer func() { done(success) }()
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range dynamicSchema(dm.config.EmbeddingDims) {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// PoolStats aggregates connection pool gauges across open project databases.
func (dm *DBManager) PoolStats() (inUse, idle int) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, db := range dm.dbs {
		stats := db.Stats()
		inUse += stats.InUse
		idle += stats.Idle
	}
	return inUse, idle
}

// Close closes all database connections and cached statements.
func (dm *DBManager) Close() error {
	dm.closeAllStmts()

	dm.mu.Lock()
	defer dm.mu.Unlock()

	var errs []string
	for name, db := range dm.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("failed to close database for project %s: %v", name, err))
		}
	}
	dm.dbs = make(map[string]*sql.DB)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
