package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
)

// InsertConflicts records detected disagreements. Missing ids, statuses and
// timestamps are filled in. Conflicts are audit state: they close by status
// transition (see CloseConflict), never by deletion.
func (dm *DBManager) InsertConflicts(ctx context.Context, projectName string, conflicts []apptype.Conflict) ([]apptype.Conflict, error) {
	done := metrics.TimeOp("db_insert_conflicts")
	success := false
	defer func() { done(success) }()

	if len(conflicts) == 0 {
		return nil, nil
	}
	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO conflicts (id, entity_id, field, proposed_value, status, resolution_note, resolved_by, created_at, resolved_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return nil, kgerr.Storage(err, "failed to prepare statement")
	}
	defer stmt.Close()

	out := make([]apptype.Conflict, len(conflicts))
	for i, c := range conflicts {
		if c.EntityID == "" || c.Field == "" {
			return nil, errors.New("conflict entity id and field cannot be empty")
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Status == "" {
			c.Status = apptype.ConflictPending
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		proposedJSON, jerr := json.Marshal(c.ProposedValue)
		if jerr != nil {
			return nil, fmt.Errorf("failed to encode proposed value for field %q: %w", c.Field, jerr)
		}
		var resolvedAt any
		if c.Status != apptype.ConflictPending {
			now := time.Now().UTC()
			c.ResolvedAt = &now
			resolvedAt = now.Format(time.RFC3339Nano)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.EntityID, c.Field, string(proposedJSON),
			c.Status, c.ResolutionNote, c.ResolvedBy, c.CreatedAt.Format(time.RFC3339Nano), resolvedAt); err != nil {
			return nil, kgerr.Storage(err, fmt.Sprintf("failed to insert conflict for field %q", c.Field))
		}
		out[i] = c
	}

	if err := tx.Commit(); err != nil {
		return nil, kgerr.Storage(err, "failed to commit conflicts")
	}
	success = true
	return out, nil
}

// GetConflict fetches a single conflict by id.
func (dm *DBManager) GetConflict(ctx context.Context, projectName string, id string) (*apptype.Conflict, error) {
	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	stmt, err := dm.getPreparedStmt(ctx, projectName, db,
		"SELECT id, entity_id, field, proposed_value, status, resolution_note, resolved_by, created_at, resolved_at FROM conflicts WHERE id = ?")
	if err != nil {
		return nil, err
	}
	conflict, err := dm.scanConflict(stmt.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Mark(errors.Newf("conflict not found: %s", id), kgerr.ErrNotFound)
		}
		return nil, kgerr.Storage(err, fmt.Sprintf("failed to scan conflict %q", id))
	}
	return conflict, nil
}

// ListConflicts returns conflicts, newest first, optionally filtered by
// entity and status.
func (dm *DBManager) ListConflicts(ctx context.Context, projectName string, entityID string, status string, limit int) ([]apptype.Conflict, error) {
	done := metrics.TimeOp("db_list_conflicts")
	success := false
	defer func() { done(success) }()

	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, entity_id, field, proposed_value, status, resolution_note, resolved_by, created_at, resolved_at FROM conflicts WHERE 1=1"
	args := []any{}
	if entityID != "" {
		query += " AND entity_id = ?"
		args = append(args, entityID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	if limit <= 0 {
		limit = 20
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to query conflicts")
	}
	defer rows.Close()

	conflicts := make([]apptype.Conflict, 0, limit)
	for rows.Next() {
		conflict, err := dm.scanConflict(rows)
		if err != nil {
			dm.logger.Warn("failed to scan conflict row", zap.Error(err))
			continue
		}
		conflicts = append(conflicts, *conflict)
	}
	if err := rows.Err(); err != nil {
		return nil, kgerr.Storage(err, "error iterating conflict rows")
	}
	success = true
	return conflicts, nil
}

// CloseConflict transitions a pending conflict to resolved or rejected. The
// row itself stays forever for audit value.
func (dm *DBManager) CloseConflict(ctx context.Context, projectName string, id string, status string, note string, resolvedBy string) (*apptype.Conflict, error) {
	done := metrics.TimeOp("db_close_conflict")
	success := false
	defer func() { done(success) }()

	if status != apptype.ConflictResolved && status != apptype.ConflictRejected {
		return nil, errors.Newf("invalid close status %q", status)
	}
	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	result, err := db.ExecContext(ctx,
		"UPDATE conflicts SET status = ?, resolution_note = ?, resolved_by = ?, resolved_at = ? WHERE id = ? AND status = ?",
		status, note, resolvedBy, nowTimestamp(), id, apptype.ConflictPending)
	if err != nil {
		return nil, kgerr.Storage(err, fmt.Sprintf("failed to close conflict %q", id))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, kgerr.Storage(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		// Either absent or already closed; disambiguate for the caller.
		existing, gerr := dm.GetConflict(ctx, projectName, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, errors.Newf("conflict %s already closed with status %q", id, existing.Status)
	}
	success = true
	return dm.GetConflict(ctx, projectName, id)
}

func (dm *DBManager) scanConflict(row rowScanner) (*apptype.Conflict, error) {
	var c apptype.Conflict
	var proposedJSON, createdAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&c.ID, &c.EntityID, &c.Field, &proposedJSON, &c.Status,
		&c.ResolutionNote, &c.ResolvedBy, &createdAt, &resolvedAt); err != nil {
		return nil, err
	}
	if proposedJSON != "" && proposedJSON != "null" {
		if err := json.Unmarshal([]byte(proposedJSON), &c.ProposedValue); err != nil {
			return nil, fmt.Errorf("failed to decode proposed value for conflict %q: %w", c.ID, err)
		}
	}
	c.CreatedAt = parseTimestamp(createdAt)
	if resolvedAt.Valid && resolvedAt.String != "" {
		t := parseTimestamp(resolvedAt.String)
		c.ResolvedAt = &t
	}
	return &c, nil
}
