package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
)

// ProvenanceQuery narrows a ledger listing. Source filters on the origin
// descriptor; Direction (out|in|both) filters records tagged by directed
// relation creation. Zero values mean no filtering.
type ProvenanceQuery struct {
	Source    string
	Direction string
	Limit     int
	Offset    int
}

// appendProvenanceTx writes one ledger record inside the mutation's own
// transaction, so a mutation is never reported accepted without its record
// being durable, and per-entity ledger order equals CAS acceptance order.
func (dm *DBManager) appendProvenanceTx(ctx context.Context, tx *sql.Tx, entityID string, entityVersion int64, changedFields []string, draft apptype.ProvenanceDraft) error {
	changedJSON, err := json.Marshal(changedFields)
	if err != nil {
		return fmt.Errorf("failed to encode changed fields: %w", err)
	}
	metadataJSON, err := marshalJSONMap(draft.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode provenance metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO provenance (id, entity_id, source, evidence, actor_id, entity_version, changed_fields, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		uuid.NewString(), entityID, draft.Source, draft.Evidence, draft.ActorID,
		entityVersion, string(changedJSON), metadataJSON, nowTimestamp())
	if err != nil {
		return kgerr.Storage(err, fmt.Sprintf("failed to append provenance for entity %q", entityID))
	}
	return nil
}

// AppendProvenance appends a standalone ledger record (no entity mutation),
// e.g. an external justification attached after the fact. The entity must
// exist; prior records are never touched.
func (dm *DBManager) AppendProvenance(ctx context.Context, projectName string, entityID string, draft apptype.ProvenanceDraft) (*apptype.ProvenanceRecord, error) {
	done := metrics.TimeOp("db_append_provenance")
	success := false
	defer func() { done(success) }()

	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	entity, err := dm.getEntityAny(ctx, projectName, entityID)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := dm.appendProvenanceTx(ctx, tx, entityID, entity.Version, nil, draft); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, kgerr.Storage(err, "failed to commit provenance append")
	}
	success = true

	records, err := dm.ListProvenance(ctx, projectName, entityID, ProvenanceQuery{Limit: 1})
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

// ListProvenance returns the entity's ledger, most-recent-first, paginated
// via Limit/Offset. The ledger is the authoritative history of the entity.
func (dm *DBManager) ListProvenance(ctx context.Context, projectName string, entityID string, q ProvenanceQuery) ([]apptype.ProvenanceRecord, error) {
	done := metrics.TimeOp("db_list_provenance")
	success := false
	defer func() { done(success) }()

	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, entity_id, source, evidence, actor_id, entity_version, changed_fields, metadata, created_at FROM provenance WHERE entity_id = ?"
	args := []any{entityID}
	if q.Source != "" {
		query += " AND source = ?"
		args = append(args, q.Source)
	}
	switch strings.ToLower(q.Direction) {
	case "", "both":
	case "out", "in":
		query += " AND json_extract(metadata, '$.direction') = ?"
		args = append(args, strings.ToLower(q.Direction))
	default:
		return nil, errors.Newf("invalid direction %q (expected out, in, or both)", q.Direction)
	}
	query += " ORDER BY seq DESC"
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(q.Offset, 0))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to query provenance")
	}
	defer rows.Close()

	records := make([]apptype.ProvenanceRecord, 0, limit)
	for rows.Next() {
		var r apptype.ProvenanceRecord
		var changedJSON, metadataJSON, createdAt string
		if err := rows.Scan(&r.ID, &r.EntityID, &r.Source, &r.Evidence, &r.ActorID,
			&r.EntityVersion, &changedJSON, &metadataJSON, &createdAt); err != nil {
			dm.logger.Warn("failed to scan provenance row", zap.Error(err))
			continue
		}
		if changedJSON != "" && changedJSON != "[]" {
			if err := json.Unmarshal([]byte(changedJSON), &r.ChangedFields); err != nil {
				dm.logger.Warn("failed to decode changed fields", zap.String("record", r.ID), zap.Error(err))
			}
		}
		if metadataJSON != "" && metadataJSON != "{}" {
			if err := json.Unmarshal([]byte(metadataJSON), &r.Metadata); err != nil {
				dm.logger.Warn("failed to decode provenance metadata", zap.String("record", r.ID), zap.Error(err))
			}
		}
		r.CreatedAt = parseTimestamp(createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, kgerr.Storage(err, "error iterating provenance rows")
	}
	success = true
	return records, nil
}

// FieldsChangedSince reports which update fields were touched by mutations
// accepted after baseVersion, derived from the ledger's changed_fields. A
// whole-entity marker ("*") means every field counts as changed. This is what
// lets the merge strategy detect contention without retaining field history.
func (dm *DBManager) FieldsChangedSince(ctx context.Context, projectName string, entityID string, baseVersion int64) (map[string]struct{}, error) {
	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	stmt, err := dm.getPreparedStmt(ctx, projectName, db,
		"SELECT changed_fields FROM provenance WHERE entity_id = ? AND entity_version > ?")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, entityID, baseVersion)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to query changed fields")
	}
	defer rows.Close()

	changed := make(map[string]struct{})
	for rows.Next() {
		var changedJSON string
		if err := rows.Scan(&changedJSON); err != nil {
			return nil, kgerr.Storage(err, "failed to scan changed fields")
		}
		var fields []string
		if err := json.Unmarshal([]byte(changedJSON), &fields); err != nil {
			continue
		}
		for _, f := range fields {
			changed[f] = struct{}{}
		}
	}
	return changed, rows.Err()
}
