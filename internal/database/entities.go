package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
)

const entityColumns = "id, content, entity_type, version, metadata, embedding, created_by, tombstoned, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func (dm *DBManager) scanEntity(row rowScanner) (*apptype.KnowledgeEntity, error) {
	var e apptype.KnowledgeEntity
	var metadataJSON, createdAt, updatedAt string
	var embeddingBytes []byte
	var tombstoned int

	if err := row.Scan(&e.ID, &e.Content, &e.EntityType, &e.Version, &metadataJSON,
		&embeddingBytes, &e.CreatedBy, &tombstoned, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for entity %q: %w", e.ID, err)
		}
	}
	vector, err := dm.extractVector(embeddingBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to extract vector for entity %q: %w", e.ID, err)
	}
	e.Embedding = vector
	e.Tombstoned = tombstoned != 0
	e.CreatedAt = parseTimestamp(createdAt)
	e.UpdatedAt = parseTimestamp(updatedAt)
	return &e, nil
}

func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}

func nowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func marshalJSONMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateEntity inserts a new entity at version 1 and appends its creation
// record to the provenance ledger in the same transaction. A caller-assigned
// id that already exists fails with DuplicateID.
func (dm *DBManager) CreateEntity(ctx context.Context, projectName string, draft apptype.EntityDraft, prov apptype.ProvenanceDraft) (*apptype.KnowledgeEntity, error) {
	done := metrics.TimeOp("db_create_entity")
	success := false
	defer func() { done(success) }()

	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(draft.EntityType) == "" {
		return nil, errors.New("entity type must be a non-empty string")
	}
	id := strings.TrimSpace(draft.ID)
	if id == "" {
		id = uuid.NewString()
	}

	vectorString, err := dm.vectorToString(draft.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to convert embedding for entity %q: %w", id, err)
	}
	metadataJSON, err := marshalJSONMap(draft.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata for entity %q: %w", id, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	now := nowTimestamp()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO entities (id, content, entity_type, version, metadata, embedding, created_by, tombstoned, created_at, updated_at) VALUES (?, ?, ?, 1, ?, vector32(?), ?, 0, ?, ?)",
		id, draft.Content, draft.EntityType, metadataJSON, vectorString, draft.CreatedBy, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, errors.Mark(errors.Newf("entity %q already exists", id), kgerr.ErrDuplicateID)
		}
		return nil, kgerr.Storage(err, fmt.Sprintf("failed to insert entity %q", id))
	}

	if prov.Source == "" {
		prov.Source = "create"
	}
	if prov.ActorID == "" {
		prov.ActorID = draft.CreatedBy
	}
	if err := dm.appendProvenanceTx(ctx, tx, id, 1, []string{apptype.WholeEntityField}, prov); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, kgerr.Storage(err, "failed to commit entity creation")
	}
	success = true
	return dm.getEntityAny(ctx, projectName, id)
}

// GetEntity retrieves a single entity by id. Tombstoned entities are reported
// as NotFound, same as absent ones.
func (dm *DBManager) GetEntity(ctx context.Context, projectName string, id string) (*apptype.KnowledgeEntity, error) {
	entity, err := dm.getEntityAny(ctx, projectName, id)
	if err != nil {
		return nil, err
	}
	if entity.Tombstoned {
		return nil, errors.Mark(errors.Newf("entity not found: %s", id), kgerr.ErrNotFound)
	}
	return entity, nil
}

// getEntityAny fetches the row regardless of tombstone state.
func (dm *DBManager) getEntityAny(ctx context.Context, projectName string, id string) (*apptype.KnowledgeEntity, error) {
	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	stmt, err := dm.getPreparedStmt(ctx, projectName, db,
		"SELECT "+entityColumns+" FROM entities WHERE id = ?")
	if err != nil {
		return nil, err
	}
	entity, err := dm.scanEntity(stmt.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Mark(errors.Newf("entity not found: %s", id), kgerr.ErrNotFound)
		}
		return nil, kgerr.Storage(err, fmt.Sprintf("failed to scan entity %q", id))
	}
	return entity, nil
}

// GetEntities fetches multiple entities by id, silently skipping absent and
// tombstoned ids. Used by traversal to materialize nodes, where dangling
// references must not fail the walk.
func (dm *DBManager) GetEntities(ctx context.Context, projectName string, ids []string) ([]apptype.KnowledgeEntity, error) {
	if len(ids) == 0 {
		return []apptype.KnowledgeEntity{}, nil
	}
	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf("SELECT %s FROM entities WHERE tombstoned = 0 AND id IN (%s)", entityColumns, placeholders)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to query entities")
	}
	defer rows.Close()

	entities := make([]apptype.KnowledgeEntity, 0, len(ids))
	for rows.Next() {
		entity, err := dm.scanEntity(rows)
		if err != nil {
			dm.logger.Warn("failed to scan entity row", zap.Error(err))
			continue
		}
		entities = append(entities, *entity)
	}
	if err := rows.Err(); err != nil {
		return nil, kgerr.Storage(err, "error iterating entity rows")
	}
	return entities, nil
}

// CompareAndSwap atomically applies updates only when the stored version
// equals expectedVersion, bumping the version by exactly 1 and appending the
// provenance record in the same transaction. On mismatch it returns a
// VersionConflictError carrying the current stored entity; it never silently
// overwrites. This is the single concurrency primitive everything builds on.
func (dm *DBManager) CompareAndSwap(ctx context.Context, projectName string, id string, expectedVersion int64, updates map[string]any, prov apptype.ProvenanceDraft) (*apptype.KnowledgeEntity, error) {
	done := metrics.TimeOp("db_compare_and_swap")
	success := false
	defer func() { done(success) }()

	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, errors.New("updates cannot be empty")
	}

	normalized := make(map[string]any, len(updates))
	changed := make([]string, 0, len(updates))
	for field, value := range updates {
		field = apptype.NormalizeField(field)
		if !apptype.ValidUpdateField(field) {
			return nil, errors.Newf("unknown update field %q", field)
		}
		normalized[field] = value
		changed = append(changed, field)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	current, err := dm.scanEntity(tx.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Mark(errors.Newf("entity not found: %s", id), kgerr.ErrNotFound)
		}
		return nil, kgerr.Storage(err, fmt.Sprintf("failed to read entity %q", id))
	}
	if current.Tombstoned {
		return nil, errors.Mark(errors.Newf("entity not found: %s", id), kgerr.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return nil, kgerr.NewVersionConflict(expectedVersion, current)
	}

	mutated := *current
	mutated.Metadata = cloneMetadata(current.Metadata)
	if err := applyFieldUpdates(&mutated, normalized); err != nil {
		return nil, err
	}

	metadataJSON, err := marshalJSONMap(mutated.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata for entity %q: %w", id, err)
	}
	newVersion := current.Version + 1
	updatedAt := nowTimestamp()
	result, err := tx.ExecContext(ctx,
		"UPDATE entities SET content = ?, entity_type = ?, metadata = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?",
		mutated.Content, mutated.EntityType, metadataJSON, newVersion, updatedAt, id, expectedVersion)
	if err != nil {
		return nil, kgerr.Storage(err, fmt.Sprintf("failed to update entity %q", id))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, kgerr.Storage(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		// Lost the race after the in-tx read; surface the winner's state.
		tx.Rollback()
		latest, gerr := dm.getEntityAny(ctx, projectName, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, kgerr.NewVersionConflict(expectedVersion, latest)
	}

	if err := dm.appendProvenanceTx(ctx, tx, id, newVersion, changed, prov); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, kgerr.Storage(err, "failed to commit entity update")
	}
	success = true

	mutated.Version = newVersion
	mutated.UpdatedAt = parseTimestamp(updatedAt)
	return &mutated, nil
}

// TombstoneEntity sets the logical-delete flag without removing the row,
// preserving the entity's provenance ledger. The flag flip is an accepted
// mutation: version bumps and a ledger record is appended.
func (dm *DBManager) TombstoneEntity(ctx context.Context, projectName string, id string, actorID string) (int64, error) {
	done := metrics.TimeOp("db_tombstone_entity")
	success := false
	defer func() { done(success) }()

	db, err := dm.getDB(projectName)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, kgerr.Storage(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var version int64
	var tombstoned int
	if err := tx.QueryRowContext(ctx, "SELECT version, tombstoned FROM entities WHERE id = ?", id).Scan(&version, &tombstoned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, errors.Mark(errors.Newf("entity not found: %s", id), kgerr.ErrNotFound)
		}
		return 0, kgerr.Storage(err, fmt.Sprintf("failed to read entity %q", id))
	}
	if tombstoned != 0 {
		return 0, errors.Mark(errors.Newf("entity not found: %s", id), kgerr.ErrNotFound)
	}

	newVersion := version + 1
	if _, err := tx.ExecContext(ctx,
		"UPDATE entities SET tombstoned = 1, version = ?, updated_at = ? WHERE id = ?",
		newVersion, nowTimestamp(), id); err != nil {
		return 0, kgerr.Storage(err, fmt.Sprintf("failed to tombstone entity %q", id))
	}

	prov := apptype.ProvenanceDraft{Source: "tombstone", ActorID: actorID}
	if err := dm.appendProvenanceTx(ctx, tx, id, newVersion, []string{"tombstoned"}, prov); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, kgerr.Storage(err, "failed to commit tombstone")
	}
	success = true
	return newVersion, nil
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// applyFieldUpdates mutates the entity copy per the normalized update map.
func applyFieldUpdates(e *apptype.KnowledgeEntity, updates map[string]any) error {
	for field, value := range updates {
		switch {
		case field == apptype.FieldContent:
			s, ok := value.(string)
			if !ok {
				return errors.Newf("content must be a string, got %T", value)
			}
			e.Content = s
		case field == apptype.FieldEntityType:
			s, ok := value.(string)
			if !ok {
				return errors.Newf("entityType must be a string, got %T", value)
			}
			e.EntityType = s
		case field == apptype.FieldMetadata:
			m, ok := value.(map[string]any)
			if !ok {
				return errors.Newf("metadata must be a map, got %T", value)
			}
			e.Metadata = m
		case strings.HasPrefix(field, apptype.MetadataPrefix):
			if e.Metadata == nil {
				e.Metadata = make(map[string]any)
			}
			e.Metadata[strings.TrimPrefix(field, apptype.MetadataPrefix)] = value
		default:
			return errors.Newf("unknown update field %q", field)
		}
	}
	return nil
}
