package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
)

// CreateRelations creates typed directed edges between entities. Both
// endpoints must exist (and not be tombstoned) at creation time; references
// become weak afterwards. Each endpoint gets a direction-tagged ledger record
// so provenance listings can be filtered by relation direction.
func (dm *DBManager) CreateRelations(ctx context.Context, projectName string, relations []apptype.Relation, actorID string) error {
	done := metrics.TimeOp("db_create_relations")
	success := false
	defer func() { done(success) }()

	if len(relations) == 0 {
		return nil
	}
	db, err := dm.getDB(projectName)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return kgerr.Storage(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO relations (source, target, relation_type, attributes, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return kgerr.Storage(err, "failed to prepare statement")
	}
	defer stmt.Close()

	for _, relation := range relations {
		if relation.From == "" || relation.To == "" || relation.RelationType == "" {
			return errors.New("relation fields cannot be empty")
		}

		versions := make(map[string]int64, 2)
		rows, qerr := tx.QueryContext(ctx,
			"SELECT id, version FROM entities WHERE tombstoned = 0 AND id IN (?, ?)",
			relation.From, relation.To)
		if qerr != nil {
			return kgerr.Storage(qerr, "failed to verify relation endpoints")
		}
		for rows.Next() {
			var id string
			var version int64
			if err := rows.Scan(&id, &version); err == nil {
				versions[id] = version
			}
		}
		rows.Close()
		missing := make([]string, 0, 2)
		if _, ok := versions[relation.From]; !ok {
			missing = append(missing, relation.From)
		}
		if _, ok := versions[relation.To]; !ok && relation.From != relation.To {
			missing = append(missing, relation.To)
		}
		if len(missing) > 0 {
			return errors.Mark(
				errors.Newf("relation endpoints must exist before linking: missing %s", strings.Join(missing, ", ")),
				kgerr.ErrNotFound)
		}

		attrsJSON, jerr := marshalJSONMap(relation.Attributes)
		if jerr != nil {
			return fmt.Errorf("failed to encode relation attributes: %w", jerr)
		}
		if _, err := stmt.ExecContext(ctx, relation.From, relation.To, relation.RelationType, attrsJSON, nowTimestamp()); err != nil {
			return kgerr.Storage(err, fmt.Sprintf("failed to insert relation (%s -> %s)", relation.From, relation.To))
		}

		for id, direction := range map[string]string{relation.From: "out", relation.To: "in"} {
			other := relation.To
			if direction == "in" {
				other = relation.From
			}
			prov := apptype.ProvenanceDraft{
				Source:  "relation",
				ActorID: actorID,
				Metadata: map[string]any{
					"direction":    direction,
					"relationType": relation.RelationType,
					"peer":         other,
				},
			}
			if err := dm.appendProvenanceTx(ctx, tx, id, versions[id], nil, prov); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return kgerr.Storage(err, "failed to commit relations")
	}
	success = true
	return nil
}

// DeleteRelation deletes a specific relation edge.
func (dm *DBManager) DeleteRelation(ctx context.Context, projectName string, source, target, relationType string) error {
	done := metrics.TimeOp("db_delete_relation")
	success := false
	defer func() { done(success) }()

	if source == "" || target == "" || relationType == "" {
		return errors.New("relation parameters cannot be empty")
	}
	db, err := dm.getDB(projectName)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx,
		"DELETE FROM relations WHERE source = ? AND target = ? AND relation_type = ?",
		source, target, relationType)
	if err != nil {
		return kgerr.Storage(err, "failed to delete relation")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return kgerr.Storage(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return errors.Mark(
			errors.Newf("relation not found: %s -> %s (%s)", source, target, relationType),
			kgerr.ErrNotFound)
	}
	success = true
	return nil
}

// RemoveRelationsFor deletes all edges incident to an entity. Used when an
// entity is tombstoned and the caller wants edges cleaned up rather than left
// dangling (traversal tolerates either).
func (dm *DBManager) RemoveRelationsFor(ctx context.Context, projectName string, entityID string) error {
	db, err := dm.getDB(projectName)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM relations WHERE source = ? OR target = ?", entityID, entityID); err != nil {
		return kgerr.Storage(err, fmt.Sprintf("failed to remove relations for entity %q", entityID))
	}
	return nil
}

// GetRelationsForEntities retrieves all edges incident to the given entities.
func (dm *DBManager) GetRelationsForEntities(ctx context.Context, projectName string, ids []string) ([]apptype.Relation, error) {
	if len(ids) == 0 {
		return []apptype.Relation{}, nil
	}
	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(
		"SELECT source, target, relation_type, attributes FROM relations WHERE source IN (%s) OR target IN (%s)",
		placeholders, placeholders)
	args := make([]any, len(ids)*2)
	for i, id := range ids {
		args[i] = id
		args[i+len(ids)] = id
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to query relations")
	}
	defer rows.Close()

	relations := make([]apptype.Relation, 0)
	for rows.Next() {
		relation, err := scanRelation(rows)
		if err != nil {
			dm.logger.Warn("failed to scan relation row", zap.Error(err))
			continue
		}
		relations = append(relations, *relation)
	}
	return relations, rows.Err()
}

func scanRelation(row rowScanner) (*apptype.Relation, error) {
	var r apptype.Relation
	var attrsJSON string
	if err := row.Scan(&r.From, &r.To, &r.RelationType, &attrsJSON); err != nil {
		return nil, err
	}
	if attrsJSON != "" && attrsJSON != "{}" {
		if err := json.Unmarshal([]byte(attrsJSON), &r.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode relation attributes: %w", err)
		}
	}
	return &r, nil
}
