package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
)

// SearchSimilar finds entities by vector similarity. Scores are cosine
// similarity in [0,1] (1 - cosine distance); results below threshold are
// dropped. Tombstoned entities and rows with no embedding never match.
func (dm *DBManager) SearchSimilar(ctx context.Context, projectName string, embedding []float32, limit int, threshold float64) ([]apptype.SearchMatch, error) {
	done := metrics.TimeOp("db_search_similar")
	success := false
	defer func() { done(success) }()

	if len(embedding) == 0 {
		return nil, errors.New("search embedding cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	vectorString, err := dm.vectorToString(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to convert search vector: %w", err)
	}
	zeroVec := dm.vectorZeroString()

	var query string
	var args []any
	if dm.capsFor(projectName).vectorTopK {
		// ANN via the vector index, re-joined for scoring and filtering.
		query = fmt.Sprintf(`
			SELECT %s, vector_distance_cos(e.embedding, vector32(?)) as distance
			FROM vector_top_k('idx_entities_embedding', vector32(?), ?) as v
			JOIN entities e ON e.rowid = v.id
			WHERE e.tombstoned = 0 AND e.embedding != vector32(?)
			ORDER BY distance ASC`, prefixColumns("e"))
		args = []any{vectorString, vectorString, limit, zeroVec}
	} else {
		query = fmt.Sprintf(`
			SELECT %s, vector_distance_cos(e.embedding, vector32(?)) as distance
			FROM entities e
			WHERE e.tombstoned = 0 AND e.embedding != vector32(?)
			ORDER BY distance ASC
			LIMIT ?`, prefixColumns("e"))
		args = []any{vectorString, zeroVec, limit}
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		if strings.Contains(err.Error(), "no such function") {
			return nil, errors.Mark(
				errors.Wrap(err, "vector search unavailable on this database"),
				kgerr.ErrIndexUnavailable)
		}
		return nil, kgerr.Storage(err, "failed to run vector search")
	}
	defer rows.Close()

	matches := make([]apptype.SearchMatch, 0, limit)
	for rows.Next() {
		entity, distance, err := dm.scanEntityWithDistance(rows)
		if err != nil {
			dm.logger.Warn("failed to scan search row", zap.Error(err))
			continue
		}
		score := 1.0 - distance
		if score < threshold {
			continue
		}
		matches = append(matches, apptype.SearchMatch{Entity: *entity, Score: score})
		if len(matches) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, kgerr.Storage(err, "error iterating search rows")
	}
	success = true
	return matches, nil
}

// SearchText finds entities by lexical match. On FTS5-capable databases it
// queries the indexer-maintained fts_entities table and ranks by bm25;
// otherwise it falls back to LIKE matching on content and entity type.
func (dm *DBManager) SearchText(ctx context.Context, projectName string, queryText string, limit int) ([]apptype.SearchMatch, error) {
	done := metrics.TimeOp("db_search_text")
	success := false
	defer func() { done(success) }()

	if strings.TrimSpace(queryText) == "" {
		return nil, errors.New("search query cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	if dm.capsFor(projectName).fts5 {
		matches, err := dm.searchTextFTS(ctx, projectName, db, queryText, limit)
		if err == nil {
			success = true
			return matches, nil
		}
		dm.logger.Warn("fts query failed, falling back to LIKE",
			zap.String("project", projectName), zap.Error(err))
	}

	query := fmt.Sprintf(
		"SELECT %s FROM entities WHERE tombstoned = 0 AND (content LIKE ? OR entity_type LIKE ?) ORDER BY updated_at DESC LIMIT ?",
		entityColumns)
	pattern := "%" + queryText + "%"
	rows, err := db.QueryContext(ctx, query, pattern, pattern, limit)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to run text search")
	}
	defer rows.Close()

	matches := make([]apptype.SearchMatch, 0, limit)
	for rows.Next() {
		entity, err := dm.scanEntity(rows)
		if err != nil {
			dm.logger.Warn("failed to scan text search row", zap.Error(err))
			continue
		}
		matches = append(matches, apptype.SearchMatch{Entity: *entity, Score: 0})
	}
	if err := rows.Err(); err != nil {
		return nil, kgerr.Storage(err, "error iterating text search rows")
	}
	success = true
	return matches, nil
}

func (dm *DBManager) searchTextFTS(ctx context.Context, projectName string, db dbQuerier, queryText string, limit int) ([]apptype.SearchMatch, error) {
	query := fmt.Sprintf(`
		SELECT %s, bm25(fts_entities) as rank
		FROM fts_entities f
		JOIN entities e ON e.id = f.id
		WHERE fts_entities MATCH ? AND e.tombstoned = 0
		ORDER BY rank ASC
		LIMIT ?`, prefixColumns("e"))

	rows, err := db.QueryContext(ctx, query, ftsQuoteQuery(queryText), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]apptype.SearchMatch, 0, limit)
	for rows.Next() {
		entity, rank, err := dm.scanEntityWithDistance(rows)
		if err != nil {
			dm.logger.Warn("failed to scan fts row", zap.Error(err))
			continue
		}
		// bm25 is more negative for better matches; negate for a
		// higher-is-better score.
		matches = append(matches, apptype.SearchMatch{Entity: *entity, Score: -rank})
	}
	return matches, rows.Err()
}

// ftsQuoteQuery wraps each whitespace token in double quotes so user input
// cannot inject FTS5 query syntax.
func ftsQuoteQuery(q string) string {
	tokens := strings.Fields(q)
	for i, t := range tokens {
		tokens[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(tokens, " ")
}

// UpsertFTS replaces the lexical index row for an entity. Only the async
// indexer calls this; mutations never touch fts_entities directly.
func (dm *DBManager) UpsertFTS(ctx context.Context, projectName string, entityID, entityType, content string) error {
	db, err := dm.getDB(projectName)
	if err != nil {
		return err
	}
	if !dm.capsFor(projectName).fts5 {
		return errors.Mark(errors.New("fts5 not available"), kgerr.ErrIndexUnavailable)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM fts_entities WHERE id = ?", entityID); err != nil {
		return kgerr.Storage(err, "failed to clear fts row")
	}
	if content == "" && entityType == "" {
		return nil
	}
	if _, err := db.ExecContext(ctx,
		"INSERT INTO fts_entities (id, entity_type, content) VALUES (?, ?, ?)",
		entityID, entityType, content); err != nil {
		return kgerr.Storage(err, "failed to insert fts row")
	}
	return nil
}

// DeleteFTS drops an entity's lexical index row (used on tombstone).
func (dm *DBManager) DeleteFTS(ctx context.Context, projectName string, entityID string) error {
	db, err := dm.getDB(projectName)
	if err != nil {
		return err
	}
	if !dm.capsFor(projectName).fts5 {
		return nil
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM fts_entities WHERE id = ?", entityID); err != nil {
		return kgerr.Storage(err, "failed to delete fts row")
	}
	return nil
}

// SetEmbedding writes an entity's vector without bumping its version: index
// maintenance is not a knowledge mutation and leaves the ledger untouched.
func (dm *DBManager) SetEmbedding(ctx context.Context, projectName string, entityID string, embedding []float32) error {
	db, err := dm.getDB(projectName)
	if err != nil {
		return err
	}
	vectorString, err := dm.vectorToString(embedding)
	if err != nil {
		return fmt.Errorf("failed to convert embedding for entity %q: %w", entityID, err)
	}
	result, err := db.ExecContext(ctx,
		"UPDATE entities SET embedding = vector32(?) WHERE id = ? AND tombstoned = 0",
		vectorString, entityID)
	if err != nil {
		return kgerr.Storage(err, fmt.Sprintf("failed to set embedding for entity %q", entityID))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return kgerr.Storage(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return errors.Mark(errors.Newf("entity not found: %s", entityID), kgerr.ErrNotFound)
	}
	return nil
}

// EntityDoc is the indexable projection of an entity.
type EntityDoc struct {
	ID         string
	EntityType string
	Content    string
	HasVector  bool
}

// ForEachEntityDoc streams every live entity's indexable fields to fn, for
// full index rebuilds. Iteration stops at the first fn error.
func (dm *DBManager) ForEachEntityDoc(ctx context.Context, projectName string, fn func(EntityDoc) error) error {
	db, err := dm.getDB(projectName)
	if err != nil {
		return err
	}
	zeroVec := dm.vectorZeroString()
	rows, err := db.QueryContext(ctx,
		"SELECT id, entity_type, content, embedding != vector32(?) FROM entities WHERE tombstoned = 0",
		zeroVec)
	if err != nil {
		return kgerr.Storage(err, "failed to stream entity docs")
	}
	defer rows.Close()

	for rows.Next() {
		var doc EntityDoc
		var hasVector int
		if err := rows.Scan(&doc.ID, &doc.EntityType, &doc.Content, &hasVector); err != nil {
			return kgerr.Storage(err, "failed to scan entity doc")
		}
		doc.HasVector = hasVector != 0
		if err := fn(doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

// dbQuerier lets searchTextFTS run against either a *sql.DB or *sql.Tx.
type dbQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (dm *DBManager) scanEntityWithDistance(row rowScanner) (*apptype.KnowledgeEntity, float64, error) {
	var e apptype.KnowledgeEntity
	var metadataJSON, createdAt, updatedAt string
	var embeddingBytes []byte
	var tombstoned int
	var distance float64

	if err := row.Scan(&e.ID, &e.Content, &e.EntityType, &e.Version, &metadataJSON,
		&embeddingBytes, &e.CreatedBy, &tombstoned, &createdAt, &updatedAt, &distance); err != nil {
		return nil, 0, err
	}
	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
			return nil, 0, fmt.Errorf("failed to decode metadata for entity %q: %w", e.ID, err)
		}
	}
	vector, err := dm.extractVector(embeddingBytes)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to extract vector for entity %q: %w", e.ID, err)
	}
	e.Embedding = vector
	e.Tombstoned = tombstoned != 0
	e.CreatedAt = parseTimestamp(createdAt)
	e.UpdatedAt = parseTimestamp(updatedAt)
	return &e, distance, nil
}

// prefixColumns qualifies the entity column list with a table alias.
func prefixColumns(alias string) string {
	cols := strings.Split(entityColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}
