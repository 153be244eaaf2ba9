package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
)

// maxTraversalDepth caps bounded traversal regardless of the requested depth.
const maxTraversalDepth = 5

// GetRecentEntities returns the most recently updated live entities.
func (dm *DBManager) GetRecentEntities(ctx context.Context, projectName string, limit int) ([]apptype.KnowledgeEntity, error) {
	if limit <= 0 {
		limit = 10
	}
	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM entities WHERE tombstoned = 0 ORDER BY updated_at DESC LIMIT ?", entityColumns)
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to query recent entities")
	}
	defer rows.Close()

	entities := make([]apptype.KnowledgeEntity, 0, limit)
	for rows.Next() {
		entity, err := dm.scanEntity(rows)
		if err != nil {
			dm.logger.Warn("failed to scan entity row", zap.Error(err))
			continue
		}
		entities = append(entities, *entity)
	}
	return entities, rows.Err()
}

// ReadGraph returns a recency-bounded snapshot: the most recently updated
// entities and every relation among them.
func (dm *DBManager) ReadGraph(ctx context.Context, projectName string, limit int) (*apptype.Subgraph, error) {
	done := metrics.TimeOp("db_read_graph")
	success := false
	defer func() { done(success) }()

	entities, err := dm.GetRecentEntities(ctx, projectName, limit)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		success = true
		return &apptype.Subgraph{Entities: []apptype.KnowledgeEntity{}, Relations: []apptype.Relation{}}, nil
	}

	ids := make([]string, len(entities))
	inSet := make(map[string]struct{}, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
		inSet[e.ID] = struct{}{}
	}
	relations, err := dm.GetRelationsForEntities(ctx, projectName, ids)
	if err != nil {
		return nil, err
	}
	// Keep only edges fully inside the snapshot.
	kept := relations[:0]
	for _, r := range relations {
		if _, ok := inSet[r.From]; !ok {
			continue
		}
		if _, ok := inSet[r.To]; !ok {
			continue
		}
		kept = append(kept, r)
	}

	success = true
	return &apptype.Subgraph{Entities: entities, Relations: kept}, nil
}

// GetNeighbors returns entities directly connected to the given ids, honoring
// direction (out|in|both) and an optional relation-type filter, plus the edges
// that connect them. Tombstoned neighbors are excluded.
func (dm *DBManager) GetNeighbors(ctx context.Context, projectName string, ids []string, direction string, relationFilter []string, limit int) (*apptype.Subgraph, error) {
	done := metrics.TimeOp("db_get_neighbors")
	success := false
	defer func() { done(success) }()

	if len(ids) == 0 {
		return nil, errors.New("neighbor lookup requires at least one entity id")
	}
	if limit <= 0 {
		limit = 50
	}
	db, err := dm.getDB(projectName)
	if err != nil {
		return nil, err
	}

	idPlaceholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	var conds []string
	var args []any
	switch strings.ToLower(direction) {
	case "", "both":
		conds = append(conds, fmt.Sprintf("(source IN (%s) OR target IN (%s))", idPlaceholders, idPlaceholders))
		for i := 0; i < 2; i++ {
			for _, id := range ids {
				args = append(args, id)
			}
		}
	case "out":
		conds = append(conds, fmt.Sprintf("source IN (%s)", idPlaceholders))
		for _, id := range ids {
			args = append(args, id)
		}
	case "in":
		conds = append(conds, fmt.Sprintf("target IN (%s)", idPlaceholders))
		for _, id := range ids {
			args = append(args, id)
		}
	default:
		return nil, errors.Newf("invalid direction %q (expected out, in, or both)", direction)
	}
	if len(relationFilter) > 0 {
		rtPlaceholders := strings.TrimSuffix(strings.Repeat("?,", len(relationFilter)), ",")
		conds = append(conds, fmt.Sprintf("relation_type IN (%s)", rtPlaceholders))
		for _, rt := range relationFilter {
			args = append(args, rt)
		}
	}

	query := "SELECT source, target, relation_type, attributes FROM relations WHERE " +
		strings.Join(conds, " AND ") + " LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kgerr.Storage(err, "failed to query neighbor relations")
	}
	defer rows.Close()

	seedSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seedSet[id] = struct{}{}
	}
	relations := make([]apptype.Relation, 0, limit)
	neighborIDs := make([]string, 0, limit)
	seen := make(map[string]struct{})
	for rows.Next() {
		relation, err := scanRelation(rows)
		if err != nil {
			dm.logger.Warn("failed to scan relation row", zap.Error(err))
			continue
		}
		relations = append(relations, *relation)
		for _, id := range []string{relation.From, relation.To} {
			if _, isSeed := seedSet[id]; isSeed {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			neighborIDs = append(neighborIDs, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, kgerr.Storage(err, "error iterating neighbor rows")
	}

	// GetEntities drops tombstoned and dangling endpoints silently.
	neighbors, err := dm.GetEntities(ctx, projectName, neighborIDs)
	if err != nil {
		return nil, err
	}
	success = true
	return &apptype.Subgraph{Entities: neighbors, Relations: relations}, nil
}

// Traverse walks the relation graph breadth-first from startID up to maxDepth
// hops (clamped to maxTraversalDepth), optionally filtered by relation type
// and direction. The start entity must exist; edges to tombstoned or missing
// entities are skipped without error. Cycles are handled by a visited set.
func (dm *DBManager) Traverse(ctx context.Context, projectName string, startID string, maxDepth int, relationFilter []string, direction string) (*apptype.Subgraph, error) {
	done := metrics.TimeOp("db_traverse")
	success := false
	defer func() { done(success) }()

	start, err := dm.GetEntity(ctx, projectName, startID)
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 || maxDepth > maxTraversalDepth {
		maxDepth = maxTraversalDepth
	}
	switch strings.ToLower(direction) {
	case "", "both", "out", "in":
	default:
		return nil, errors.Newf("invalid direction %q (expected out, in, or both)", direction)
	}

	visited := map[string]struct{}{startID: {}}
	entities := []apptype.KnowledgeEntity{*start}
	relations := make([]apptype.Relation, 0)
	seenEdges := make(map[string]struct{})
	frontier := []string{startID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		sub, err := dm.GetNeighbors(ctx, projectName, frontier, direction, relationFilter, 1000)
		if err != nil {
			return nil, err
		}
		next := make([]string, 0)
		for _, e := range sub.Entities {
			if _, ok := visited[e.ID]; ok {
				continue
			}
			visited[e.ID] = struct{}{}
			entities = append(entities, e)
			next = append(next, e.ID)
		}
		for _, r := range sub.Relations {
			key := r.From + "\x00" + r.To + "\x00" + r.RelationType
			if _, ok := seenEdges[key]; ok {
				continue
			}
			// Drop edges whose far endpoint was tombstoned or removed.
			if _, ok := visited[r.From]; !ok {
				continue
			}
			if _, ok := visited[r.To]; !ok {
				continue
			}
			seenEdges[key] = struct{}{}
			relations = append(relations, r)
		}
		frontier = next
	}

	success = true
	return &apptype.Subgraph{Entities: entities, Relations: relations}, nil
}
