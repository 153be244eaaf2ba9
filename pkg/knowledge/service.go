package knowledge

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/embeddings"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/events"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/index"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/resolver"
)

// Service is the library-first API for the knowledge substrate without MCP
// transport. It wires the store, the conflict resolver, the async search
// indexer and the change-event bus.
type Service struct {
	db       *database.DBManager
	resolver *resolver.Resolver
	indexer  *index.Indexer
	bus      *events.Bus
	logger   *zap.Logger
}

// NewService constructs a Service with the provided config.
func NewService(cfg *Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dm, err := database.NewDBManager(cfg.toInternal(), logger)
	if err != nil {
		return nil, err
	}
	provider := embeddings.WrapToDims(
		embeddings.New(cfg.EmbeddingsProvider), dm.Config().EmbeddingDims, "")
	if provider != nil {
		logger.Info("embeddings provider configured",
			zap.String("provider", provider.Name()),
			zap.Int("dims", provider.Dimensions()))
	}
	return &Service{
		db:       dm,
		resolver: resolver.New(dm, logger),
		indexer:  index.New(dm, provider, logger, cfg.IndexQueueSize),
		bus:      events.NewBus(logger),
		logger:   logger,
	}, nil
}

// Close releases resources. The index queue is drained first so accepted
// mutations still reach the index.
func (s *Service) Close() error {
	s.indexer.Close()
	s.bus.Close()
	return s.db.Close()
}

// Subscribe registers a change-event subscriber. Events may be dropped for
// slow consumers; see events.Bus.
func (s *Service) Subscribe(buffer int) (<-chan apptype.ChangeEvent, func()) {
	return s.bus.Subscribe(buffer)
}

func (s *Service) publish(project, entityID string, version int64, kind string) {
	s.bus.Publish(apptype.ChangeEvent{
		Project:  project,
		EntityID: entityID,
		Version:  version,
		Kind:     kind,
		At:       time.Now().UTC(),
	})
}

// CreateEntity inserts a new versioned entity with its creation ledger record.
func (s *Service) CreateEntity(ctx context.Context, project string, draft apptype.EntityDraft, prov apptype.ProvenanceDraft) (*apptype.KnowledgeEntity, error) {
	entity, err := s.db.CreateEntity(ctx, project, draft, prov)
	if err != nil {
		return nil, err
	}
	s.indexer.EnqueueEntity(project, entity, true)
	s.publish(project, entity.ID, entity.Version, apptype.ChangeCreated)
	return entity, nil
}

// GetEntity fetches a live entity by id.
func (s *Service) GetEntity(ctx context.Context, project string, id string) (*apptype.KnowledgeEntity, error) {
	return s.db.GetEntity(ctx, project, id)
}

// GetEntities fetches live entities by id, silently skipping absent ones.
func (s *Service) GetEntities(ctx context.Context, project string, ids []string) ([]apptype.KnowledgeEntity, error) {
	return s.db.GetEntities(ctx, project, ids)
}

// Update applies a versioned update under the request's conflict strategy.
func (s *Service) Update(ctx context.Context, project string, req resolver.UpdateRequest) (*apptype.UpdateResult, error) {
	result, err := s.resolver.Apply(ctx, project, req)
	if err != nil {
		return nil, err
	}
	if len(result.Applied) > 0 && result.Entity != nil && result.Entity.Version > req.BaseVersion {
		kind := apptype.ChangeUpdated
		if len(result.Conflicts) > 0 || result.Entity.Version > req.BaseVersion+1 {
			kind = apptype.ChangeMerged
		}
		s.indexer.EnqueueEntity(project, result.Entity, true)
		s.publish(project, result.Entity.ID, result.Entity.Version, kind)
	}
	return result, nil
}

// Tombstone logically deletes an entity. The row and its ledger survive.
func (s *Service) Tombstone(ctx context.Context, project string, id string, actorID string) error {
	version, err := s.db.TombstoneEntity(ctx, project, id, actorID)
	if err != nil {
		return err
	}
	s.indexer.EnqueueRemoval(project, id)
	s.publish(project, id, version, apptype.ChangeTombstoned)
	return nil
}

// AppendProvenance attaches a standalone ledger record to an entity.
func (s *Service) AppendProvenance(ctx context.Context, project string, entityID string, draft apptype.ProvenanceDraft) (*apptype.ProvenanceRecord, error) {
	return s.db.AppendProvenance(ctx, project, entityID, draft)
}

// ListProvenance returns an entity's ledger, most recent first.
func (s *Service) ListProvenance(ctx context.Context, project string, entityID string, q database.ProvenanceQuery) ([]apptype.ProvenanceRecord, error) {
	return s.db.ListProvenance(ctx, project, entityID, q)
}

// SemanticSearch finds entities by vector similarity.
func (s *Service) SemanticSearch(ctx context.Context, project string, queryText string, embedding []float32, limit int, threshold float64) ([]apptype.SearchMatch, error) {
	return s.indexer.SemanticSearch(ctx, project, queryText, embedding, limit, threshold)
}

// TextSearch finds entities by lexical match.
func (s *Service) TextSearch(ctx context.Context, project string, query string, limit int) ([]apptype.SearchMatch, error) {
	return s.indexer.TextSearch(ctx, project, query, limit)
}

// RebuildIndex re-derives the search index from the entity store.
func (s *Service) RebuildIndex(ctx context.Context, project string) error {
	return s.indexer.Rebuild(ctx, project)
}

// CreateRelations links entities with typed directed edges.
func (s *Service) CreateRelations(ctx context.Context, project string, relations []apptype.Relation, actorID string) error {
	if err := s.db.CreateRelations(ctx, project, relations, actorID); err != nil {
		return err
	}
	for _, r := range relations {
		s.publish(project, r.From, 0, apptype.ChangeRelationCreated)
	}
	return nil
}

// DeleteRelation removes a specific edge.
func (s *Service) DeleteRelation(ctx context.Context, project string, source, target, relationType string) error {
	if err := s.db.DeleteRelation(ctx, project, source, target, relationType); err != nil {
		return err
	}
	s.publish(project, source, 0, apptype.ChangeRelationDeleted)
	return nil
}

// Neighbors returns directly connected entities.
func (s *Service) Neighbors(ctx context.Context, project string, ids []string, direction string, relationFilter []string, limit int) (*apptype.Subgraph, error) {
	return s.db.GetNeighbors(ctx, project, ids, direction, relationFilter, limit)
}

// Traverse walks the graph breadth-first from a start entity, bounded by
// depth.
func (s *Service) Traverse(ctx context.Context, project string, startID string, maxDepth int, relationFilter []string, direction string) (*apptype.Subgraph, error) {
	return s.db.Traverse(ctx, project, startID, maxDepth, relationFilter, direction)
}

// ReadGraph returns a recency-bounded snapshot of the graph.
func (s *Service) ReadGraph(ctx context.Context, project string, limit int) (*apptype.Subgraph, error) {
	return s.db.ReadGraph(ctx, project, limit)
}

// ListConflicts returns recorded conflicts, optionally filtered.
func (s *Service) ListConflicts(ctx context.Context, project string, entityID string, status string, limit int) ([]apptype.Conflict, error) {
	return s.db.ListConflicts(ctx, project, entityID, status, limit)
}

// ResolveConflict closes a pending conflict. Accepting applies the proposed
// value on top of the entity's current version; rejecting keeps the current
// state. Either way the conflict row survives with its final status.
func (s *Service) ResolveConflict(ctx context.Context, project string, conflictID string, accept bool, resolvedBy string, note string) (*apptype.Conflict, error) {
	conflict, err := s.db.GetConflict(ctx, project, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status != apptype.ConflictPending {
		return nil, errors.Newf("conflict %s already closed with status %q", conflictID, conflict.Status)
	}

	if !accept {
		return s.db.CloseConflict(ctx, project, conflictID, apptype.ConflictRejected, note, resolvedBy)
	}

	updates, err := conflictUpdates(conflict)
	if err != nil {
		return nil, err
	}
	entity, err := s.db.GetEntity(ctx, project, conflict.EntityID)
	if err != nil {
		return nil, err
	}
	prov := apptype.ProvenanceDraft{
		Source:  "conflict_resolution",
		ActorID: resolvedBy,
		Metadata: map[string]any{
			"conflictId": conflictID,
			"note":       note,
		},
	}
	updated, err := s.db.CompareAndSwap(ctx, project, conflict.EntityID, entity.Version, updates, prov)
	if err != nil {
		if kgerr.IsVersionConflict(err) {
			return nil, errors.Wrap(err, "entity changed while resolving, retry")
		}
		return nil, err
	}
	closed, err := s.db.CloseConflict(ctx, project, conflictID, apptype.ConflictResolved, note, resolvedBy)
	if err != nil {
		return nil, err
	}
	s.indexer.EnqueueEntity(project, updated, true)
	s.publish(project, updated.ID, updated.Version, apptype.ChangeUpdated)
	return closed, nil
}

// conflictUpdates reconstructs the update map a conflict row proposes.
func conflictUpdates(c *apptype.Conflict) (map[string]any, error) {
	if c.Field != apptype.WholeEntityField {
		return map[string]any{c.Field: c.ProposedValue}, nil
	}
	m, ok := c.ProposedValue.(map[string]any)
	if !ok {
		return nil, errors.Newf("conflict %s carries no applicable proposed update", c.ID)
	}
	return m, nil
}

// Config exposes the underlying store configuration.
func (s *Service) Config() *database.Config {
	return s.db.Config()
}

// PoolStats reports aggregate connection pool gauges.
func (s *Service) PoolStats() (inUse, idle int) {
	return s.db.PoolStats()
}

// Health pings the default project's database.
func (s *Service) Health(ctx context.Context, project string) error {
	_, err := s.db.GetRecentEntities(ctx, project, 1)
	return err
}
