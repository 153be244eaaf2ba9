package index

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/embeddings"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
)

const (
	defaultQueueSize = 256
	taskTimeout      = 30 * time.Second
)

type taskKind int

const (
	taskUpsert taskKind = iota
	taskDelete
)

type task struct {
	kind       taskKind
	project    string
	entityID   string
	entityType string
	content    string
	embed      bool
}

// Indexer keeps the lexical and vector indexes in sync with the entity store.
// All maintenance is asynchronous through a bounded queue: index staleness or
// failure degrades search, never writes. When the queue is full tasks are
// dropped; Rebuild restores a consistent index from the store.
type Indexer struct {
	db       *database.DBManager
	provider embeddings.Provider
	logger   *zap.Logger

	queue chan task
	wg    sync.WaitGroup

	closeOnce sync.Once
}

func New(db *database.DBManager, provider embeddings.Provider, logger *zap.Logger, queueSize int) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	idx := &Indexer{
		db:       db,
		provider: provider,
		logger:   logger,
		queue:    make(chan task, queueSize),
	}
	idx.wg.Add(1)
	go idx.run()
	return idx
}

func (idx *Indexer) run() {
	defer idx.wg.Done()
	for t := range idx.queue {
		metrics.Default().ObserveIndexQueueDepth(len(idx.queue))
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		err := idx.process(ctx, t)
		cancel()
		kind := "upsert"
		if t.kind == taskDelete {
			kind = "delete"
		}
		metrics.Default().IncIndexTask(kind, err == nil)
		if err != nil && !kgerr.IsIndexUnavailable(err) {
			idx.logger.Warn("index task failed",
				zap.String("kind", kind),
				zap.String("project", t.project),
				zap.String("entity", t.entityID),
				zap.Error(err))
		}
	}
}

func (idx *Indexer) process(ctx context.Context, t task) error {
	if t.kind == taskDelete {
		return idx.db.DeleteFTS(ctx, t.project, t.entityID)
	}
	if err := idx.db.UpsertFTS(ctx, t.project, t.entityID, t.entityType, t.content); err != nil && !kgerr.IsIndexUnavailable(err) {
		return err
	}
	if t.embed && idx.provider != nil && t.content != "" {
		vecs, err := idx.provider.Embed(ctx, []string{t.content})
		if err != nil {
			return errors.Wrap(err, "embedding backfill failed")
		}
		if len(vecs) == 1 {
			if err := idx.db.SetEmbedding(ctx, t.project, t.entityID, vecs[0]); err != nil && !kgerr.IsNotFound(err) {
				return err
			}
		}
	}
	return nil
}

// EnqueueEntity schedules index maintenance after an accepted mutation.
// Best-effort: a full queue drops the task rather than delaying the caller.
// embed requests vector backfill when the entity carries no embedding.
func (idx *Indexer) EnqueueEntity(project string, e *apptype.KnowledgeEntity, embed bool) {
	idx.enqueue(task{
		kind:       taskUpsert,
		project:    project,
		entityID:   e.ID,
		entityType: e.EntityType,
		content:    e.Content,
		embed:      embed && len(e.Embedding) == 0,
	})
}

// EnqueueRemoval schedules removal of a tombstoned entity from the indexes.
func (idx *Indexer) EnqueueRemoval(project string, entityID string) {
	idx.enqueue(task{kind: taskDelete, project: project, entityID: entityID})
}

func (idx *Indexer) enqueue(t task) {
	select {
	case idx.queue <- t:
		metrics.Default().ObserveIndexQueueDepth(len(idx.queue))
	default:
		metrics.Default().IncIndexTask("dropped", false)
		idx.logger.Warn("index queue full, task dropped",
			zap.String("project", t.project),
			zap.String("entity", t.entityID))
	}
}

// Rebuild re-derives the lexical index (and missing embeddings) for every
// live entity, synchronously. Safe to run while writes continue: later
// queued tasks re-apply on top.
func (idx *Indexer) Rebuild(ctx context.Context, project string) error {
	count := 0
	err := idx.db.ForEachEntityDoc(ctx, project, func(doc database.EntityDoc) error {
		if err := idx.db.UpsertFTS(ctx, project, doc.ID, doc.EntityType, doc.Content); err != nil && !kgerr.IsIndexUnavailable(err) {
			return err
		}
		if idx.provider != nil && !doc.HasVector && doc.Content != "" {
			vecs, err := idx.provider.Embed(ctx, []string{doc.Content})
			if err != nil {
				idx.logger.Warn("embedding backfill failed during rebuild",
					zap.String("entity", doc.ID), zap.Error(err))
			} else if len(vecs) == 1 {
				if err := idx.db.SetEmbedding(ctx, project, doc.ID, vecs[0]); err != nil && !kgerr.IsNotFound(err) {
					return err
				}
			}
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}
	idx.logger.Info("search index rebuilt", zap.String("project", project), zap.Int("entities", count))
	return nil
}

// SemanticSearch runs a vector query. When the caller supplies no vector but
// a provider is configured, the query text is embedded first.
func (idx *Indexer) SemanticSearch(ctx context.Context, project string, queryText string, embedding []float32, limit int, threshold float64) ([]apptype.SearchMatch, error) {
	if len(embedding) == 0 {
		if idx.provider == nil || queryText == "" {
			return nil, errors.Mark(
				errors.New("semantic search requires an embedding or a configured provider"),
				kgerr.ErrIndexUnavailable)
		}
		vecs, err := idx.provider.Embed(ctx, []string{queryText})
		if err != nil {
			return nil, errors.Wrap(err, "failed to embed query")
		}
		if len(vecs) != 1 {
			return nil, errors.New("provider returned no query embedding")
		}
		embedding = vecs[0]
	}
	return idx.db.SearchSimilar(ctx, project, embedding, limit, threshold)
}

// TextSearch runs a lexical query against the FTS index (or its fallback).
func (idx *Indexer) TextSearch(ctx context.Context, project string, query string, limit int) ([]apptype.SearchMatch, error) {
	return idx.db.SearchText(ctx, project, query, limit)
}

// Close drains and stops the worker. Queued tasks are processed before
// shutdown completes.
func (idx *Indexer) Close() {
	idx.closeOnce.Do(func() {
		close(idx.queue)
	})
	idx.wg.Wait()
}
