package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
)

func createWithVector(t *testing.T, dm *DBManager, id, content string, vec []float32) {
	t.Helper()
	_, err := dm.CreateEntity(context.Background(), "default", apptype.EntityDraft{
		ID:         id,
		Content:    content,
		EntityType: "fact",
		Embedding:  vec,
	}, apptype.ProvenanceDraft{})
	require.NoError(t, err)
}

func TestSearchSimilarRanksByCosine(t *testing.T) {
	dm := testManager(t, "search-cosine")
	ctx := context.Background()

	createWithVector(t, dm, "close", "near the query", []float32{1, 0, 0, 0})
	createWithVector(t, dm, "far", "orthogonal", []float32{0, 1, 0, 0})
	createWithVector(t, dm, "noembed", "no vector at all", nil)

	matches, err := dm.SearchSimilar(ctx, "default", []float32{1, 0, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "close", matches[0].Entity.ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "far", matches[1].Entity.ID)
}

func TestSearchSimilarThreshold(t *testing.T) {
	dm := testManager(t, "search-threshold")
	ctx := context.Background()

	createWithVector(t, dm, "close", "aligned", []float32{1, 0, 0, 0})
	createWithVector(t, dm, "far", "orthogonal", []float32{0, 1, 0, 0})

	matches, err := dm.SearchSimilar(ctx, "default", []float32{1, 0, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "close", matches[0].Entity.ID)
}

func TestSearchSimilarExcludesTombstoned(t *testing.T) {
	dm := testManager(t, "search-tombstone")
	ctx := context.Background()

	createWithVector(t, dm, "gone", "was here", []float32{1, 0, 0, 0})
	_, err := dm.TombstoneEntity(ctx, "default", "gone", "tester")
	require.NoError(t, err)

	matches, err := dm.SearchSimilar(ctx, "default", []float32{1, 0, 0, 0}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchSimilarValidation(t *testing.T) {
	dm := testManager(t, "search-valid")

	_, err := dm.SearchSimilar(context.Background(), "default", nil, 10, 0)
	require.Error(t, err)

	_, err = dm.SearchSimilar(context.Background(), "default", []float32{1, 2}, 10, 0)
	require.Error(t, err)
}

// indexEntity mimics the async indexer, which owns all FTS writes.
func indexEntity(t *testing.T, dm *DBManager, id, entityType, content string) {
	t.Helper()
	if !dm.capsFor("default").fts5 {
		return
	}
	require.NoError(t, dm.UpsertFTS(context.Background(), "default", id, entityType, content))
}

func TestSearchText(t *testing.T) {
	dm := testManager(t, "search-text")
	ctx := context.Background()

	mustCreate(t, dm, "a", "the mitochondria is the powerhouse of the cell")
	mustCreate(t, dm, "b", "unrelated note about compilers")
	indexEntity(t, dm, "a", "fact", "the mitochondria is the powerhouse of the cell")
	indexEntity(t, dm, "b", "fact", "unrelated note about compilers")

	matches, err := dm.SearchText(ctx, "default", "mitochondria", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Entity.ID)
}

func TestSearchTextExcludesTombstoned(t *testing.T) {
	dm := testManager(t, "search-text-tomb")
	ctx := context.Background()

	mustCreate(t, dm, "a", "findable words")
	indexEntity(t, dm, "a", "fact", "findable words")
	_, err := dm.TombstoneEntity(ctx, "default", "a", "tester")
	require.NoError(t, err)

	// Even with a stale index row, the tombstoned entity stays hidden.
	matches, err := dm.SearchText(ctx, "default", "findable", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSetEmbeddingKeepsVersion(t *testing.T) {
	dm := testManager(t, "set-embedding")
	ctx := context.Background()

	mustCreate(t, dm, "e1", "content")
	require.NoError(t, dm.SetEmbedding(ctx, "default", "e1", []float32{1, 2, 3, 4}))

	entity, err := dm.GetEntity(ctx, "default", "e1")
	require.NoError(t, err)
	// Index maintenance is not a knowledge mutation.
	assert.Equal(t, int64(1), entity.Version)
	assert.Equal(t, []float32{1, 2, 3, 4}, entity.Embedding)

	// And it leaves no ledger record.
	records, err := dm.ListProvenance(ctx, "default", "e1", ProvenanceQuery{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestForEachEntityDoc(t *testing.T) {
	dm := testManager(t, "foreach-doc")
	ctx := context.Background()

	createWithVector(t, dm, "withvec", "has a vector", []float32{1, 0, 0, 0})
	mustCreate(t, dm, "novec", "plain")
	_, err := dm.TombstoneEntity(ctx, "default", "novec", "tester")
	require.NoError(t, err)
	mustCreate(t, dm, "live", "still here")

	seen := map[string]bool{}
	err = dm.ForEachEntityDoc(ctx, "default", func(doc EntityDoc) error {
		seen[doc.ID] = doc.HasVector
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"withvec": true, "live": false}, seen)
}

func TestFTSQuoteQuery(t *testing.T) {
	assert.Equal(t, `"hello" "world"`, ftsQuoteQuery("hello world"))
	assert.Equal(t, `"a""b"`, ftsQuoteQuery(`a"b`))
	assert.Equal(t, `"NEAR"`, ftsQuoteQuery("NEAR"))
}
