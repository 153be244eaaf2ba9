package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
)

func seedChain(t *testing.T, dm *DBManager, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		mustCreate(t, dm, id, "node "+id)
	}
	relations := make([]apptype.Relation, 0, len(ids)-1)
	for i := 0; i+1 < len(ids); i++ {
		relations = append(relations, apptype.Relation{From: ids[i], To: ids[i+1], RelationType: "next"})
	}
	require.NoError(t, dm.CreateRelations(ctx, "default", relations, "tester"))
}

func TestCreateRelationsRequiresEndpoints(t *testing.T) {
	dm := testManager(t, "rel-endpoints")
	ctx := context.Background()

	mustCreate(t, dm, "a", "a")
	err := dm.CreateRelations(ctx, "default",
		[]apptype.Relation{{From: "a", To: "ghost", RelationType: "cites"}}, "tester")
	require.Error(t, err)
	assert.True(t, kgerr.IsNotFound(err))

	// Tombstoned endpoints count as absent.
	mustCreate(t, dm, "b", "b")
	_, err = dm.TombstoneEntity(ctx, "default", "b", "tester")
	require.NoError(t, err)
	err = dm.CreateRelations(ctx, "default",
		[]apptype.Relation{{From: "a", To: "b", RelationType: "cites"}}, "tester")
	assert.True(t, kgerr.IsNotFound(err))
}

func TestDeleteRelation(t *testing.T) {
	dm := testManager(t, "rel-delete")
	ctx := context.Background()

	seedChain(t, dm, "a", "b")
	require.NoError(t, dm.DeleteRelation(ctx, "default", "a", "b", "next"))

	err := dm.DeleteRelation(ctx, "default", "a", "b", "next")
	assert.True(t, kgerr.IsNotFound(err))
}

func TestGetNeighborsDirection(t *testing.T) {
	dm := testManager(t, "neighbors-dir")
	ctx := context.Background()

	seedChain(t, dm, "a", "b", "c")

	out, err := dm.GetNeighbors(ctx, "default", []string{"b"}, "out", nil, 0)
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
	assert.Equal(t, "c", out.Entities[0].ID)

	in, err := dm.GetNeighbors(ctx, "default", []string{"b"}, "in", nil, 0)
	require.NoError(t, err)
	require.Len(t, in.Entities, 1)
	assert.Equal(t, "a", in.Entities[0].ID)

	both, err := dm.GetNeighbors(ctx, "default", []string{"b"}, "both", nil, 0)
	require.NoError(t, err)
	assert.Len(t, both.Entities, 2)

	_, err = dm.GetNeighbors(ctx, "default", []string{"b"}, "diagonal", nil, 0)
	require.Error(t, err)
}

func TestGetNeighborsRelationFilter(t *testing.T) {
	dm := testManager(t, "neighbors-filter")
	ctx := context.Background()

	mustCreate(t, dm, "a", "a")
	mustCreate(t, dm, "b", "b")
	mustCreate(t, dm, "c", "c")
	require.NoError(t, dm.CreateRelations(ctx, "default", []apptype.Relation{
		{From: "a", To: "b", RelationType: "cites"},
		{From: "a", To: "c", RelationType: "contradicts"},
	}, "tester"))

	sub, err := dm.GetNeighbors(ctx, "default", []string{"a"}, "out", []string{"cites"}, 0)
	require.NoError(t, err)
	require.Len(t, sub.Entities, 1)
	assert.Equal(t, "b", sub.Entities[0].ID)
}

func TestTraverseDepthBound(t *testing.T) {
	dm := testManager(t, "traverse-depth")
	ctx := context.Background()

	seedChain(t, dm, "a", "b", "c", "d")

	sub, err := dm.Traverse(ctx, "default", "a", 2, nil, "out")
	require.NoError(t, err)
	ids := entityIDs(sub.Entities)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
	assert.Len(t, sub.Relations, 2)
}

func TestTraverseClampsDepth(t *testing.T) {
	dm := testManager(t, "traverse-clamp")
	ctx := context.Background()

	// Chain longer than the hard depth ceiling.
	seedChain(t, dm, "n0", "n1", "n2", "n3", "n4", "n5", "n6", "n7")

	sub, err := dm.Traverse(ctx, "default", "n0", 100, nil, "out")
	require.NoError(t, err)
	// Start node plus maxTraversalDepth hops.
	assert.Len(t, sub.Entities, maxTraversalDepth+1)
}

func TestTraverseHandlesCycles(t *testing.T) {
	dm := testManager(t, "traverse-cycle")
	ctx := context.Background()

	mustCreate(t, dm, "a", "a")
	mustCreate(t, dm, "b", "b")
	require.NoError(t, dm.CreateRelations(ctx, "default", []apptype.Relation{
		{From: "a", To: "b", RelationType: "next"},
		{From: "b", To: "a", RelationType: "next"},
	}, "tester"))

	sub, err := dm.Traverse(ctx, "default", "a", 5, nil, "both")
	require.NoError(t, err)
	assert.Len(t, sub.Entities, 2)
}

func TestTraverseSkipsTombstonedEndpoints(t *testing.T) {
	dm := testManager(t, "traverse-tombstone")
	ctx := context.Background()

	seedChain(t, dm, "a", "b", "c")
	_, err := dm.TombstoneEntity(ctx, "default", "b", "tester")
	require.NoError(t, err)

	// The dangling edge is skipped, cutting off the rest of the chain.
	sub, err := dm.Traverse(ctx, "default", "a", 5, nil, "out")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, entityIDs(sub.Entities))
	assert.Empty(t, sub.Relations)
}

func TestTraverseMissingStart(t *testing.T) {
	dm := testManager(t, "traverse-missing")

	_, err := dm.Traverse(context.Background(), "default", "ghost", 3, nil, "both")
	assert.True(t, kgerr.IsNotFound(err))
}

func TestReadGraph(t *testing.T) {
	dm := testManager(t, "read-graph")
	ctx := context.Background()

	seedChain(t, dm, "a", "b", "c")

	sub, err := dm.ReadGraph(ctx, "default", 10)
	require.NoError(t, err)
	assert.Len(t, sub.Entities, 3)
	assert.Len(t, sub.Relations, 2)

	// A snapshot bounded below the graph size keeps only inside edges.
	sub, err = dm.ReadGraph(ctx, "default", 1)
	require.NoError(t, err)
	assert.Len(t, sub.Entities, 1)
	assert.Empty(t, sub.Relations)
}

func entityIDs(entities []apptype.KnowledgeEntity) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}
