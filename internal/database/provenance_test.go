package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
)

func TestAppendProvenanceStandalone(t *testing.T) {
	dm := testManager(t, "prov-standalone")
	ctx := context.Background()

	mustCreate(t, dm, "e1", "content")
	record, err := dm.AppendProvenance(ctx, "default", "e1", apptype.ProvenanceDraft{
		Source:   "citation",
		Evidence: "https://example.com/paper",
		ActorID:  "curator",
	})
	require.NoError(t, err)
	assert.Equal(t, "citation", record.Source)
	// A standalone record documents the current version without bumping it.
	assert.Equal(t, int64(1), record.EntityVersion)

	entity, err := dm.GetEntity(ctx, "default", "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entity.Version)
}

func TestAppendProvenanceMissingEntity(t *testing.T) {
	dm := testManager(t, "prov-missing")

	_, err := dm.AppendProvenance(context.Background(), "default", "ghost", apptype.ProvenanceDraft{Source: "x"})
	assert.True(t, kgerr.IsNotFound(err))
}

func TestListProvenanceOrderAndPaging(t *testing.T) {
	dm := testManager(t, "prov-paging")
	ctx := context.Background()

	mustCreate(t, dm, "e1", "v1")
	for i := 0; i < 3; i++ {
		entity, err := dm.GetEntity(ctx, "default", "e1")
		require.NoError(t, err)
		_, err = dm.CompareAndSwap(ctx, "default", "e1", entity.Version,
			map[string]any{"content": "rev"}, apptype.ProvenanceDraft{Source: "update"})
		require.NoError(t, err)
	}

	// Most recent first.
	records, err := dm.ListProvenance(ctx, "default", "e1", ProvenanceQuery{})
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, int64(4), records[0].EntityVersion)
	assert.Equal(t, int64(1), records[3].EntityVersion)

	page, err := dm.ListProvenance(ctx, "default", "e1", ProvenanceQuery{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].EntityVersion)
	assert.Equal(t, int64(2), page[1].EntityVersion)
}

func TestListProvenanceSourceFilter(t *testing.T) {
	dm := testManager(t, "prov-source")
	ctx := context.Background()

	mustCreate(t, dm, "e1", "c")
	_, err := dm.AppendProvenance(ctx, "default", "e1", apptype.ProvenanceDraft{Source: "citation"})
	require.NoError(t, err)

	records, err := dm.ListProvenance(ctx, "default", "e1", ProvenanceQuery{Source: "citation"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "citation", records[0].Source)
}

func TestListProvenanceDirectionFilter(t *testing.T) {
	dm := testManager(t, "prov-direction")
	ctx := context.Background()

	mustCreate(t, dm, "a", "source entity")
	mustCreate(t, dm, "b", "target entity")
	require.NoError(t, dm.CreateRelations(ctx, "default",
		[]apptype.Relation{{From: "a", To: "b", RelationType: "cites"}}, "tester"))

	out, err := dm.ListProvenance(ctx, "default", "a", ProvenanceQuery{Direction: "out"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "relation", out[0].Source)
	assert.Equal(t, "out", out[0].Metadata["direction"])

	in, err := dm.ListProvenance(ctx, "default", "b", ProvenanceQuery{Direction: "in"})
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "in", in[0].Metadata["direction"])

	_, err = dm.ListProvenance(ctx, "default", "a", ProvenanceQuery{Direction: "sideways"})
	require.Error(t, err)
}

func TestFieldsChangedSince(t *testing.T) {
	dm := testManager(t, "prov-changed")
	ctx := context.Background()

	mustCreate(t, dm, "e1", "c")
	_, err := dm.CompareAndSwap(ctx, "default", "e1", 1,
		map[string]any{"content": "x"}, apptype.ProvenanceDraft{})
	require.NoError(t, err)
	_, err = dm.CompareAndSwap(ctx, "default", "e1", 2,
		map[string]any{"metadata.tag": "y"}, apptype.ProvenanceDraft{})
	require.NoError(t, err)

	// Everything since creation.
	changed, err := dm.FieldsChangedSince(ctx, "default", "e1", 1)
	require.NoError(t, err)
	assert.Contains(t, changed, "content")
	assert.Contains(t, changed, "metadata.tag")

	// Only the second mutation.
	changed, err = dm.FieldsChangedSince(ctx, "default", "e1", 2)
	require.NoError(t, err)
	assert.NotContains(t, changed, "content")
	assert.Contains(t, changed, "metadata.tag")

	// Nothing after the latest version.
	changed, err = dm.FieldsChangedSince(ctx, "default", "e1", 3)
	require.NoError(t, err)
	assert.Empty(t, changed)
}
