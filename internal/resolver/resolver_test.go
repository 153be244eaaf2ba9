package resolver

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
)

func testResolver(t *testing.T, name string) (*Resolver, *database.DBManager) {
	t.Helper()
	cfg := &database.Config{
		URL:           fmt.Sprintf("file:resolver-%s?mode=memory&cache=shared", name),
		EmbeddingDims: 4,
	}
	dm, err := database.NewDBManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return New(dm, zap.NewNop()), dm
}

func seedEntity(t *testing.T, dm *database.DBManager, id string, metadata map[string]any) {
	t.Helper()
	_, err := dm.CreateEntity(context.Background(), "default", apptype.EntityDraft{
		ID:         id,
		Content:    "original content",
		EntityType: "fact",
		Metadata:   metadata,
	}, apptype.ProvenanceDraft{Source: "create"})
	require.NoError(t, err)
}

// advance applies one update at the current version, simulating another
// writer landing first.
func advance(t *testing.T, dm *database.DBManager, id string, updates map[string]any) {
	t.Helper()
	ctx := context.Background()
	entity, err := dm.GetEntity(ctx, "default", id)
	require.NoError(t, err)
	_, err = dm.CompareAndSwap(ctx, "default", id, entity.Version, updates,
		apptype.ProvenanceDraft{Source: "update", ActorID: "other-writer"})
	require.NoError(t, err)
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]Strategy{
		"":            StrategyMerge,
		"merge":       StrategyMerge,
		"latest_wins": StrategyLatestWins,
		"first-wins":  StrategyFirstWins,
		"strict":      StrategyStrict,
	} {
		got, err := ParseStrategy(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseStrategy("newest")
	require.Error(t, err)
}

func TestApplyFastPath(t *testing.T) {
	r, dm := testResolver(t, "fastpath")
	seedEntity(t, dm, "e1", nil)

	result, err := r.Apply(context.Background(), "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
		Updates:     map[string]any{"content": "fresh update"},
		Strategy:    StrategyStrict,
		ActorID:     "writer",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Entity.Version)
	assert.Equal(t, []string{"content"}, result.Applied)
	assert.Empty(t, result.Conflicts)
}

func TestStrictRejectsStaleBase(t *testing.T) {
	r, dm := testResolver(t, "strict")
	seedEntity(t, dm, "e1", nil)
	advance(t, dm, "e1", map[string]any{"content": "winner"})

	_, err := r.Apply(context.Background(), "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
		Updates:     map[string]any{"content": "loser"},
		Strategy:    StrategyStrict,
	})
	require.Error(t, err)

	var vc *kgerr.VersionConflictError
	require.ErrorAs(t, err, &vc)
	assert.Equal(t, int64(2), vc.CurrentVersion)
	assert.Equal(t, "winner", vc.Current.Content)
}

func TestFirstWinsDiscardsStaleUpdate(t *testing.T) {
	r, dm := testResolver(t, "firstwins")
	ctx := context.Background()
	seedEntity(t, dm, "e1", nil)
	advance(t, dm, "e1", map[string]any{"content": "first writer"})

	result, err := r.Apply(ctx, "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
		Updates:     map[string]any{"content": "late writer"},
		Strategy:    StrategyFirstWins,
		ActorID:     "late",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Equal(t, "first writer", result.Entity.Content)
	assert.Equal(t, int64(2), result.Entity.Version)

	// The discard is auditable as an already-resolved conflict.
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, apptype.WholeEntityField, result.Conflicts[0].Field)
	assert.Equal(t, apptype.ConflictResolved, result.Conflicts[0].Status)
	assert.Equal(t, "first_wins: earlier write retained", result.Conflicts[0].ResolutionNote)

	entity, err := dm.GetEntity(ctx, "default", "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entity.Version)
}

func TestLatestWinsKeepsCommittedState(t *testing.T) {
	r, dm := testResolver(t, "latestwins")
	ctx := context.Background()
	seedEntity(t, dm, "e1", nil)
	advance(t, dm, "e1", map[string]any{"content": "first writer"})

	before, err := dm.GetEntity(ctx, "default", "e1")
	require.NoError(t, err)

	// The committed write is the latest; the stale proposal loses.
	result, err := r.Apply(ctx, "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
		Updates:     map[string]any{"content": "late writer"},
		Strategy:    StrategyLatestWins,
		ActorID:     "late",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Equal(t, "first writer", result.Entity.Content)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, apptype.WholeEntityField, result.Conflicts[0].Field)
	assert.Equal(t, apptype.ConflictResolved, result.Conflicts[0].Status)
	assert.Equal(t, "latest_wins: proposed update discarded", result.Conflicts[0].ResolutionNote)

	// Visible state after the call equals the state before it.
	after, err := dm.GetEntity(ctx, "default", "e1")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Content, after.Content)

	// And the discarded write leaves no ledger record.
	records, err := dm.ListProvenance(ctx, "default", "e1", database.ProvenanceQuery{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestMergeAppliesUncontendedFields(t *testing.T) {
	r, dm := testResolver(t, "merge-clean")
	ctx := context.Background()
	seedEntity(t, dm, "e1", map[string]any{"tag": "old"})
	advance(t, dm, "e1", map[string]any{"content": "other writer"})

	// content is contended; metadata.tag is not.
	result, err := r.Apply(ctx, "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
		Updates: map[string]any{
			"content":      "my version",
			"metadata.tag": "new",
		},
		Strategy: StrategyMerge,
		ActorID:  "merger",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"metadata.tag"}, result.Applied)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "content", result.Conflicts[0].Field)
	assert.Equal(t, apptype.ConflictPending, result.Conflicts[0].Status)
	assert.Equal(t, "my version", result.Conflicts[0].ProposedValue)

	// The contended field kept the other writer's value.
	entity, err := dm.GetEntity(ctx, "default", "e1")
	require.NoError(t, err)
	assert.Equal(t, "other writer", entity.Content)
	assert.Equal(t, "new", entity.Metadata["tag"])
	assert.Equal(t, int64(3), entity.Version)
}

func TestMergeAllFieldsContended(t *testing.T) {
	r, dm := testResolver(t, "merge-allcont")
	ctx := context.Background()
	seedEntity(t, dm, "e1", nil)
	advance(t, dm, "e1", map[string]any{"content": "other writer"})

	result, err := r.Apply(ctx, "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
		Updates:     map[string]any{"content": "my version"},
		Strategy:    StrategyMerge,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	require.Len(t, result.Conflicts, 1)
	// No mutation happened: version is unchanged.
	assert.Equal(t, int64(2), result.Entity.Version)
}

func TestMergeEqualValueIsSatisfied(t *testing.T) {
	r, dm := testResolver(t, "merge-equal")
	ctx := context.Background()
	seedEntity(t, dm, "e1", nil)
	advance(t, dm, "e1", map[string]any{"content": "same text"})

	// Proposing the value the entity already holds is not a conflict.
	result, err := r.Apply(ctx, "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
		Updates:     map[string]any{"content": "same text"},
		Strategy:    StrategyMerge,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"content"}, result.Applied)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, int64(2), result.Entity.Version)
}

func TestMergeMetadataKeyGranularity(t *testing.T) {
	r, dm := testResolver(t, "merge-metakey")
	ctx := context.Background()
	seedEntity(t, dm, "e1", map[string]any{"a": "1", "b": "2"})
	advance(t, dm, "e1", map[string]any{"metadata.a": "other"})

	// Different metadata keys do not contend with each other.
	result, err := r.Apply(ctx, "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
		Updates:     map[string]any{"metadata.b": "mine"},
		Strategy:    StrategyMerge,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"metadata.b"}, result.Applied)
	assert.Empty(t, result.Conflicts)

	// But a whole-metadata write does contend with a per-key write.
	result, err = r.Apply(ctx, "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
		Updates:     map[string]any{"metadata": map[string]any{"c": "3"}},
		Strategy:    StrategyMerge,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "metadata", result.Conflicts[0].Field)
}

func TestMergeLostRaceRecordsConflictsOnce(t *testing.T) {
	r, dm := testResolver(t, "merge-race")
	ctx := context.Background()
	seedEntity(t, dm, "e1", nil)
	advance(t, dm, "e1", map[string]any{"content": "other writer"})

	// Capture a real stale-write conflict at version 2.
	_, err := dm.CompareAndSwap(ctx, "default", "e1", 1,
		map[string]any{"content": "my version"},
		apptype.ProvenanceDraft{Source: "update"})
	var vc *kgerr.VersionConflictError
	require.ErrorAs(t, err, &vc)
	require.Equal(t, int64(2), vc.CurrentVersion)

	// A third writer lands before the merge retries, so the first CAS
	// attempt inside the loop loses and contention is recomputed.
	advance(t, dm, "e1", map[string]any{"entityType": "claim"})

	req := UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
		Updates:     map[string]any{"content": "my version", "metadata.tag": "mine"},
		Strategy:    StrategyMerge,
	}
	result, err := r.applyMerge(ctx, "default", req, req.Updates, vc)
	require.NoError(t, err)
	assert.Equal(t, []string{"metadata.tag"}, result.Applied)
	assert.Equal(t, int64(4), result.Entity.Version)
	require.Len(t, result.Conflicts, 1)

	// The abandoned first attempt left no rows: exactly one pending
	// conflict exists for the contended field.
	pending, err := dm.ListConflicts(ctx, "default", "e1", apptype.ConflictPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "content", pending[0].Field)
}

func TestMergeWholeEntityMarkerContendsEverything(t *testing.T) {
	r, dm := testResolver(t, "merge-star")
	ctx := context.Background()

	// Creation writes a whole-entity marker; base version 0 predates it.
	seedEntity(t, dm, "e1", nil)

	result, err := r.Apply(ctx, "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 0,
		Updates:     map[string]any{"entityType": "claim"},
		Strategy:    StrategyMerge,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	require.Len(t, result.Conflicts, 1)
}

func TestApplyValidation(t *testing.T) {
	r, dm := testResolver(t, "validation")
	seedEntity(t, dm, "e1", nil)

	_, err := r.Apply(context.Background(), "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
	})
	require.Error(t, err)

	_, err = r.Apply(context.Background(), "default", UpdateRequest{
		EntityID:    "e1",
		BaseVersion: 1,
		Updates:     map[string]any{"bogus": 1},
	})
	require.Error(t, err)

	_, err = r.Apply(context.Background(), "default", UpdateRequest{
		EntityID:    "ghost",
		BaseVersion: 1,
		Updates:     map[string]any{"content": "x"},
	})
	assert.True(t, kgerr.IsNotFound(err))
}
