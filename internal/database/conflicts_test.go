package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/kgerr"
)

func TestInsertAndListConflicts(t *testing.T) {
	dm := testManager(t, "conflicts-basic")
	ctx := context.Background()

	mustCreate(t, dm, "e1", "c")
	inserted, err := dm.InsertConflicts(ctx, "default", []apptype.Conflict{
		{EntityID: "e1", Field: "content", ProposedValue: "competing"},
		{EntityID: "e1", Field: "metadata.tag", ProposedValue: 42},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.NotEmpty(t, inserted[0].ID)
	assert.Equal(t, apptype.ConflictPending, inserted[0].Status)

	conflicts, err := dm.ListConflicts(ctx, "default", "e1", apptype.ConflictPending, 0)
	require.NoError(t, err)
	assert.Len(t, conflicts, 2)

	none, err := dm.ListConflicts(ctx, "default", "other", "", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConflictProposedValueRoundTrip(t *testing.T) {
	dm := testManager(t, "conflicts-value")
	ctx := context.Background()

	mustCreate(t, dm, "e1", "c")
	inserted, err := dm.InsertConflicts(ctx, "default", []apptype.Conflict{
		{EntityID: "e1", Field: "metadata", ProposedValue: map[string]any{"k": "v"}},
	})
	require.NoError(t, err)

	got, err := dm.GetConflict(ctx, "default", inserted[0].ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, got.ProposedValue)
}

func TestCloseConflict(t *testing.T) {
	dm := testManager(t, "conflicts-close")
	ctx := context.Background()

	mustCreate(t, dm, "e1", "c")
	inserted, err := dm.InsertConflicts(ctx, "default", []apptype.Conflict{
		{EntityID: "e1", Field: "content", ProposedValue: "x"},
	})
	require.NoError(t, err)
	id := inserted[0].ID

	closed, err := dm.CloseConflict(ctx, "default", id, apptype.ConflictRejected, "kept current", "reviewer")
	require.NoError(t, err)
	assert.Equal(t, apptype.ConflictRejected, closed.Status)
	assert.Equal(t, "kept current", closed.ResolutionNote)
	assert.Equal(t, "reviewer", closed.ResolvedBy)
	require.NotNil(t, closed.ResolvedAt)

	// Closing is a one-way transition; the row survives for audit.
	_, err = dm.CloseConflict(ctx, "default", id, apptype.ConflictResolved, "", "reviewer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already closed")

	still, err := dm.GetConflict(ctx, "default", id)
	require.NoError(t, err)
	assert.Equal(t, apptype.ConflictRejected, still.Status)
}

func TestCloseConflictValidation(t *testing.T) {
	dm := testManager(t, "conflicts-valid")
	ctx := context.Background()

	_, err := dm.CloseConflict(ctx, "default", "any", "pending", "", "")
	require.Error(t, err)

	_, err = dm.CloseConflict(ctx, "default", "ghost", apptype.ConflictResolved, "", "")
	assert.True(t, kgerr.IsNotFound(err))
}
