package index_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/testutil"
)

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	logger := slog.New(slog.DiscardHandler)

	// Saved but never synced.
	stale, err := db.CreatePage(ctx, index.NewPage{Title: "Stale", Content: testutil.Markdown("[React] #go")})
	require.NoError(t, err)

	// Synced, then deleted without cleanup.
	require.NoError(t, db.SyncPage(ctx, "ghost", testutil.Markdown("[React]")))

	// Resolved to a page deleted without MarkTargetDeleted.
	target, err := db.CreatePage(ctx, index.NewPage{Title: "Vue"})
	require.NoError(t, err)
	_, err = db.EnsureGroup(ctx, "vue", "Vue")
	require.NoError(t, err)
	_, err = db.ConnectGroupToPage(ctx, "vue", target.ID)
	require.NoError(t, err)
	require.NoError(t, db.DeletePage(ctx, target.ID))

	report, err := db.Reconcile(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resynced)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Orphans)
	assert.Equal(t, 1, report.Dangling)

	occ, err := db.OccurrencesForPage(ctx, stale.ID)
	require.NoError(t, err)
	assert.Len(t, occ, 2)

	groups, err := db.GroupsByKeys(ctx, []string{"react", "vue"})
	require.NoError(t, err)
	assert.Equal(t, 1, groups["react"].LinkCount)
	assert.Equal(t, models.Dangling(target.ID), groups["vue"].Resolution)

	// A second pass finds nothing to do.
	report, err = db.Reconcile(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, index.ReconcileReport{}, report)
}
