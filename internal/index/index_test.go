package index_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/testutil"
)

func TestCreateAndGetPage(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)

	p, err := db.CreatePage(ctx, index.NewPage{Title: "Hello World", Content: testutil.Markdown("[React]")})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "hello-world", p.Slug)
	assert.NotEmpty(t, p.Checksum)

	got, err := db.GetPage(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Title, got.Title)
	assert.Equal(t, p.Checksum, got.Checksum)
	assert.JSONEq(t, string(p.Content), string(got.Content))
}

func TestCreatePage_DuplicateID(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)

	_, err := db.CreatePage(ctx, index.NewPage{ID: "p1", Title: "One"})
	require.NoError(t, err)
	_, err = db.CreatePage(ctx, index.NewPage{ID: "p1", Title: "Again"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestGetPage_NotFound(t *testing.T) {
	db := testutil.TestDB(t)
	_, err := db.GetPage(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSavePage_IfMatch(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	p, err := db.CreatePage(ctx, index.NewPage{Title: "Doc"})
	require.NoError(t, err)

	_, err = db.SavePage(ctx, p.ID, "", testutil.Markdown("new"), "stale")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	saved, err := db.SavePage(ctx, p.ID, "Renamed", testutil.Markdown("new"), p.Checksum)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", saved.Title)
	assert.Equal(t, "renamed", saved.Slug)
	assert.NotEqual(t, p.Checksum, saved.Checksum)
}

func TestDeletePage(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	p, err := db.CreatePage(ctx, index.NewPage{Title: "Gone"})
	require.NoError(t, err)

	require.NoError(t, db.DeletePage(ctx, p.ID))
	assert.ErrorIs(t, db.DeletePage(ctx, p.ID), apperr.ErrNotFound)
}

func TestListPages(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	for _, title := range []string{"a", "b", "c"} {
		_, err := db.CreatePage(ctx, index.NewPage{Title: title})
		require.NoError(t, err)
	}
	items, total, err := db.ListPages(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 2)
}

func TestPagesByIDs_OmitsMissing(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	p, err := db.CreatePage(ctx, index.NewPage{Title: "Here"})
	require.NoError(t, err)

	got, err := db.PagesByIDs(ctx, []string{p.ID, "gone", p.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p.ID, got[0].ID)
	assert.Nil(t, got[0].Content)

	none, err := db.PagesByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPageBySourcePath(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	p, err := db.CreatePage(ctx, index.NewPage{Title: "Vault", SourcePath: "notes/a.md", Content: doc.Empty()})
	require.NoError(t, err)

	got, err := db.PageBySourcePath(ctx, "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = db.PageBySourcePath(ctx, "notes/b.md")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTimestampsFollowClock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	db := testutil.TestDB(t, index.WithClock(func() time.Time { return now }))

	p, err := db.CreatePage(ctx, index.NewPage{Title: "Clocked"})
	require.NoError(t, err)
	assert.True(t, p.CreatedAt.Equal(now))
	assert.Equal(t, time.UTC, p.CreatedAt.Location())

	now = now.Add(time.Hour)
	saved, err := db.SavePage(ctx, p.ID, "", testutil.Markdown("[Later]"), "")
	require.NoError(t, err)
	assert.True(t, saved.UpdatedAt.Equal(now))
	assert.True(t, saved.CreatedAt.Before(saved.UpdatedAt))

	require.NoError(t, db.SyncPage(ctx, p.ID, testutil.Markdown("[Later]")))
	g, err := db.GroupByKey(ctx, "later")
	require.NoError(t, err)
	assert.True(t, g.CreatedAt.Equal(now))
}
