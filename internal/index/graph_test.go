package index_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/links"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/testutil"
)

func annotationIDs(occ []models.LinkOccurrence) []string {
	out := make([]string, len(occ))
	for i, o := range occ {
		out[i] = o.AnnotationID
	}
	return out
}

func TestSyncPage_ReplacesOccurrences(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)

	require.NoError(t, db.SyncPage(ctx, "p1", testutil.Markdown("[React] and [Vue]")))
	occ, err := db.OccurrencesForPage(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mark-1", "mark-2"}, annotationIDs(occ))

	// Vue removed, Svelte added.
	require.NoError(t, db.SyncPage(ctx, "p1", doc.New(doc.Paragraph(
		testutil.Ref("React", "r1"), doc.Text(" "), testutil.Ref("Svelte", "s1"),
	))))
	occ, err = db.OccurrencesForPage(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "s1"}, annotationIDs(occ))
	assert.Equal(t, 0, occ[0].Position)
	assert.Equal(t, 1, occ[1].Position)

	groups, err := db.GroupsByKeys(ctx, []string{"react", "vue", "svelte"})
	require.NoError(t, err)
	require.Len(t, groups, 3, "groups are never deleted by sync")
	assert.Equal(t, 1, groups["react"].LinkCount)
	assert.Equal(t, 0, groups["vue"].LinkCount)
	assert.Equal(t, 1, groups["svelte"].LinkCount)
	assert.Equal(t, models.TargetUnresolved, groups["vue"].Resolution.State)
}

func TestSyncPage_RawTextFromFirstOccurrence(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)

	require.NoError(t, db.SyncPage(ctx, "p1", testutil.Markdown("[Go Lang] then [go  lang]")))
	g, err := db.GroupByKey(ctx, "GO LANG")
	require.NoError(t, err)
	assert.Equal(t, "go lang", g.Key)
	assert.Equal(t, "Go Lang", g.RawText)
	assert.Equal(t, 2, g.LinkCount)

	require.NoError(t, db.SyncPage(ctx, "p2", testutil.Markdown("[GO LANG]")))
	g, err = db.GroupByKey(ctx, "go lang")
	require.NoError(t, err)
	assert.Equal(t, "Go Lang", g.RawText, "raw text is first-seen")
	assert.Equal(t, 3, g.LinkCount)
}

func TestSyncPage_EmptyTreeClearsPage(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)

	require.NoError(t, db.SyncPage(ctx, "p1", testutil.Markdown("#go")))
	require.NoError(t, db.SyncPage(ctx, "p1", doc.Empty()))

	occ, err := db.OccurrencesForPage(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, occ)
	g, err := db.GroupByKey(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, 0, g.LinkCount)
}

func TestSyncPage_CanceledContextRollsBack(t *testing.T) {
	db := testutil.TestDB(t)
	require.NoError(t, db.SyncPage(context.Background(), "p1", testutil.Markdown("[A]")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := db.SyncPage(ctx, "p1", testutil.Markdown("[B]"))
	require.ErrorIs(t, err, apperr.ErrSyncFailed)

	occ, err := db.OccurrencesForPage(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, occ, 1)
	g, err := db.GroupByKey(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, g.ID, occ[0].LinkGroupID)
}

func TestDeleteSyncForPage(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	require.NoError(t, db.SyncPage(ctx, "p1", testutil.Markdown("[React]")))
	require.NoError(t, db.SyncPage(ctx, "p2", testutil.Markdown("[React]")))

	require.NoError(t, db.DeleteSyncForPage(ctx, "p1"))

	occ, err := db.OccurrencesForPage(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, occ)
	g, err := db.GroupByKey(ctx, "react")
	require.NoError(t, err, "group survives")
	assert.Equal(t, 1, g.LinkCount)
}

func TestConnectGroupToPage(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	require.NoError(t, db.SyncPage(ctx, "src", testutil.Markdown("[React]")))
	target, err := db.CreatePage(ctx, index.NewPage{Title: "React"})
	require.NoError(t, err)
	other, err := db.CreatePage(ctx, index.NewPage{Title: "Other"})
	require.NoError(t, err)

	g, err := db.ConnectGroupToPage(ctx, "React", target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResolvedTo(target.ID), g.Resolution)

	_, err = db.ConnectGroupToPage(ctx, "react", target.ID)
	assert.NoError(t, err, "same target is a no-op")

	_, err = db.ConnectGroupToPage(ctx, "react", other.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)

	_, err = db.ConnectGroupToPage(ctx, "nobody", target.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stored, err := db.GroupByKey(ctx, "react")
	require.NoError(t, err)
	assert.Equal(t, models.ResolvedTo(target.ID), stored.Resolution)
}

func TestConnectGroupToPage_MissingTarget(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	_, err := db.EnsureGroup(ctx, "Vue", "Vue")
	require.NoError(t, err)

	_, err = db.ConnectGroupToPage(ctx, "vue", "no-such-page")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMarkTargetDeleted_ThenReconnect(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	_, err := db.EnsureGroup(ctx, "Vue", "Vue")
	require.NoError(t, err)
	first, err := db.CreatePage(ctx, index.NewPage{Title: "Vue"})
	require.NoError(t, err)
	_, err = db.ConnectGroupToPage(ctx, "vue", first.ID)
	require.NoError(t, err)

	require.NoError(t, db.DeletePage(ctx, first.ID))
	n, err := db.MarkTargetDeleted(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g, err := db.GroupByKey(ctx, "vue")
	require.NoError(t, err)
	assert.Equal(t, models.Dangling(first.ID), g.Resolution)
	_, live := g.Resolution.Target()
	assert.False(t, live)

	second, err := db.CreatePage(ctx, index.NewPage{Title: "Vue"})
	require.NoError(t, err)
	g, err = db.ConnectGroupToPage(ctx, "vue", second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResolvedTo(second.ID), g.Resolution)
}

func TestEnsureGroup_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	a, err := db.EnsureGroup(ctx, "Rust  Lang", "Rust Lang")
	require.NoError(t, err)
	b, err := db.EnsureGroup(ctx, "rust lang", "rust lang")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "Rust Lang", b.RawText)
}

func TestSyncPage_ConcurrentFirstUseConverges(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)

	var g errgroup.Group
	for i := range 8 {
		g.Go(func() error {
			return db.SyncPage(ctx, fmt.Sprintf("page-%d", i), testutil.Markdown("[Brand New Key]"))
		})
	}
	require.NoError(t, g.Wait())

	groups, err := db.GroupsByKeys(ctx, []string{"brand new key"})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 8, groups["brand new key"].LinkCount)
}

func TestSyncPage_ConcurrentSamePage(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)

	trees := []*doc.Node{
		testutil.Markdown("[A] [B]"),
		testutil.Markdown("[B] [C] [D]"),
	}
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, db.SyncPage(ctx, "p1", trees[i%2]))
		}()
	}
	wg.Wait()

	// Whichever sync won, the occurrence set is exactly one of the two trees.
	occ, err := db.OccurrencesForPage(ctx, "p1")
	require.NoError(t, err)
	n := len(occ)
	assert.True(t, n == 2 || n == 3, "got %d occurrences", n)
}

// refsGen draws a document of bracket and tag references over a small key space
// so that keys collide across pages.
func refsGen(prefix string) *rapid.Generator[*doc.Node] {
	return rapid.Custom(func(t *rapid.T) *doc.Node {
		keys := []string{"alpha", "Beta", "gamma ray", "DELTA", "alpha"}
		paras := rapid.IntRange(0, 4).Draw(t, "paragraphs")
		var blocks []*doc.Node
		n := 0
		for range paras {
			spans := rapid.IntRange(0, 4).Draw(t, "spans")
			var inline []*doc.Node
			for range spans {
				n++
				key := rapid.SampledFrom(keys).Draw(t, "key")
				id := fmt.Sprintf("%s-%d", prefix, n)
				if rapid.Bool().Draw(t, "tag") {
					inline = append(inline, testutil.Tag(key, id), doc.Text(" "))
				} else {
					inline = append(inline, testutil.Ref(key, id), doc.Text(" "))
				}
			}
			blocks = append(blocks, doc.Paragraph(inline...))
		}
		return doc.New(blocks...)
	})
}

func TestSyncPage_Properties(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	pages := []string{"p1", "p2", "p3"}

	rapid.Check(t, func(rt *rapid.T) {
		pageID := rapid.SampledFrom(pages).Draw(rt, "page")
		tree := refsGen(pageID).Draw(rt, "tree")
		want := links.Extract(tree)

		// Idempotence: two syncs of the same tree give the same rows.
		if err := db.SyncPage(ctx, pageID, tree); err != nil {
			rt.Fatalf("sync: %v", err)
		}
		first, err := db.OccurrencesForPage(ctx, pageID)
		if err != nil {
			rt.Fatal(err)
		}
		if err := db.SyncPage(ctx, pageID, tree); err != nil {
			rt.Fatalf("resync: %v", err)
		}
		second, err := db.OccurrencesForPage(ctx, pageID)
		if err != nil {
			rt.Fatal(err)
		}
		if fmt.Sprint(annotationIDs(first)) != fmt.Sprint(annotationIDs(second)) {
			rt.Fatalf("not idempotent: %v vs %v", annotationIDs(first), annotationIDs(second))
		}

		// Bijection by annotation id, with keys and positions preserved.
		if len(second) != len(want) {
			rt.Fatalf("got %d occurrences, extracted %d", len(second), len(want))
		}
		groups, err := db.GroupsByKeys(ctx, links.Keys(want))
		if err != nil {
			rt.Fatal(err)
		}
		for i, ref := range want {
			o := second[i]
			if o.AnnotationID != ref.AnnotationID || o.Position != ref.Position {
				rt.Fatalf("occurrence %d = %+v, want %+v", i, o, ref)
			}
			if groups[ref.Key].ID != o.LinkGroupID {
				rt.Fatalf("occurrence %s owned by %s, want group of %q", o.AnnotationID, o.LinkGroupID, ref.Key)
			}
		}

		// Count correctness across every group in the corpus.
		all, err := db.GroupsByKeys(ctx, []string{"alpha", "beta", "gamma ray", "delta"})
		if err != nil {
			rt.Fatal(err)
		}
		ids := make([]string, 0, len(all))
		for _, g := range all {
			ids = append(ids, g.ID)
		}
		sort.Strings(ids)
		occ, err := db.OccurrencesByGroupIDs(ctx, ids)
		if err != nil {
			rt.Fatal(err)
		}
		live := map[string]int{}
		for _, o := range occ {
			live[o.LinkGroupID]++
		}
		for _, g := range all {
			if g.LinkCount != live[g.ID] {
				rt.Fatalf("group %q link_count %d, live %d", g.Key, g.LinkCount, live[g.ID])
			}
		}
	})
}
