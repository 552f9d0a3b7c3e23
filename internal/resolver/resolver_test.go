package resolver_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/editor"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/resolver"
	"github.com/starford/linkgraph/internal/testutil"
)

func attrs(t *testing.T, root *doc.Node) map[string]doc.LinkAttrs {
	t.Helper()
	out := map[string]doc.LinkAttrs{}
	doc.Walk(root, func(n *doc.Node, _ doc.Path) bool {
		if _, a, ok := n.LinkMark(); ok {
			out[a.MarkID] = a
		}
		return true
	})
	return out
}

func TestMarkResolved_OnlyTargetSpanChanges(t *testing.T) {
	d := editor.NewDocument("p1", testutil.Markdown("[React] and [Vue]"))
	before := attrs(t, d.Snapshot())
	r := resolver.New("/pages/", slog.New(slog.DiscardHandler))

	n := r.MarkResolved(d, "mark-1", "page-9")
	assert.Equal(t, 1, n)

	after := attrs(t, d.Snapshot())
	got := after["mark-1"]
	assert.Equal(t, doc.StateExists, got.State)
	assert.Equal(t, "page-9", got.PageID)
	assert.Equal(t, "/pages/page-9", got.Href)
	assert.True(t, got.Created)
	assert.Equal(t, before["mark-1"].Key, got.Key)
	assert.Equal(t, before["mark-2"], after["mark-2"], "other spans untouched")
	assert.Equal(t, 1, d.UndoDepth(), "one transaction")
}

func TestMarkResolvedBatch_SingleTransaction(t *testing.T) {
	d := editor.NewDocument("p1", testutil.Markdown("[React]\n\n[React]\n\n[React]"))
	var changes []editor.Change
	d.Subscribe(func(c editor.Change) { changes = append(changes, c) })
	r := resolver.New("/pages/", nil)

	ids := resolver.AnnotationIDs(d.Snapshot(), "REACT")
	require.Equal(t, []string{"mark-1", "mark-2", "mark-3"}, ids)

	n := r.MarkResolvedBatch(d, ids, "page-9")
	assert.Equal(t, 3, n)
	require.Len(t, changes, 1)
	assert.Equal(t, 3, changes[0].Spans)
	assert.Equal(t, "resolver", changes[0].Origin)
}

func TestMarkResolved_MissingAnnotationIsNoop(t *testing.T) {
	d := editor.NewDocument("p1", testutil.Markdown("[React]"))
	r := resolver.New("/pages/", nil)

	assert.Equal(t, 0, r.MarkResolved(d, "not-here", "page-9"))
	assert.Equal(t, 0, r.MarkResolvedBatch(d, nil, "page-9"))
	assert.Equal(t, 0, d.Version())
}

func TestMarkResolved_DispatchFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	r := resolver.New("/pages/", slog.New(slog.NewJSONHandler(&buf, nil)))
	d := editor.NewDocument("p1", testutil.Markdown("[React]"))
	d.Close()

	assert.NotPanics(t, func() {
		assert.Equal(t, 0, r.MarkResolved(d, "mark-1", "page-9"))
	})
	assert.Contains(t, buf.String(), "resolver: dispatch failed")
	assert.Contains(t, buf.String(), `"page_id":"p1"`)
}

func TestRefresh(t *testing.T) {
	tree := testutil.Markdown("[React] [Vue] [Svelte] [Solid]")
	r := resolver.New("/pages/", nil)

	groups := map[string]models.LinkGroup{
		"react":  {Key: "react", Resolution: models.ResolvedTo("page-react")},
		"vue":    {Key: "vue", Resolution: models.Unresolved()},
		"svelte": {Key: "svelte", Resolution: models.Dangling("gone")},
	}
	// Vue was cached as resolved by an older save.
	stale := editor.NewDocument("p", tree)
	r.MarkResolved(stale, "mark-2", "old-vue")

	out, changed := r.Refresh(stale.Snapshot(), groups)
	a := attrs(t, out)
	assert.Equal(t, doc.StateExists, a["mark-1"].State)
	assert.Equal(t, "/pages/page-react", a["mark-1"].Href)
	assert.Equal(t, doc.StateMissing, a["mark-2"].State)
	assert.Empty(t, a["mark-2"].PageID)
	assert.Equal(t, doc.StateMissing, a["mark-3"].State)
	assert.Equal(t, doc.StateMissing, a["mark-4"].State, "no group leaves span unchanged")
	assert.Equal(t, 2, changed)

	// Input is not modified.
	assert.Equal(t, doc.StateExists, attrs(t, stale.Snapshot())["mark-2"].State)
}

func TestRefresh_Nil(t *testing.T) {
	out, n := resolver.New("/", nil).Refresh(nil, nil)
	assert.Equal(t, doc.TypeDoc, out.Type)
	assert.Zero(t, n)
}
