// Package resolver propagates link resolution into document trees.
//
// MarkResolved and MarkResolvedBatch push a newly resolved target into
// documents open for editing. Refresh recomputes every span's cached state
// from the link groups when a stored page is viewed, so pages that were not
// open at resolution time never show stale state.
package resolver

import (
	"log/slog"

	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/editor"
	"github.com/starford/linkgraph/internal/links"
	"github.com/starford/linkgraph/internal/models"
)

// Handle is an open document that accepts transactions. *editor.Document
// satisfies it.
type Handle interface {
	PageID() string
	Snapshot() *doc.Node
	Dispatch(tx editor.Transaction) (int, error)
}

// Resolver rewrites link mark attributes.
type Resolver struct {
	hrefPrefix string
	logger     *slog.Logger
}

// New creates a Resolver. Link targets are hrefPrefix followed by the page id.
func New(hrefPrefix string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{hrefPrefix: hrefPrefix, logger: logger}
}

// Href returns the link target for a page.
func (r *Resolver) Href(pageID string) string {
	return r.hrefPrefix + pageID
}

// MarkResolved points the span annotated annotationID at targetPageID.
func (r *Resolver) MarkResolved(h Handle, annotationID, targetPageID string) int {
	return r.MarkResolvedBatch(h, []string{annotationID}, targetPageID)
}

// MarkResolvedBatch points every span annotated with one of annotationIDs at
// targetPageID in a single transaction and returns how many spans changed.
// Ids not present in the document are ignored. A dispatch failure is logged
// and reported as zero spans.
func (r *Resolver) MarkResolvedBatch(h Handle, annotationIDs []string, targetPageID string) int {
	if len(annotationIDs) == 0 {
		return 0
	}
	attrs := map[string]any{
		doc.AttrState:   doc.StateExists,
		doc.AttrPageID:  targetPageID,
		doc.AttrHref:    r.Href(targetPageID),
		doc.AttrCreated: true,
	}
	tx := editor.Transaction{Origin: "resolver"}
	for _, id := range annotationIDs {
		tx.Steps = append(tx.Steps, editor.SetMarkAttrs{MarkID: id, Attrs: attrs})
	}
	n, err := h.Dispatch(tx)
	if err != nil {
		r.logger.Warn("resolver: dispatch failed",
			slog.String("page_id", h.PageID()),
			slog.String("target_page_id", targetPageID),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if n > 0 {
		r.logger.Debug("resolver: marked resolved",
			slog.String("page_id", h.PageID()),
			slog.String("target_page_id", targetPageID),
			slog.Int("spans", n),
		)
	}
	return n
}

// AnnotationIDs returns the annotation ids of spans in tree whose
// normalized key is key, in document order.
func AnnotationIDs(tree *doc.Node, key string) []string {
	key = links.NormalizeKey(key)
	var out []string
	for _, ref := range links.Extract(tree) {
		if ref.Key == key {
			out = append(out, ref.AnnotationID)
		}
	}
	return out
}

// Refresh returns a copy of tree whose link marks reflect groups, keyed by
// normalized key, and the number of spans whose cached state changed.
// Resolved groups mark spans as existing; unresolved and dangling groups
// mark them missing. Spans with no group in groups are left as they are.
func (r *Resolver) Refresh(tree *doc.Node, groups map[string]models.LinkGroup) (*doc.Node, int) {
	out := tree.Clone()
	if out == nil {
		return doc.Empty(), 0
	}
	keyByID := make(map[string]string)
	for _, ref := range links.Extract(out) {
		keyByID[ref.AnnotationID] = ref.Key
	}

	changed := 0
	doc.Walk(out, func(n *doc.Node, _ doc.Path) bool {
		idx, attrs, ok := n.LinkMark()
		if !ok {
			return true
		}
		g, ok := groups[keyByID[attrs.MarkID]]
		if !ok {
			return true
		}
		next := attrs
		if target, live := g.Resolution.Target(); live {
			next.State = doc.StateExists
			next.PageID = target
			next.Href = r.Href(target)
		} else {
			next.State = doc.StateMissing
			next.PageID = ""
			next.Href = ""
		}
		if next == attrs {
			return true
		}
		m := n.Marks[idx].Attrs
		if m == nil {
			m = map[string]any{}
			n.Marks[idx].Attrs = m
		}
		rendered := next.Map()
		for _, k := range []string{doc.AttrState, doc.AttrPageID, doc.AttrHref} {
			m[k] = rendered[k]
		}
		changed++
		return true
	})
	return out, changed
}
