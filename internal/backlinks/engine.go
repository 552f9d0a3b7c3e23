// Package backlinks answers "what links here" for a page with a fixed
// number of batched reads, independent of how many link groups, occurrences
// or referencing pages are involved.
package backlinks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/starford/linkgraph/internal/models"
)

// Reader is the batched read surface the engine needs. *index.DB satisfies it.
type Reader interface {
	GroupsTargeting(ctx context.Context, pageID string) ([]models.LinkGroup, error)
	GroupsSourcedFrom(ctx context.Context, pageID string) ([]models.LinkGroup, error)
	PagesByIDs(ctx context.Context, ids []string) ([]models.Page, error)
	OccurrencesByGroupIDs(ctx context.Context, groupIDs []string) ([]models.LinkOccurrence, error)
}

// GroupView is one link group with its resolved target and the pages that
// reference it.
type GroupView struct {
	GroupID    string            `json:"group_id"`
	Key        string            `json:"key"`
	RawText    string            `json:"raw_text"`
	Resolution models.Resolution `json:"resolution"`
	LinkCount  int               `json:"link_count"`
	// TargetPage is nil for unresolved and dangling groups, and when the
	// target was deleted concurrently.
	TargetPage *models.Page `json:"target_page"`
	// ReferencingPages never contains the viewed page or TargetPage.
	ReferencingPages []models.Page `json:"referencing_pages"`
}

// Engine assembles backlink and group views.
type Engine struct {
	r  Reader
	sf singleflight.Group
}

// New creates an Engine over r.
func New(r Reader) *Engine {
	return &Engine{r: r}
}

// GetBacklinkView returns every group resolved to pageID with the pages
// that reference it.
func (e *Engine) GetBacklinkView(ctx context.Context, pageID string) ([]GroupView, error) {
	return e.view(ctx, "backlinks:"+pageID, pageID, e.r.GroupsTargeting)
}

// GetGroupView returns every group with at least one occurrence in pageID,
// with its target page and the other pages that reference it.
func (e *Engine) GetGroupView(ctx context.Context, pageID string) ([]GroupView, error) {
	return e.view(ctx, "groups:"+pageID, pageID, e.r.GroupsSourcedFrom)
}

type groupsFunc func(ctx context.Context, pageID string) ([]models.LinkGroup, error)

// sharedTimeout bounds a coalesced read once it no longer follows any
// single caller's context.
const sharedTimeout = 30 * time.Second

// view coalesces concurrent identical requests. The shared read is detached
// from the caller that started it, so one caller going away does not fail
// the others; each caller still stops waiting when its own ctx is done.
// The returned slice is the caller's own; the pages inside it are shared
// and must not be mutated.
func (e *Engine) view(ctx context.Context, key, pageID string, groups groupsFunc) ([]GroupView, error) {
	ch := e.sf.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedTimeout)
		defer cancel()
		return e.assemble(sctx, pageID, groups)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("backlinks: %w", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	views, ok := res.Val.([]GroupView)
	if !ok {
		return nil, fmt.Errorf("backlinks: unexpected result type %T", res.Val)
	}
	out := make([]GroupView, len(views))
	copy(out, views)
	return out, nil
}

// assemble issues exactly four reads: groups, then target pages and
// occurrences concurrently, then referencing pages. Everything else is map
// lookups.
func (e *Engine) assemble(ctx context.Context, pageID string, groups groupsFunc) ([]GroupView, error) {
	gs, err := groups(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("backlinks: groups: %w", err)
	}

	groupIDs := make([]string, 0, len(gs))
	targetIDs := make([]string, 0, len(gs))
	for _, g := range gs {
		groupIDs = append(groupIDs, g.ID)
		if id, ok := g.Resolution.Target(); ok {
			targetIDs = append(targetIDs, id)
		}
	}

	var (
		targets []models.Page
		occ     []models.LinkOccurrence
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		targets, err = e.r.PagesByIDs(egCtx, targetIDs)
		if err != nil {
			return fmt.Errorf("backlinks: target pages: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		occ, err = e.r.OccurrencesByGroupIDs(egCtx, groupIDs)
		if err != nil {
			return fmt.Errorf("backlinks: occurrences: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sourcesByGroup := make(map[string][]string, len(gs))
	seen := make(map[[2]string]struct{}, len(occ))
	sourceIDs := make([]string, 0, len(occ))
	sourceSeen := make(map[string]struct{}, len(occ))
	for _, o := range occ {
		if o.SourcePageID == pageID {
			continue
		}
		pair := [2]string{o.LinkGroupID, o.SourcePageID}
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}
		sourcesByGroup[o.LinkGroupID] = append(sourcesByGroup[o.LinkGroupID], o.SourcePageID)
		if _, ok := sourceSeen[o.SourcePageID]; !ok {
			sourceSeen[o.SourcePageID] = struct{}{}
			sourceIDs = append(sourceIDs, o.SourcePageID)
		}
	}

	sources, err := e.r.PagesByIDs(ctx, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("backlinks: referencing pages: %w", err)
	}

	pages := make(map[string]*models.Page, len(targets)+len(sources))
	for i := range targets {
		pages[targets[i].ID] = &targets[i]
	}
	for i := range sources {
		pages[sources[i].ID] = &sources[i]
	}

	out := make([]GroupView, 0, len(gs))
	for _, g := range gs {
		v := GroupView{
			GroupID:          g.ID,
			Key:              g.Key,
			RawText:          g.RawText,
			Resolution:       g.Resolution,
			LinkCount:        g.LinkCount,
			ReferencingPages: []models.Page{},
		}
		targetID, resolved := g.Resolution.Target()
		if resolved {
			v.TargetPage = pages[targetID]
		}
		for _, src := range sourcesByGroup[g.ID] {
			if resolved && src == targetID {
				continue
			}
			if p, ok := pages[src]; ok {
				v.ReferencingPages = append(v.ReferencingPages, *p)
			}
		}
		sort.Slice(v.ReferencingPages, func(i, j int) bool {
			a, b := v.ReferencingPages[i], v.ReferencingPages[j]
			if a.Title != b.Title {
				return a.Title < b.Title
			}
			return a.ID < b.ID
		})
		out = append(out, v)
	}
	return out, nil
}
