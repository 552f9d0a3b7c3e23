package pageservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/links"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/resolver"
	"github.com/starford/linkgraph/internal/sse"
)

// ResolveResult describes a create-from-reference call.
type ResolveResult struct {
	Group models.LinkGroup `json:"group"`
	Page  PageDetail       `json:"page"`
	// Created is false when the group already had a live target.
	Created bool `json:"created"`
	// Spans is the number of spans marked resolved in open documents.
	Spans int `json:"spans"`
}

// CreateFromReference resolves the group for key to a page, creating the
// page (titled with the group's raw text) when the group has no live
// target. Open documents of session then have their spans for key marked
// resolved. Unopened pages pick the resolution up on their next view.
func (s *Service) CreateFromReference(ctx context.Context, session, key string) (*ResolveResult, error) {
	key = links.NormalizeKey(key)
	if key == "" {
		return nil, fmt.Errorf("pageservice: empty reference key: %w", apperr.ErrNotFound)
	}
	g, err := s.store.EnsureGroup(ctx, key, "")
	if err != nil {
		return nil, err
	}

	res := &ResolveResult{}
	var page *models.Page
	if target, ok := g.Resolution.Target(); ok {
		page, err = s.store.GetPage(ctx, target)
		if err != nil {
			return nil, err
		}
	} else {
		page, g, res.Created, err = s.createTarget(ctx, g)
		if err != nil {
			return nil, err
		}
	}
	res.Group = *g

	for _, d := range s.workspace.Documents(session) {
		ids := resolver.AnnotationIDs(d.Snapshot(), key)
		res.Spans += s.resolver.MarkResolvedBatch(d, ids, page.ID)
	}

	tree, err := doc.Parse(page.Content)
	if err != nil {
		tree = doc.Empty()
	}
	res.Page = *s.detail(ctx, page, tree)

	if res.Created {
		s.events.PublishPageEvent(sse.KindCreated, page.ID)
	}
	s.events.PublishLinkResolved(sse.LinkResolved{
		Key:          key,
		GroupID:      g.ID,
		TargetPageID: page.ID,
		Spans:        res.Spans,
	})
	s.logger.Info("pageservice: reference resolved",
		slog.String("key", key),
		slog.String("page_id", page.ID),
		slog.Bool("created", res.Created),
		slog.Int("spans", res.Spans),
	)
	return res, nil
}

// createTarget creates a page for g and connects the group to it. If
// another caller resolved the group first, the new page is removed and the
// winner's page is returned.
func (s *Service) createTarget(ctx context.Context, g *models.LinkGroup) (*models.Page, *models.LinkGroup, bool, error) {
	tree := doc.Empty()
	page, err := s.store.CreatePage(ctx, index.NewPage{Title: titleOr(g.RawText), Content: tree})
	if err != nil {
		return nil, nil, false, err
	}
	s.OnPageSaved(ctx, page.ID, tree)

	connected, err := s.store.ConnectGroupToPage(ctx, g.Key, page.ID)
	if err == nil {
		return page, connected, true, nil
	}
	if !errors.Is(err, apperr.ErrAlreadyResolved) {
		return nil, nil, false, err
	}

	if derr := s.store.DeletePage(ctx, page.ID); derr != nil {
		s.logger.Warn("pageservice: remove losing target page", slog.String("page_id", page.ID), slog.String("error", derr.Error()))
	} else {
		s.OnPageDeleted(ctx, page.ID)
	}
	winner, err := s.store.GroupByKey(ctx, g.Key)
	if err != nil {
		return nil, nil, false, err
	}
	target, ok := winner.Resolution.Target()
	if !ok {
		return nil, nil, false, fmt.Errorf("pageservice: link group %q: %w", g.Key, apperr.ErrConflict)
	}
	page, err = s.store.GetPage(ctx, target)
	if err != nil {
		return nil, nil, false, err
	}
	return page, winner, false, nil
}
