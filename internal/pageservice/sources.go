package pageservice

import (
	"context"
	"errors"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/checksum"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/sse"
)

// UpsertSource creates or updates the page backed by an external file. It
// reports whether anything changed; identical content is skipped.
func (s *Service) UpsertSource(ctx context.Context, sourcePath, title string, tree *doc.Node) (*models.Page, bool, error) {
	existing, err := s.store.PageBySourcePath(ctx, sourcePath)
	if errors.Is(err, apperr.ErrNotFound) {
		p, err := s.store.CreatePage(ctx, index.NewPage{Title: titleOr(title), Content: tree, SourcePath: sourcePath})
		if err != nil {
			return nil, false, err
		}
		s.OnPageSaved(ctx, p.ID, tree)
		s.events.PublishPageEvent(sse.KindCreated, p.ID)
		return p, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	sum, err := checksum.Tree(tree)
	if err != nil {
		return nil, false, err
	}
	if sum == existing.Checksum && title == existing.Title {
		return existing, false, nil
	}
	p, err := s.store.SavePage(ctx, existing.ID, title, tree, "")
	if err != nil {
		return nil, false, err
	}
	s.OnPageSaved(ctx, p.ID, tree)
	s.events.PublishPageEvent(sse.KindSaved, p.ID)
	return p, true, nil
}

// DeleteSource deletes the page backed by an external file, if any.
func (s *Service) DeleteSource(ctx context.Context, sourcePath string) error {
	p, err := s.store.PageBySourcePath(ctx, sourcePath)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Delete(ctx, p.ID)
}

// SourcePaths returns the id of every file-backed page keyed by source path.
func (s *Service) SourcePaths(ctx context.Context) (map[string]string, error) {
	return s.store.SourcePaths(ctx)
}
