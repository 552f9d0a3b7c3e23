package pageservice

import (
	"context"
	"fmt"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/editor"
)

// OpenDocument opens pageID for editing in session with a refreshed tree.
// Opening an already open page returns the open document unchanged.
func (s *Service) OpenDocument(ctx context.Context, session, pageID string) (*editor.Document, error) {
	if d, ok := s.workspace.Get(session, pageID); ok {
		return d, nil
	}
	p, err := s.Get(ctx, pageID)
	if err != nil {
		return nil, err
	}
	d, _ := s.workspace.Open(session, pageID, p.Content)
	return d, nil
}

// Document returns an open document.
func (s *Service) Document(session, pageID string) (*editor.Document, error) {
	d, ok := s.workspace.Get(session, pageID)
	if !ok {
		return nil, fmt.Errorf("pageservice: document %s not open in session %s: %w", pageID, session, apperr.ErrNotFound)
	}
	return d, nil
}

// SaveDocument persists an open document. A non-nil tree replaces the
// document's content once the save has passed the If-Match check.
func (s *Service) SaveDocument(ctx context.Context, session, pageID string, tree *doc.Node, ifMatch string) (*PageDetail, error) {
	d, err := s.Document(session, pageID)
	if err != nil {
		return nil, err
	}
	next := tree
	if next == nil {
		next = d.Snapshot()
	}
	detail, err := s.Save(ctx, pageID, PageInput{Content: next, IfMatch: ifMatch})
	if err != nil {
		return nil, err
	}
	if tree != nil {
		if err := d.Replace(tree, "client"); err != nil {
			return nil, err
		}
	}
	return detail, nil
}

// CloseSession closes every document open in session.
func (s *Service) CloseSession(session string) {
	s.workspace.CloseSession(session)
}

// CloseDocument closes an open document.
func (s *Service) CloseDocument(session, pageID string) error {
	if !s.workspace.Close(session, pageID) {
		return fmt.Errorf("pageservice: document %s not open in session %s: %w", pageID, session, apperr.ErrNotFound)
	}
	return nil
}
