// Package pageservice is the document store facade over the link graph. It
// persists pages, keeps the graph in step on save and delete, serves
// backlink views and drives resolution into open documents.
package pageservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/linkgraph/internal/backlinks"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/editor"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/links"
	"github.com/starford/linkgraph/internal/markdown"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/resolver"
	"github.com/starford/linkgraph/internal/sse"
)

// Publisher receives change notifications. *sse.Broker satisfies it.
type Publisher interface {
	PublishPageEvent(kind, pageID string)
	PublishLinkResolved(ev sse.LinkResolved)
}

// PageDetail is a page with its decoded content tree.
type PageDetail struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Slug       string    `json:"slug"`
	Checksum   string    `json:"checksum"`
	SourcePath string    `json:"source_path,omitempty"`
	Content    *doc.Node `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PageInput is the content of a create or save. Content wins over Markdown.
type PageInput struct {
	Title    string
	Content  *doc.Node
	Markdown string
	// IfMatch, when set on save, must equal the stored checksum.
	IfMatch string
}

// Service coordinates the page store, the link graph and open documents.
type Service struct {
	store     index.Store
	engine    *backlinks.Engine
	resolver  *resolver.Resolver
	workspace *editor.Workspace
	importer  *markdown.Importer
	events    Publisher
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEvents sets the change publisher.
func WithEvents(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithImporter sets the Markdown importer used for Markdown input.
func WithImporter(im *markdown.Importer) Option {
	return func(s *Service) { s.importer = im }
}

// New creates a Service.
func New(store index.Store, ws *editor.Workspace, res *resolver.Resolver, opts ...Option) *Service {
	s := &Service{
		store:     store,
		engine:    backlinks.New(store),
		resolver:  res,
		workspace: ws,
		importer:  markdown.New(),
		events:    nopPublisher{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new page and syncs its references.
func (s *Service) Create(ctx context.Context, in PageInput) (*PageDetail, error) {
	tree := s.tree(in)
	p, err := s.store.CreatePage(ctx, index.NewPage{Title: titleOr(in.Title), Content: tree})
	if err != nil {
		return nil, err
	}
	s.OnPageSaved(ctx, p.ID, tree)
	s.events.PublishPageEvent(sse.KindCreated, p.ID)
	return s.detail(ctx, p, tree), nil
}

// Get returns a page whose link marks reflect current group resolution.
func (s *Service) Get(ctx context.Context, id string) (*PageDetail, error) {
	p, err := s.store.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	tree, err := doc.Parse(p.Content)
	if err != nil {
		return nil, fmt.Errorf("pageservice: page %s: %w", id, err)
	}
	return s.detail(ctx, p, tree), nil
}

// Save replaces a page's content. The save succeeds even when the link
// sync fails; the reconcile pass repairs the graph later.
func (s *Service) Save(ctx context.Context, id string, in PageInput) (*PageDetail, error) {
	tree := s.tree(in)
	p, err := s.store.SavePage(ctx, id, in.Title, tree, in.IfMatch)
	if err != nil {
		return nil, err
	}
	s.OnPageSaved(ctx, p.ID, tree)
	s.events.PublishPageEvent(sse.KindSaved, p.ID)
	return s.detail(ctx, p, tree), nil
}

// Delete removes a page and its outgoing occurrences. Groups resolved to
// the page become dangling.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeletePage(ctx, id); err != nil {
		return err
	}
	s.OnPageDeleted(ctx, id)
	s.events.PublishPageEvent(sse.KindDeleted, id)
	return nil
}

// List returns page summaries and the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]models.PageSummary, int, error) {
	items, total, err := s.store.ListPages(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []models.PageSummary{}
	}
	return items, total, nil
}

// OnPageSaved syncs the page's references. Failures are logged, not returned.
func (s *Service) OnPageSaved(ctx context.Context, pageID string, tree *doc.Node) {
	if err := s.store.SyncPage(ctx, pageID, tree); err != nil {
		s.logger.Warn("pageservice: link sync failed, left for reconcile",
			slog.String("page_id", pageID), slog.String("error", err.Error()))
	}
}

// OnPageDeleted drops the page's occurrences, marks groups resolved to it
// dangling and closes it in every session. Failures are logged, not returned.
func (s *Service) OnPageDeleted(ctx context.Context, pageID string) {
	if err := s.store.DeleteSyncForPage(ctx, pageID); err != nil {
		s.logger.Warn("pageservice: delete sync failed, left for reconcile",
			slog.String("page_id", pageID), slog.String("error", err.Error()))
	}
	if n, err := s.store.MarkTargetDeleted(ctx, pageID); err != nil {
		s.logger.Warn("pageservice: mark dangling failed, left for reconcile",
			slog.String("page_id", pageID), slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.Info("pageservice: groups left dangling", slog.String("page_id", pageID), slog.Int("groups", n))
	}
	s.workspace.ClosePage(pageID)
}

// Backlinks returns the groups resolved to pageID and the pages referencing them.
func (s *Service) Backlinks(ctx context.Context, pageID string) ([]backlinks.GroupView, error) {
	return s.engine.GetBacklinkView(ctx, pageID)
}

// Links returns the groups referenced from pageID.
func (s *Service) Links(ctx context.Context, pageID string) ([]backlinks.GroupView, error) {
	return s.engine.GetGroupView(ctx, pageID)
}

// Reconcile re-syncs pages whose graph is out of date.
func (s *Service) Reconcile(ctx context.Context) (index.ReconcileReport, error) {
	return s.store.Reconcile(ctx, s.logger)
}

func (s *Service) tree(in PageInput) *doc.Node {
	switch {
	case in.Content != nil:
		return in.Content
	case in.Markdown != "":
		return s.importer.Import([]byte(in.Markdown))
	}
	return doc.Empty()
}

// detail refreshes the tree's link marks with one batched group lookup.
// A failed lookup degrades to the stored marks.
func (s *Service) detail(ctx context.Context, p *models.Page, tree *doc.Node) *PageDetail {
	keys := links.Keys(links.Extract(tree))
	if len(keys) > 0 {
		groups, err := s.store.GroupsByKeys(ctx, keys)
		if err != nil {
			s.logger.Warn("pageservice: refresh links failed", slog.String("page_id", p.ID), slog.String("error", err.Error()))
		} else {
			tree, _ = s.resolver.Refresh(tree, groups)
		}
	}
	return &PageDetail{
		ID:         p.ID,
		Title:      p.Title,
		Slug:       p.Slug,
		Checksum:   p.Checksum,
		SourcePath: p.SourcePath,
		Content:    tree,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func titleOr(title string) string {
	if title == "" {
		return "Untitled"
	}
	return title
}

type nopPublisher struct{}

func (nopPublisher) PublishPageEvent(string, string)     {}
func (nopPublisher) PublishLinkResolved(sse.LinkResolved) {}
