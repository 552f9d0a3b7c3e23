package index

import (
	"context"
	"log/slog"

	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/models"
)

// Store defines the page and link graph operations used by the service layer.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type Store interface {
	CreatePage(ctx context.Context, in NewPage) (*models.Page, error)
	GetPage(ctx context.Context, id string) (*models.Page, error)
	PageBySourcePath(ctx context.Context, path string) (*models.Page, error)
	SavePage(ctx context.Context, id, title string, tree *doc.Node, ifMatch string) (*models.Page, error)
	DeletePage(ctx context.Context, id string) error
	ListPages(ctx context.Context, limit, offset int) ([]models.PageSummary, int, error)
	PagesByIDs(ctx context.Context, ids []string) ([]models.Page, error)
	SourcePaths(ctx context.Context) (map[string]string, error)

	SyncPage(ctx context.Context, pageID string, tree *doc.Node) error
	DeleteSyncForPage(ctx context.Context, pageID string) error
	EnsureGroup(ctx context.Context, key, rawText string) (*models.LinkGroup, error)
	ConnectGroupToPage(ctx context.Context, key, pageID string) (*models.LinkGroup, error)
	MarkTargetDeleted(ctx context.Context, pageID string) (int, error)

	GroupByKey(ctx context.Context, key string) (*models.LinkGroup, error)
	GroupsByKeys(ctx context.Context, keys []string) (map[string]models.LinkGroup, error)
	GroupsTargeting(ctx context.Context, pageID string) ([]models.LinkGroup, error)
	GroupsSourcedFrom(ctx context.Context, pageID string) ([]models.LinkGroup, error)
	OccurrencesByGroupIDs(ctx context.Context, groupIDs []string) ([]models.LinkOccurrence, error)
	OccurrencesForPage(ctx context.Context, pageID string) ([]models.LinkOccurrence, error)

	Reconcile(ctx context.Context, logger *slog.Logger) (ReconcileReport, error)

	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
