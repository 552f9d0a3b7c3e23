package vault

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/linkgraph/internal/checksum"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/markdown"
	"github.com/starford/linkgraph/internal/models"
)

// Sink receives pages imported from files. *pageservice.Service satisfies it.
type Sink interface {
	UpsertSource(ctx context.Context, sourcePath, title string, tree *doc.Node) (*models.Page, bool, error)
	DeleteSource(ctx context.Context, sourcePath string) error
	SourcePaths(ctx context.Context) (map[string]string, error)
}

// ImportReport summarizes a full import pass.
type ImportReport struct {
	Files   int
	Changed int
	Removed int
	Failed  int
}

// Source turns vault files into pages.
type Source struct {
	fs     *FS
	sink   Sink
	logger *slog.Logger
}

// NewSource creates a Source.
func NewSource(fs *FS, sink Sink, logger *slog.Logger) *Source {
	return &Source{fs: fs, sink: sink, logger: logger}
}

// Import brings the pages in step with the vault:
//   - new/changed files are converted and upserted
//   - pages whose file is gone are deleted
func (s *Source) Import(ctx context.Context) (ImportReport, error) {
	var report ImportReport
	metas, err := s.fs.List()
	if err != nil {
		return report, err
	}
	known, err := s.sink.SourcePaths(ctx)
	if err != nil {
		return report, err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		report.Files++
		changed, err := s.ImportFile(ctx, m.Path)
		if err != nil {
			report.Failed++
			s.logger.Warn("vault: import failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if changed {
			report.Changed++
		}
	}

	for p := range known {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := s.sink.DeleteSource(ctx, p); err != nil {
			s.logger.Warn("vault: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		report.Removed++
		s.logger.Debug("vault: removed stale", slog.String("path", p))
	}
	return report, nil
}

// ImportFile converts one file and upserts its page.
func (s *Source) ImportFile(ctx context.Context, rel string) (bool, error) {
	data, err := s.fs.Read(rel)
	if err != nil {
		return false, err
	}
	tree := Convert(rel, data)
	_, changed, err := s.sink.UpsertSource(ctx, rel, Title(rel, tree), tree)
	if err != nil {
		return false, fmt.Errorf("vault: upsert %s: %w", rel, err)
	}
	if changed {
		s.logger.Debug("vault: imported", slog.String("path", rel))
	}
	return changed, nil
}

// Convert imports Markdown with annotation ids derived from the file path
// and the reference ordinal, so unchanged files convert to identical trees.
func Convert(rel string, data []byte) *doc.Node {
	prefix := checksum.Sum([]byte(rel))[:12]
	n := 0
	im := markdown.New(markdown.WithIDFunc(func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}))
	return im.Import(data)
}

// Title is the text of the first heading, or the file name without extension.
func Title(rel string, tree *doc.Node) string {
	for _, block := range tree.Content {
		if block.Type == doc.TypeHeading {
			if t := strings.TrimSpace(block.PlainText()); t != "" {
				return t
			}
		}
	}
	return strings.TrimSuffix(path.Base(rel), ".md")
}
