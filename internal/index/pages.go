package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gosimple/slug"
	"github.com/mattn/go-sqlite3"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/checksum"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/sqlutil"
)

// NewPage holds the fields of a page to create.
type NewPage struct {
	// ID is generated when empty.
	ID      string
	Title   string
	Content *doc.Node
	// SourcePath ties the page to a vault file. Optional.
	SourcePath string
}

const pageColumns = `id, title, slug, content, checksum, source_path, created_at, updated_at`

// Summary columns leave out the content tree.
const pageSummaryColumns = `id, title, slug, checksum, source_path, created_at, updated_at`

// CreatePage inserts a page and returns it.
func (db *DB) CreatePage(ctx context.Context, in NewPage) (*models.Page, error) {
	content, sum, err := encodeTree(in.Content)
	if err != nil {
		return nil, err
	}
	id := in.ID
	if id == "" {
		id = db.newID()
	}
	now := db.timestamp()
	p := &models.Page{
		ID:         id,
		Title:      in.Title,
		Slug:       slug.Make(in.Title),
		Content:    content,
		Checksum:   sum,
		SourcePath: in.SourcePath,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO pages (`+pageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Title, p.Slug, string(p.Content), p.Checksum, nullString(p.SourcePath), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isConstraint(err) {
			return nil, fmt.Errorf("index: create page %s: %w", id, apperr.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("index: create page: %w", err)
	}
	return p, nil
}

// GetPage returns the page with its content tree.
func (db *DB) GetPage(ctx context.Context, id string) (*models.Page, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: page %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get page: %w", err)
	}
	return p, nil
}

// PageBySourcePath returns the page imported from a vault file.
func (db *DB) PageBySourcePath(ctx context.Context, path string) (*models.Page, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE source_path = ?`, path)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: page at %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: page by source path: %w", err)
	}
	return p, nil
}

// SavePage replaces a page's content. An empty title keeps the current one.
// When ifMatch is non-empty it must equal the stored checksum.
func (db *DB) SavePage(ctx context.Context, id, title string, tree *doc.Node, ifMatch string) (*models.Page, error) {
	content, sum, err := encodeTree(tree)
	if err != nil {
		return nil, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	p, err := scanPage(tx.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: page %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: save page: %w", err)
	}
	if ifMatch != "" && ifMatch != p.Checksum {
		return nil, fmt.Errorf("index: page %s changed: %w", id, apperr.ErrConflict)
	}

	if title != "" && title != p.Title {
		p.Title = title
		p.Slug = slug.Make(title)
	}
	p.Content = content
	p.Checksum = sum
	p.UpdatedAt = db.timestamp()

	_, err = tx.ExecContext(ctx, `
		UPDATE pages SET title = ?, slug = ?, content = ?, checksum = ?, updated_at = ?
		WHERE id = ?
	`, p.Title, p.Slug, string(p.Content), p.Checksum, p.UpdatedAt, p.ID)
	if err != nil {
		return nil, fmt.Errorf("index: save page: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("index: commit: %w", err)
	}
	return p, nil
}

// DeletePage removes the page row. Link graph cleanup is done separately by
// DeleteSyncForPage and MarkTargetDeleted.
func (db *DB) DeletePage(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("index: delete page: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: page %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ListPages returns page summaries ordered by most recent update, and the total count.
func (db *DB) ListPages(ctx context.Context, limit, offset int) ([]models.PageSummary, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM pages`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count pages: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, slug, updated_at FROM pages
		ORDER BY updated_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list pages: %w", err)
	}
	out, err := sqlutil.ScanRows(rows, func(r *sql.Rows) (models.PageSummary, error) {
		var s models.PageSummary
		err := r.Scan(&s.ID, &s.Title, &s.Slug, &s.UpdatedAt)
		return s, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("index: list pages: %w", err)
	}
	return out, total, nil
}

// PagesByIDs returns the pages among ids that exist, without content.
// Missing ids are omitted. Empty input returns nil without a query.
func (db *DB) PagesByIDs(ctx context.Context, ids []string) ([]models.Page, error) {
	ids = sqlutil.Dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	ph, args := sqlutil.InClauseArgs(ids)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+pageSummaryColumns+` FROM pages
		WHERE id IN (`+ph+`)
		ORDER BY title, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: pages by ids: %w", err)
	}
	out, err := sqlutil.ScanRows(rows, func(r *sql.Rows) (models.Page, error) {
		var (
			p   models.Page
			src sql.NullString
		)
		err := r.Scan(&p.ID, &p.Title, &p.Slug, &p.Checksum, &src, &p.CreatedAt, &p.UpdatedAt)
		p.SourcePath = src.String
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("index: pages by ids: %w", err)
	}
	return out, nil
}

// SourcePaths returns the id of every file-backed page keyed by source path.
func (db *DB) SourcePaths(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT source_path, id FROM pages WHERE source_path IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("index: source paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, err
		}
		out[path] = id
	}
	return out, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(r rowScanner) (*models.Page, error) {
	var (
		p       models.Page
		content string
		src     sql.NullString
	)
	if err := r.Scan(&p.ID, &p.Title, &p.Slug, &content, &p.Checksum, &src, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Content = []byte(content)
	p.SourcePath = src.String
	return &p, nil
}

// encodeTree returns the canonical content bytes and their checksum.
func encodeTree(tree *doc.Node) ([]byte, string, error) {
	data, err := doc.Marshal(tree)
	if err != nil {
		return nil, "", fmt.Errorf("index: encode content: %w", err)
	}
	return data, checksum.Sum(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
