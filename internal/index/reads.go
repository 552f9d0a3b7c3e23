package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/links"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/sqlutil"
)

const groupColumns = `id, key, raw_text, page_id, target_state, link_count, created_at, updated_at`

// GroupByKey returns the group for a normalized key.
func (db *DB) GroupByKey(ctx context.Context, key string) (*models.LinkGroup, error) {
	key = links.NormalizeKey(key)
	g, err := scanGroup(db.conn.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM link_groups WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: link group %q: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: group by key: %w", err)
	}
	return g, nil
}

// GroupsByKeys returns the groups among keys that exist, keyed by key.
func (db *DB) GroupsByKeys(ctx context.Context, keys []string) (map[string]models.LinkGroup, error) {
	keys = sqlutil.Dedupe(keys)
	if len(keys) == 0 {
		return map[string]models.LinkGroup{}, nil
	}
	ph, args := sqlutil.InClauseArgs(keys)
	groups, err := db.queryGroups(ctx, `SELECT `+groupColumns+` FROM link_groups WHERE key IN (`+ph+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: groups by keys: %w", err)
	}
	out := make(map[string]models.LinkGroup, len(groups))
	for _, g := range groups {
		out[g.Key] = g
	}
	return out, nil
}

// GroupsTargeting returns the groups currently resolved to pageID.
func (db *DB) GroupsTargeting(ctx context.Context, pageID string) ([]models.LinkGroup, error) {
	groups, err := db.queryGroups(ctx, `
		SELECT `+groupColumns+` FROM link_groups
		WHERE page_id = ? AND target_state = 'resolved'
		ORDER BY key
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("index: groups targeting: %w", err)
	}
	return groups, nil
}

// GroupsSourcedFrom returns the groups with at least one occurrence in pageID.
func (db *DB) GroupsSourcedFrom(ctx context.Context, pageID string) ([]models.LinkGroup, error) {
	groups, err := db.queryGroups(ctx, `
		SELECT `+groupColumns+` FROM link_groups
		WHERE id IN (SELECT link_group_id FROM link_occurrences WHERE source_page_id = ?)
		ORDER BY key
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("index: groups sourced from: %w", err)
	}
	return groups, nil
}

// OccurrencesByGroupIDs returns every occurrence owned by the given groups.
// Empty input returns nil without a query.
func (db *DB) OccurrencesByGroupIDs(ctx context.Context, groupIDs []string) ([]models.LinkOccurrence, error) {
	groupIDs = sqlutil.Dedupe(groupIDs)
	if len(groupIDs) == 0 {
		return nil, nil
	}
	ph, args := sqlutil.InClauseArgs(groupIDs)
	occ, err := db.queryOccurrences(ctx, `
		SELECT `+occurrenceColumns+` FROM link_occurrences
		WHERE link_group_id IN (`+ph+`)
		ORDER BY source_page_id, position
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: occurrences by groups: %w", err)
	}
	return occ, nil
}

// OccurrencesForPage returns the occurrences sourced from pageID in position order.
func (db *DB) OccurrencesForPage(ctx context.Context, pageID string) ([]models.LinkOccurrence, error) {
	occ, err := db.queryOccurrences(ctx, `
		SELECT `+occurrenceColumns+` FROM link_occurrences
		WHERE source_page_id = ?
		ORDER BY position
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("index: occurrences for page: %w", err)
	}
	return occ, nil
}

const occurrenceColumns = `id, link_group_id, source_page_id, annotation_id, position, created_at`

func (db *DB) queryGroups(ctx context.Context, query string, args ...any) ([]models.LinkGroup, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlutil.ScanRows(rows, func(r *sql.Rows) (models.LinkGroup, error) {
		g, err := scanGroup(r)
		if err != nil {
			return models.LinkGroup{}, err
		}
		return *g, nil
	})
}

func (db *DB) queryOccurrences(ctx context.Context, query string, args ...any) ([]models.LinkOccurrence, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlutil.ScanRows(rows, func(r *sql.Rows) (models.LinkOccurrence, error) {
		var o models.LinkOccurrence
		err := r.Scan(&o.ID, &o.LinkGroupID, &o.SourcePageID, &o.AnnotationID, &o.Position, &o.CreatedAt)
		return o, err
	})
}

func scanGroup(r rowScanner) (*models.LinkGroup, error) {
	var (
		g      models.LinkGroup
		pageID sql.NullString
		state  string
	)
	if err := r.Scan(&g.ID, &g.Key, &g.RawText, &pageID, &state, &g.LinkCount, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	ts := models.TargetState(state)
	if !ts.Valid() {
		return nil, fmt.Errorf("index: group %s: unknown target state %q", g.ID, state)
	}
	switch ts {
	case models.TargetResolved:
		g.Resolution = models.ResolvedTo(pageID.String)
	case models.TargetDangling:
		g.Resolution = models.Dangling(pageID.String)
	default:
		g.Resolution = models.Unresolved()
	}
	return &g, nil
}
