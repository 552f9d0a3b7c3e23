package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/checksum"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/links"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/sqlutil"
)

// SyncPage makes the occurrences sourced from pageID match the references
// extracted from tree exactly. Groups for new keys are created on first
// use; the count of every group gaining or losing occurrences is recomputed.
//
// The whole replace runs in one transaction. On failure nothing changes and
// the returned error wraps apperr.ErrSyncFailed.
func (db *DB) SyncPage(ctx context.Context, pageID string, tree *doc.Node) error {
	refs := links.Extract(tree)
	sum, err := checksum.Tree(tree)
	if err != nil {
		return syncErr(pageID, err)
	}
	if err := db.syncPage(ctx, pageID, refs, sum); err != nil {
		return syncErr(pageID, err)
	}
	return nil
}

func (db *DB) syncPage(ctx context.Context, pageID string, refs []links.Extracted, sum string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	previous, err := groupIDsSourcedFrom(ctx, tx, pageID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM link_occurrences WHERE source_page_id = ?`, pageID); err != nil {
		return fmt.Errorf("delete occurrences: %w", err)
	}

	now := db.timestamp()
	groupIDs, err := db.ensureGroups(ctx, tx, refs, now)
	if err != nil {
		return err
	}

	if len(refs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO link_occurrences (id, link_group_id, source_page_id, annotation_id, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare occurrence insert: %w", err)
		}
		defer stmt.Close()
		for _, ref := range refs {
			if _, err := stmt.ExecContext(ctx, db.newID(), groupIDs[ref.Key], pageID, ref.AnnotationID, ref.Position, now); err != nil {
				return fmt.Errorf("insert occurrence: %w", err)
			}
		}
	}

	touched := previous
	for _, id := range groupIDs {
		touched = append(touched, id)
	}
	if err := recount(ctx, tx, touched, now); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO link_sync_state (page_id, checksum, synced_at) VALUES (?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET checksum = excluded.checksum, synced_at = excluded.synced_at
	`, pageID, sum, now)
	if err != nil {
		return fmt.Errorf("record sync state: %w", err)
	}
	return tx.Commit()
}

// ensureGroups creates a group for every key of refs that has none and
// returns the group id for each key. raw_text comes from the first
// reference carrying the key.
func (db *DB) ensureGroups(ctx context.Context, tx *sql.Tx, refs []links.Extracted, now time.Time) (map[string]string, error) {
	if len(refs) == 0 {
		return map[string]string{}, nil
	}
	raw := make(map[string]string, len(refs))
	for _, ref := range refs {
		if _, ok := raw[ref.Key]; !ok {
			raw[ref.Key] = ref.RawText
		}
	}
	keys := links.Keys(refs)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO link_groups (id, key, raw_text, target_state, link_count, created_at, updated_at)
		VALUES (?, ?, ?, 'unresolved', 0, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare group upsert: %w", err)
	}
	defer stmt.Close()
	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, db.newID(), key, raw[key], now, now); err != nil {
			return nil, fmt.Errorf("upsert group %q: %w", key, err)
		}
	}

	ph, args := sqlutil.InClauseArgs(keys)
	rows, err := tx.QueryContext(ctx, `SELECT key, id FROM link_groups WHERE key IN (`+ph+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("select groups: %w", err)
	}
	pairs, err := sqlutil.ScanRows(rows, func(r *sql.Rows) ([2]string, error) {
		var kv [2]string
		err := r.Scan(&kv[0], &kv[1])
		return kv, err
	})
	if err != nil {
		return nil, fmt.Errorf("select groups: %w", err)
	}
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		out[kv[0]] = kv[1]
	}
	if len(out) != len(keys) {
		return nil, fmt.Errorf("resolved %d of %d group keys", len(out), len(keys))
	}
	return out, nil
}

// DeleteSyncForPage removes every occurrence sourced from pageID and
// recounts the groups they belonged to. Groups themselves are kept.
func (db *DB) DeleteSyncForPage(ctx context.Context, pageID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	previous, err := groupIDsSourcedFrom(ctx, tx, pageID)
	if err != nil {
		return fmt.Errorf("index: delete sync: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM link_occurrences WHERE source_page_id = ?`, pageID); err != nil {
		return fmt.Errorf("index: delete sync: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM link_sync_state WHERE page_id = ?`, pageID); err != nil {
		return fmt.Errorf("index: delete sync state: %w", err)
	}
	if err := recount(ctx, tx, previous, db.timestamp()); err != nil {
		return fmt.Errorf("index: delete sync: %w", err)
	}
	return tx.Commit()
}

// EnsureGroup returns the group for key, creating an unresolved one with
// rawText when none exists.
func (db *DB) EnsureGroup(ctx context.Context, key, rawText string) (*models.LinkGroup, error) {
	key = links.NormalizeKey(key)
	if key == "" {
		return nil, fmt.Errorf("index: ensure group: empty key: %w", apperr.ErrNotFound)
	}
	if rawText == "" {
		rawText = key
	}
	now := db.timestamp()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO link_groups (id, key, raw_text, target_state, link_count, created_at, updated_at)
		VALUES (?, ?, ?, 'unresolved', 0, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, db.newID(), key, rawText, now, now)
	if err != nil {
		return nil, fmt.Errorf("index: ensure group: %w", err)
	}
	return db.GroupByKey(ctx, key)
}

// ConnectGroupToPage resolves the group for key to pageID.
//
// An unresolved or dangling group becomes resolved. A group already
// resolved to pageID is left as is. A group resolved to another page is
// never re-pointed and yields apperr.ErrAlreadyResolved.
func (db *DB) ConnectGroupToPage(ctx context.Context, key, pageID string) (*models.LinkGroup, error) {
	key = links.NormalizeKey(key)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	g, err := scanGroup(tx.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM link_groups WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: link group %q: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: connect group: %w", err)
	}

	if target, ok := g.Resolution.Target(); ok {
		if target == pageID {
			return g, nil
		}
		return nil, fmt.Errorf("index: link group %q points at %s: %w", key, target, apperr.ErrAlreadyResolved)
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM pages WHERE id = ?`, pageID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: target page %s: %w", pageID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: connect group: %w", err)
	}

	now := db.timestamp()
	res, err := tx.ExecContext(ctx, `
		UPDATE link_groups SET page_id = ?, target_state = 'resolved', updated_at = ?
		WHERE id = ? AND target_state != 'resolved'
	`, pageID, now, g.ID)
	if err != nil {
		return nil, fmt.Errorf("index: connect group: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, fmt.Errorf("index: link group %q: %w", key, apperr.ErrAlreadyResolved)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("index: commit: %w", err)
	}
	g.Resolution = models.ResolvedTo(pageID)
	g.UpdatedAt = now
	return g, nil
}

// MarkTargetDeleted turns every group resolved to pageID dangling and
// returns how many changed.
func (db *DB) MarkTargetDeleted(ctx context.Context, pageID string) (int, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE link_groups SET target_state = 'dangling', updated_at = ?
		WHERE page_id = ? AND target_state = 'resolved'
	`, db.timestamp(), pageID)
	if err != nil {
		return 0, fmt.Errorf("index: mark target deleted: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func groupIDsSourcedFrom(ctx context.Context, tx *sql.Tx, pageID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT link_group_id FROM link_occurrences WHERE source_page_id = ?`, pageID)
	if err != nil {
		return nil, fmt.Errorf("previous groups: %w", err)
	}
	ids, err := sqlutil.ScanRows(rows, func(r *sql.Rows) (string, error) {
		var id string
		err := r.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("previous groups: %w", err)
	}
	return ids, nil
}

// recount sets link_count of each group to its live occurrence count.
func recount(ctx context.Context, tx *sql.Tx, groupIDs []string, now time.Time) error {
	groupIDs = sqlutil.Dedupe(groupIDs)
	if len(groupIDs) == 0 {
		return nil
	}
	ph, args := sqlutil.InClauseArgs(groupIDs, now)
	_, err := tx.ExecContext(ctx, `
		UPDATE link_groups SET
			link_count = (SELECT count(*) FROM link_occurrences o WHERE o.link_group_id = link_groups.id),
			updated_at = ?
		WHERE id IN (`+ph+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("recount groups: %w", err)
	}
	return nil
}

func syncErr(pageID string, err error) error {
	return fmt.Errorf("index: sync page %s: %w: %w", pageID, apperr.ErrSyncFailed, err)
}
