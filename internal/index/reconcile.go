package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/sqlutil"
)

// ReconcileReport summarizes one reconcile pass.
type ReconcileReport struct {
	Resynced int `json:"resynced"`
	Failed   int `json:"failed"`
	Orphans  int `json:"orphans"`
	Dangling int `json:"dangling"`
}

// Reconcile repairs the link graph after failed or missed syncs:
//   - pages whose content checksum differs from the last synced one are re-synced
//   - occurrences sourced from pages that no longer exist are removed
//   - groups resolved to pages that no longer exist become dangling
//
// Per-page failures are logged and counted; only query failures are returned.
func (db *DB) Reconcile(ctx context.Context, logger *slog.Logger) (ReconcileReport, error) {
	var report ReconcileReport

	stale, err := db.stalePages(ctx)
	if err != nil {
		return report, err
	}
	for _, sp := range stale {
		tree, err := doc.Parse([]byte(sp.content))
		if err == nil {
			err = db.SyncPage(ctx, sp.id, tree)
		}
		if err != nil {
			report.Failed++
			logger.Warn("reconcile: sync failed", slog.String("page_id", sp.id), slog.String("error", err.Error()))
			continue
		}
		report.Resynced++
	}

	orphans, err := db.orphanSources(ctx)
	if err != nil {
		return report, err
	}
	for _, id := range orphans {
		if err := db.DeleteSyncForPage(ctx, id); err != nil {
			logger.Warn("reconcile: orphan cleanup failed", slog.String("page_id", id), slog.String("error", err.Error()))
			continue
		}
		report.Orphans++
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE link_groups SET target_state = 'dangling', updated_at = ?
		WHERE target_state = 'resolved' AND page_id NOT IN (SELECT id FROM pages)
	`, db.timestamp())
	if err != nil {
		return report, fmt.Errorf("index: reconcile dangling: %w", err)
	}
	n, _ := res.RowsAffected()
	report.Dangling = int(n)

	if report != (ReconcileReport{}) {
		logger.Info("reconcile: done",
			slog.Int("resynced", report.Resynced),
			slog.Int("failed", report.Failed),
			slog.Int("orphans", report.Orphans),
			slog.Int("dangling", report.Dangling),
		)
	}
	return report, nil
}

type stalePage struct {
	id      string
	content string
}

func (db *DB) stalePages(ctx context.Context) ([]stalePage, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT p.id, p.content FROM pages p
		LEFT JOIN link_sync_state s ON s.page_id = p.id
		WHERE s.checksum IS NULL OR s.checksum != p.checksum
	`)
	if err != nil {
		return nil, fmt.Errorf("index: stale pages: %w", err)
	}
	out, err := sqlutil.ScanRows(rows, func(r *sql.Rows) (stalePage, error) {
		var sp stalePage
		err := r.Scan(&sp.id, &sp.content)
		return sp, err
	})
	if err != nil {
		return nil, fmt.Errorf("index: stale pages: %w", err)
	}
	return out, nil
}

func (db *DB) orphanSources(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT DISTINCT source_page_id FROM link_occurrences
		WHERE source_page_id NOT IN (SELECT id FROM pages)
		UNION
		SELECT page_id FROM link_sync_state
		WHERE page_id NOT IN (SELECT id FROM pages)
	`)
	if err != nil {
		return nil, fmt.Errorf("index: orphan sources: %w", err)
	}
	out, err := sqlutil.ScanRows(rows, func(r *sql.Rows) (string, error) {
		var id string
		err := r.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("index: orphan sources: %w", err)
	}
	return out, nil
}
