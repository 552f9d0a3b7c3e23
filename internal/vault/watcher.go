package vault

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const renameSettle = 200 * time.Millisecond

// Watch processes vault file changes until ctx is cancelled.
//
// New directories created at runtime are added to the watch list and their
// files imported. Rename events delete the old page and schedule a full
// import pass to pick up the new path.
func (s *Source) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := s.fs.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	s.logger.Info("vault: watching", slog.String("root", root))

	// importTimer debounces the import pass after renames.
	var importTimer *time.Timer
	var importCh <-chan time.Time
	scheduleImport := func() {
		if importTimer == nil {
			importTimer = time.NewTimer(renameSettle)
			importCh = importTimer.C
		} else {
			importTimer.Reset(renameSettle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if importTimer != nil {
				importTimer.Stop()
			}
			s.logger.Info("vault: watcher stopped")
			return nil

		case <-importCh:
			if _, err := s.Import(ctx); err != nil {
				s.logger.Warn("vault: import after rename failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			s.handle(ctx, w, ev, scheduleImport)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("vault: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func (s *Source) handle(ctx context.Context, w *fsnotify.Watcher, ev fsnotify.Event, scheduleImport func()) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addDirsRecursive(w, ev.Name); err != nil {
				s.logger.Warn("vault: add new dir failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
			s.importDir(ctx, ev.Name)
			return
		}
	}

	if !isMarkdown(filepath.Base(ev.Name)) {
		return
	}
	rel, ok := s.fs.Rel(ev.Name)
	if !ok {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if _, err := s.ImportFile(ctx, rel); err != nil {
			s.logger.Warn("vault: import failed", slog.String("path", rel), slog.String("error", err.Error()))
		}

	case ev.Op&fsnotify.Remove != 0:
		if err := s.sink.DeleteSource(ctx, rel); err != nil {
			s.logger.Warn("vault: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		}

	case ev.Op&fsnotify.Rename != 0:
		// fsnotify reports only the old path; the new one arrives as a
		// Create if it stays inside a watched directory.
		if err := s.sink.DeleteSource(ctx, rel); err != nil {
			s.logger.Warn("vault: rename delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		scheduleImport()
	}
}

// importDir imports any .md files found in a newly created directory.
func (s *Source) importDir(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		if rel, ok := s.fs.Rel(p); ok {
			if _, err := s.ImportFile(ctx, rel); err != nil {
				s.logger.Warn("vault: import failed", slog.String("path", rel), slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
