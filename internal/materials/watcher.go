package materials

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch runs the initial scan, then starts an fsnotify watcher on the drop
// directory and processes file change events until ctx is cancelled.
//
// Subject subdirectories created at runtime are automatically added to the
// watch list. Rename events trigger a debounced rescan that reconciles the
// subject tree against what is actually on disk.
func (s *Service) Watch(ctx context.Context) error {
	if err := s.Scan(ctx); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, s.root); err != nil {
		return err
	}

	s.logger.Info("materials: watcher started", slog.String("root", s.root))

	// rescanTimer debounces rename reconciliation.
	var rescanTimer *time.Timer
	var rescanCh <-chan time.Time

	scheduleRescan := func() {
		if rescanTimer == nil {
			rescanTimer = time.NewTimer(200 * time.Millisecond)
			rescanCh = rescanTimer.C
		} else {
			rescanTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if rescanTimer != nil {
				rescanTimer.Stop()
			}
			s.logger.Info("materials: watcher stopped")
			return nil

		case <-rescanCh:
			if err := s.Scan(ctx); err != nil {
				s.logger.Warn("materials: rescan failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						s.logger.Warn("materials: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					// The directory may already hold files.
					scheduleRescan()
					continue
				}
			}

			if !supportedFile(ev.Name) {
				continue
			}
			subjectID, name, ok := s.subjectFor(ev.Name)
			if !ok {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if s.ingest(subjectID, ev.Name) {
					if _, err := s.sync.PersistSubject(ctx, subjectID); err != nil {
						s.logger.Warn("materials: persist failed", slog.String("subject_id", subjectID))
					}
				}

			case ev.Op&fsnotify.Remove != 0:
				s.remove(ctx, subjectID, name)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only; the new path
				// arrives as a separate Create event if it stays inside the
				// watched tree. Detach the old name now and rescan shortly
				// after to catch stragglers.
				s.remove(ctx, subjectID, name)
				scheduleRescan()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("materials: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
