package infra

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/face_mon/internal/domain"
)

// watchSettle is how long the directory must be quiet before a reload.
const watchSettle = 500 * time.Millisecond

// Watch reloads the reference when its images are changed by something other
// than this store. An invalid set on disk is logged and the in-memory identity
// is kept. Blocks until ctx is canceled.
func (s *FileReferenceStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.logger.Debug("watching reference directory", zap.String("dir", s.dir))

	settle := time.NewTimer(watchSettle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if isReferenceFile(ev.Name) && ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				settle.Reset(watchSettle)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("reference watcher error", zap.Error(err))

		case <-settle.C:
			s.ReloadIfChanged(ctx)
		}
	}
}

// ReloadIfChanged loads the images on disk if they differ from the ones this
// store last saw. Reports whether a new identity was activated.
func (s *FileReferenceStore) ReloadIfChanged(ctx context.Context) bool {
	if !s.changedOnDisk() {
		return false
	}

	id, err := s.Load(ctx)
	if err != nil {
		s.logger.Warn("reference changed on disk but is not usable, keeping current identity", zap.Error(err))
		return false
	}
	s.logger.Info("reference reloaded after external change", zap.Int64("generation", id.Generation))
	return true
}

func isReferenceFile(path string) bool {
	base := filepath.Base(path)
	if base == ManifestFileName {
		return true
	}
	for i := 0; i < domain.ReferenceSize; i++ {
		if base == ImageFileName(i) {
			return true
		}
	}
	return false
}
