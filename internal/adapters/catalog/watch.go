package catalog

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/chartsnap/pkg/logger"
	"github.com/okian/chartsnap/pkg/metrics"
)

// Watch reloads path into m whenever the file changes, until ctx is done.
//
// The parent directory is watched so editors that save by rename are picked
// up. A failed reload is logged and the previous contents stay active.
func Watch(ctx context.Context, path string, m *Memory, log logger.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	log.Info(ctx, "catalog: watching for changes", logger.String("path", abs))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			reload(ctx, abs, m, log)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(ctx, "catalog: watcher error", logger.Error(err))
		}
	}
}

func reload(ctx context.Context, path string, m *Memory, log logger.Logger) {
	items, err := LoadFile(path)
	if err != nil {
		metrics.RecordCatalogReload("error")
		log.Error(ctx, "catalog: reload failed, keeping previous catalog",
			logger.String("path", path), logger.Error(err))
		return
	}
	m.Replace(items)
	metrics.RecordCatalogReload("ok")
	log.Info(ctx, "catalog: reloaded", logger.String("path", path), logger.Int("items", len(items)))
}
