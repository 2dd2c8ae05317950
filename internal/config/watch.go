package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Watch calls onChange with the reloaded configuration each time the file at
// path is written or replaced, until ctx is done. A file that fails to load
// is logged and skipped; the previous configuration stays in effect.
//
// The parent directory is watched so that editors which save by renaming a
// temporary file over the original are seen too.
func Watch(ctx context.Context, path string, log *zap.SugaredLogger, onChange func(Config)) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "config: resolve path")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config: new watcher")
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrap(err, "config: watch")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				log.Warnw("config reload failed", "path", abs, "error", err)
				continue
			}
			log.Infow("config reloaded", "path", abs)
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnw("config watcher error", "error", err)
		}
	}
}
