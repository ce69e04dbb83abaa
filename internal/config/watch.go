package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchGateFile reloads a gate-declaration file into reg whenever it
// changes on disk, grounded on the pack's fsnotify directory-watch
// pattern (gateway's watchRoutesFile). Runs until watcher.Close or the
// underlying channels close; call in its own goroutine.
func WatchGateFile(log *zap.SugaredLogger, path string, reg *GateRegistry) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Errorw("failed to create gate file watcher", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		log.Errorw("failed to watch gate file directory", "dir", dir, "error", err)
		return
	}

	reload := func() {
		time.Sleep(100 * time.Millisecond)
		f, err := LoadGates(path)
		if err != nil {
			log.Errorw("failed to reload gate file", "path", path, "error", err)
			return
		}
		reg.Set(f.Gates)
		log.Infow("gate file reloaded", "path", path, "count", len(f.Gates))
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Errorw("gate file watcher error", "error", err)
		}
	}
}
