package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the cache when files in the catalog directories change
// behind our back, then reloads so listeners hear about it. Bursts of
// events within WatchDebounce collapse into one reload. Watch blocks until
// ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	watched := 0
	for _, d := range c.opts.Dirs {
		if _, err := os.Stat(d.Path); err != nil {
			c.logger.Warn("Not watching missing instruction directory", "dir", d.Path)
			continue
		}
		if err := watcher.Add(d.Path); err != nil {
			c.logger.Warn("Cannot watch instruction directory", "dir", d.Path, "error", err)
			continue
		}
		watched++
	}
	c.logger.Debug("Catalog watcher started", "dirs", watched)

	timer := time.NewTimer(c.opts.WatchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			c.logger.Debug("Catalog file event", "op", ev.Op.String(), "file", ev.Name)
			if !pending {
				pending = true
				timer.Reset(c.opts.WatchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("Catalog watcher error", "error", err)

		case <-timer.C:
			pending = false
			c.Invalidate()
			if _, err := c.EnsureLoaded(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("Reload after file change failed", "error", err)
			}
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(ev.Name)
	return name == VersionMarker || candidate(name)
}
