// Package watch triggers rebuilds when IDL or C sources change.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/idlforge/internal/storage"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 300 * time.Millisecond

// Change is one relevant file system event.
type Change struct {
	Kind string // "created", "updated", "deleted"
	Path string
}

// Callback receives the changes collected during one debounce window.
type Callback func(ctx context.Context, changes []Change)

// Config selects what is watched.
type Config struct {
	Dirs     []string
	Suffixes []string
	Debounce time.Duration
}

func (c Config) relevant(path string) bool {
	base := filepath.Base(path)
	if ok, _ := filepath.Match(storage.TempPattern, base); ok {
		return false
	}
	for _, s := range c.Suffixes {
		if strings.HasSuffix(base, s) {
			return true
		}
	}
	return false
}

// Watch starts an fsnotify watcher on cfg.Dirs and calls cb once per burst
// of relevant changes until ctx is cancelled. cb runs on the watcher
// goroutine, so bursts arriving during a build are batched into the next
// call.
//
// New directories created at runtime are automatically added to the watch
// list. Missing directories are skipped.
func Watch(ctx context.Context, cfg Config, logger *slog.Logger, cb Callback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, dir := range cfg.Dirs {
		if _, statErr := os.Stat(dir); statErr != nil {
			logger.Warn("watcher: skipping dir", slog.String("path", dir), slog.String("error", statErr.Error()))
			continue
		}
		if err := addDirsRecursive(w, dir); err != nil {
			return err
		}
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	logger.Info("watcher: started", slog.Int("dirs", len(cfg.Dirs)))

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		pending []Change
		seen    = make(map[Change]struct{})
	)
	schedule := func(c Change) {
		if _, dup := seen[c]; !dup {
			seen[c] = struct{}{}
			pending = append(pending, c)
		}
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			batch := pending
			pending = nil
			seen = make(map[Change]struct{})
			logger.Debug("watcher: changes settled", slog.Int("changes", len(batch)))
			if cb != nil && len(batch) > 0 {
				cb(ctx, batch)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			// --- Handle new directories: add to watcher ---
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
					_ = filepath.WalkDir(ev.Name, func(p string, d fs.DirEntry, err error) error {
						if err == nil && !d.IsDir() && cfg.relevant(p) {
							schedule(Change{Kind: "created", Path: p})
						}
						return nil
					})
					continue
				}
			}

			if !cfg.relevant(ev.Name) {
				continue
			}
			switch {
			case ev.Op&fsnotify.Create != 0:
				schedule(Change{Kind: "created", Path: ev.Name})
			case ev.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
				schedule(Change{Kind: "updated", Path: ev.Name})
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// fsnotify fires Rename on the old path only; the new path
				// arrives as a separate Create.
				schedule(Change{Kind: "deleted", Path: ev.Name})
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
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
