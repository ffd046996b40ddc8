package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/xraph/bridge/filter"
)

// DefaultDebounce collapses bursts of writes from editors and atomic renames.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a filter file on change and swaps it into a filter chain.
// A file that fails to parse leaves the current filters in place.
type Watcher struct {
	path     string
	base     filter.Config
	chain    *filter.Chain
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher for path. base supplies the fields the file
// leaves out.
func NewWatcher(path string, base filter.Config, chain *filter.Chain, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		base:     base,
		chain:    chain,
		debounce: DefaultDebounce,
		logger:   logger.With("filters_file", path),
	}
}

// SetDebounce changes the quiet period before a reload.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Run watches until ctx is done. The parent directory is watched so that
// replace-by-rename is seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", w.path, err)
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "filter watcher error", "error", err)

		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := LoadFilterFile(w.path, w.base)
	if err != nil {
		w.logger.WarnContext(ctx, "filter reload failed, keeping current filters", "error", err)
		return
	}
	w.chain.Swap(cfg)
	w.logger.InfoContext(ctx, "filters reloaded",
		"allow", len(cfg.AllowList),
		"deny", len(cfg.DenyList),
		"excluded_commands", len(cfg.ExcludedCommands),
		"ignore_bots", cfg.IgnoreBots,
	)
}
