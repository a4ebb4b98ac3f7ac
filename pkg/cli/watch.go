package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/cmsroles/pkg/observability"
)

// watchFile calls apply every time path is written or replaced, until ctx is done.
// The parent directory is watched since editors often replace files by rename.
// Each apply runs under a fresh run ID.
func watchFile(ctx context.Context, path string, apply func(ctx context.Context) error) error {
	log := observability.FromContext(ctx).WithField("component", "load-roles")

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			run := newRun(ctx)
			runLog := log.ForContext(run)
			runLog.WithField("file", target).Info("role definitions changed")
			if err := apply(run); err != nil {
				runLog.WithError(err).Error("failed to apply role definitions")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watcher error")
		}
	}
}
