package proxy

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// rebuildSettle coalesces the burst of events a compiler or installer
// produces while replacing a binary.
const rebuildSettle = 250 * time.Millisecond

// ResolveCommand returns the absolute path of command, searching PATH when
// it has no directory component.
func ResolveCommand(command string) (string, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", command, err)
	}
	return filepath.Abs(path)
}

// WatchBinary restarts the child whenever the server binary at path is
// written or replaced. The containing directory is watched because builds
// usually replace the file by rename. Watching stops when ctx is done.
func (s *Supervisor) WatchBinary(ctx context.Context, path string) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving watch path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}

	s.logger.Info(ctx, "watching server binary for changes", zap.String("path", target))
	go s.processWatchEvents(ctx, watcher, target)
	return nil
}

func (s *Supervisor) processWatchEvents(ctx context.Context, watcher *fsnotify.Watcher, target string) {
	defer func() { _ = watcher.Close() }()

	settle := time.NewTimer(rebuildSettle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				settle.Reset(rebuildSettle)
			}
		case <-settle.C:
			s.Restart(ctx, "server binary changed")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn(ctx, "binary watcher error", zap.Error(err))
		}
	}
}
