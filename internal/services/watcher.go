package services

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskmind/taskmind/internal/logger"
)

// watchDebounce batches bursts of filesystem events (a session directory
// plus its metadata file appearing) into a single nudge.
const watchDebounce = time.Second

// watchSessionsDir watches dir for changes and invokes nudge, debounced,
// until ctx is cancelled. The returned error only reports that the watch
// could not be established; runtime watch errors are logged and dropped.
func watchSessionsDir(ctx context.Context, dir string, nudge func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		timer := time.NewTimer(watchDebounce)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				timer.Reset(watchDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Debugf("sessions dir watch error: %v", err)
			case <-timer.C:
				nudge()
			}
		}
	}()

	return nil
}
