package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yllada/macprox/common"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 300 * time.Millisecond

// Watch calls onChange with the freshly loaded configuration whenever the
// file at path is written or replaced, until ctx is done. Invalid files are
// logged and skipped, so onChange only ever sees validated configs. A file
// that was removed or moved away is left alone and the current settings
// stay in effect.
//
// The parent directory is watched rather than the file so that editors
// which save by rename keep being observed.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var (
			mu    sync.Mutex
			timer *time.Timer
		)
		defer func() {
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
		}()

		reload := func() {
			if ctx.Err() != nil {
				return
			}
			// A file moved away must not come back as defaults.
			if !common.FileExists(path) {
				common.LogDebug("Config %s is gone, keeping the current settings", path)
				return
			}
			cfg, err := readFile(path)
			if err != nil {
				common.LogWarn("Config reload skipped: %v", err)
				return
			}
			common.LogInfo("Configuration reloaded from %s", path)
			onChange(cfg)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				common.LogDebug("Config event %s on %s", ev.Op, ev.Name)

				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, reload)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				common.LogWarn("Config watcher error: %v", err)
			}
		}
	}()

	return nil
}
