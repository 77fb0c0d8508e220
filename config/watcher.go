package config

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFile watches a file for changes and calls onChange after each change
// settles. It watches the containing directory rather than the file itself,
// which survives the rename-and-replace dance editors and config writers do.
// Rapid successive writes are debounced. The returned stop function releases
// the watcher.
func WatchFile(filePath string, debounce time.Duration, onChange func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to resolve %s: %w", filePath, err)
	}
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	done := make(chan struct{})

	go func() {
		var debounceTimer *time.Timer
		defer func() {
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
		}()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filename {
					continue
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.AfterFunc(debounce, onChange)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ [CONFIG] Watcher error for %s: %v", filePath, err)

			case <-done:
				return
			}
		}
	}()

	log.Printf("👁️ [CONFIG] Watching %s for changes (hot-reload enabled)", filePath)

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
		watcher.Close()
	}, nil
}
