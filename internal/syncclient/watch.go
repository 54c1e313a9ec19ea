package syncclient

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watch syncs immediately whenever the quotes file changes on disk, so a
// local edit does not wait for the next interval tick. It blocks until ctx
// is cancelled. The watch is on the directory because editors and the
// syncer itself replace the file by rename, which drops a watch placed on
// the file directly.
func (s *Syncer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	quotesPath, err := filepath.Abs(s.quotesFile.Path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(quotesPath)); err != nil {
		return err
	}

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			eventPath, pathErr := filepath.Abs(event.Name)
			if pathErr != nil || eventPath != quotesPath {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logf("watch error: %v", watchErr)
		case <-fire:
			fire = nil
			if data, readErr := os.ReadFile(quotesPath); readErr == nil && hashBytes(data) == s.lastSavedHash {
				// Our own save landing on disk, not an outside edit.
				continue
			}
			if _, err := s.SyncOnce(ctx); err != nil {
				s.logf("watch-triggered sync failed: %v", err)
			}
		}
	}
}
