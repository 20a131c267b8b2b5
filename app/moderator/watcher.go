package moderator

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchModel watches the model artifact and calls reload on every change, so
// a freshly trained model is picked up without a restart. The trainer swaps
// the artifact in with a rename, which retires the watched inode, so the
// watch is set on the parent directory and filtered by file name. Blocks
// until the context is canceled.
func WatchModel(ctx context.Context, path string, reload func(path string) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[INFO] stopping model watcher for %s, %v", path, ctx.Err())
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				// a rename-over shows up as Create of the target name,
				// in-place updates as Write
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if e := reload(path); e != nil {
						log.Printf("[WARN] failed to reload model from %s: %v", path, e)
						continue
					}
					log.Printf("[INFO] model reloaded from %s", path)
				}
			case e, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] model watcher error: %v", e)
			}
		}
	}()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch directory of %s: %w", path, err)
	}
	<-done
	return nil
}
