package session

import (
	"fmt"
	"path/filepath"

	"loopline/internal/observability"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports external removal of a FileStore's credential file.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch calls onRemoved whenever the session file is removed or renamed away.
// The parent directory is watched so that atomic rewrites are not missed.
func (s *FileStore) Watch(onRemoved func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(s.path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	w := &Watcher{watcher: fw, done: make(chan struct{})}
	target := filepath.Clean(s.path)
	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					onRemoved()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				observability.GlobalLogger.Warn("session watcher error", "error", err.Error())
			}
		}
	}()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
