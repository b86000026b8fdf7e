// Package watch wraps fsnotify in a scoped, release-once resource.
package watch

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watch observes one directory until released.
type Watch interface {
	// Release stops the watch. Only the first call has an effect.
	Release() error
}

// Watcher creates watches.
type Watcher interface {
	Watch(dir string, onChange func(name string)) (Watch, error)
}

// FS is a Watcher backed by fsnotify.
type FS struct {
	logger *slog.Logger
}

// NewFS creates an fsnotify based watcher.
func NewFS(logger *slog.Logger) *FS {
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{logger: logger}
}

type fsWatch struct {
	w    *fsnotify.Watcher
	once sync.Once
	done chan struct{}
	err  error
}

// Watch starts delivering change notifications for dir to onChange. The
// callback runs on the watcher goroutine.
func (f *FS) Watch(dir string, onChange func(name string)) (Watch, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	fw := &fsWatch{w: w, done: make(chan struct{})}
	go func() {
		defer close(fw.done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					onChange(ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				f.logger.Debug("Watch error", "dir", dir, "error", err)
			}
		}
	}()
	return fw, nil
}

func (fw *fsWatch) Release() error {
	fw.once.Do(func() {
		fw.err = fw.w.Close()
		<-fw.done
	})
	return fw.err
}
