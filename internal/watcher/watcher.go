// Package watcher watches files and announces debounced changes as pubsub
// events.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/observ/internal/log"
	"github.com/zjrosen/observ/internal/pubsub"
)

// EventChanged is emitted with the changed file's path as its only argument.
const EventChanged = "changed"

// Watcher monitors a set of files and emits EventChanged on its Observable.
type Watcher struct {
	*pubsub.Observable

	fsWatcher *fsnotify.Watcher
	paths     map[string]struct{}
	debounce  time.Duration
	done      chan struct{}
	stopped   chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	Paths       []string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(paths ...string) Config {
	return Config{
		Paths:       paths,
		DebounceDur: 200 * time.Millisecond,
	}
}

// New creates a watcher. opts configure the embedded Observable.
func New(cfg Config, opts ...pubsub.Option) (*Watcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("watcher needs at least one path")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	paths := make(map[string]struct{}, len(cfg.Paths))
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		paths[abs] = struct{}{}
	}

	return &Watcher{
		Observable: pubsub.New(opts...),
		fsWatcher:  fsw,
		paths:      paths,
		debounce:   cfg.DebounceDur,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}, nil
}

// Start watches the directories containing the configured files. Editors
// often replace files by rename, so directories are watched, not files.
func (w *Watcher) Start(ctx context.Context) error {
	dirs := make(map[string]struct{})
	for p := range w.paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}

	log.SafeGo("watcher.loop", func() { w.loop(ctx) })
	return nil
}

// Stop terminates the watcher and waits for the loop to exit.
func (w *Watcher) Stop() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.fsWatcher.Close()
	<-w.stopped
	return err
}

// loop processes file system events with debouncing. Each path has its own
// timer so changes to different files are not merged.
func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)

	fire := make(chan string, len(w.paths))
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			path, relevant := w.relevant(event)
			if !relevant {
				continue
			}
			if t, ok := timers[path]; ok {
				t.Reset(w.debounce)
				continue
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- path:
				default:
				}
			})

		case path := <-fire:
			delete(timers, path)
			log.Debug(log.CatWatcher, "file changed", "path", path)
			if err := w.Emit(ctx, EventChanged, path); err != nil {
				log.ErrorErr(log.CatWatcher, "change handler failed", err, "path", path)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "fsnotify error", err)

		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

// relevant reports whether event touches a watched file and returns its path.
func (w *Watcher) relevant(event fsnotify.Event) (string, bool) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return "", false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return "", false
	}
	_, ok := w.paths[abs]
	return abs, ok
}
