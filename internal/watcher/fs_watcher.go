package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openmined/s3sync/internal/endpoint"
	"github.com/rjeczalik/notify"
)

const eventBufferSize = 1024

// FSWatcher watches the include directories of a local endpoint.
type FSWatcher struct {
	index     Index
	roots     []string
	rawEvents chan notify.EventInfo
	aliases   map[string]string
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewFSWatcher(index Index, roots []string) *FSWatcher {
	return &FSWatcher{
		index:   index,
		roots:   roots,
		aliases: make(map[string]string),
		done:    make(chan struct{}),
	}
}

// ForEndpoint watches every include of e that is a directory. Includes
// that are single files are left to periodic rescans.
func ForEndpoint(e *endpoint.LocalEndpoint) *FSWatcher {
	var roots []string
	for _, include := range e.Rules().Includes() {
		root := e.Path(include)
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			slog.Warn("watcher skipped include", "endpoint", e.Name(), "include", include, "reason", "not a directory")
			continue
		}
		roots = append(roots, root)
	}
	return NewFSWatcher(e, roots)
}

func (w *FSWatcher) Roots() []string {
	return w.roots
}

func (w *FSWatcher) Start(ctx context.Context, sink Sink) error {
	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)

	for _, root := range w.roots {
		// notify reports resolved paths, keys are computed from the
		// configured ones
		watchDir := root
		if resolved, err := filepath.EvalSymlinks(root); err == nil && resolved != root {
			w.aliases[resolved] = root
			watchDir = resolved
		}
		slog.Info("file watcher start", "dir", watchDir)
		if err := notify.Watch(filepath.Join(watchDir, "..."), w.rawEvents, notify.All); err != nil {
			notify.Stop(w.rawEvents)
			return err
		}
	}

	w.wg.Add(1)
	go w.forward(ctx, sink)
	return nil
}

func (w *FSWatcher) forward(ctx context.Context, sink Sink) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev := <-w.rawEvents:
			for _, change := range Normalize(w.index, w.unalias(ev.Path())) {
				slog.Debug("file watcher", "event", ev.Event(), "change", change.Type, "key", change.Key)
				sink(change)
			}
		}
	}
}

func (w *FSWatcher) unalias(path string) string {
	for resolved, root := range w.aliases {
		if path == resolved || strings.HasPrefix(path, resolved+string(filepath.Separator)) {
			return root + strings.TrimPrefix(path, resolved)
		}
	}
	return path
}

// Stop removes the notification watches and waits for the forwarding
// goroutine to exit.
func (w *FSWatcher) Stop() {
	w.stopOnce.Do(func() {
		if w.rawEvents != nil {
			notify.Stop(w.rawEvents)
		}
		close(w.done)
		w.wg.Wait()
		slog.Info("file watcher stopped")
	})
}

var _ Watcher = (*FSWatcher)(nil)
