package watcher

import (
	"context"
	"sync"
)

// Fake is a Watcher driven by Emit.
type Fake struct {
	mu      sync.Mutex
	sink    Sink
	started bool
	stopped bool
}

func (f *Fake) Start(_ context.Context, sink Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
	f.started = true
	return nil
}

func (f *Fake) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// Emit delivers events to the sink if the watcher is running.
func (f *Fake) Emit(events ...ChangeEvent) {
	f.mu.Lock()
	sink := f.sink
	running := f.started && !f.stopped
	f.mu.Unlock()
	if !running {
		return
	}
	for _, ev := range events {
		sink(ev)
	}
}

func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *Fake) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

var _ Watcher = (*Fake)(nil)
