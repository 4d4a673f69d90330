package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/s3sync/internal/endpoint"
	"github.com/openmined/s3sync/internal/watcher"
)

// Watch runs a full Sync, then keeps the destination in step with change
// events until ctx is done. Full passes repeat every RescanInterval and
// whenever an event driven pass saw a source object vanish.
func (m *Manager) Watch(ctx context.Context) error {
	if err := m.startWatchers(ctx); err != nil {
		return err
	}
	defer m.stopWatchers()

	if _, err := m.Sync(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.clock.After(m.config.WatchInterval):
		}

		if m.rescanDue() {
			m.forceRescan = false
			m.counters.Errors.Reset()
			_, err := m.Sync(ctx)
			if err := m.handle(ctx, err); err != nil {
				return err
			}
			continue
		}

		if err := m.handle(ctx, m.processEvents(ctx)); err != nil {
			return err
		}
	}
}

// handle decides whether a failed pass ends the watch loop. Only
// unsupported transfers do; anything else is retried with a full pass.
func (m *Manager) handle(ctx context.Context, err error) error {
	switch {
	case err == nil, ctx.Err() != nil:
		return nil
	case errors.Is(err, endpoint.ErrNotImplemented):
		return err
	}
	slog.Error("watch", "error", err)
	m.forceRescan = true
	return nil
}

func (m *Manager) rescanDue() bool {
	if m.forceRescan {
		return true
	}
	if m.config.RescanInterval <= 0 {
		return false
	}
	return m.clock.Since(m.lastScan) >= m.config.RescanInterval
}

func (m *Manager) startWatchers(ctx context.Context) error {
	if m.sourceWatcher != nil {
		if err := m.sourceWatcher.Start(ctx, m.sourceEvents.Push); err != nil {
			return fmt.Errorf("source watcher: %w", err)
		}
	}
	if m.destinationWatcher != nil {
		if err := m.destinationWatcher.Start(ctx, m.destinationEvents.Push); err != nil {
			if m.sourceWatcher != nil {
				m.sourceWatcher.Stop()
			}
			return fmt.Errorf("destination watcher: %w", err)
		}
	}
	return nil
}

func (m *Manager) stopWatchers() {
	if m.sourceWatcher != nil {
		m.sourceWatcher.Stop()
	}
	if m.destinationWatcher != nil {
		m.destinationWatcher.Stop()
	}
}

// processEvents turns the queued events into a plan and executes it.
func (m *Manager) processEvents(ctx context.Context) error {
	candidates, fromDestination := m.drain()
	if len(candidates) == 0 {
		return nil
	}

	ops, err := m.validate(ctx, candidates, fromDestination)
	if err != nil {
		return err
	}
	if ops.Empty() {
		return nil
	}
	slog.Info("watch plan", "transfer", len(ops.Transfer), "delete", len(ops.Delete))

	m.enqueue(ops)
	err = m.execute(ctx, ops)
	if errors.Is(err, endpoint.ErrSourceVanished) {
		slog.Warn("watch aborted, rescanning", "error", err)
		m.forceRescan = true
		err = nil
	}
	m.saveCaches()
	return err
}

// drain collects the keys touched since the last call. Source events are
// applied in order so the last event per key wins. Destination events
// only make a key a candidate: whatever happened there, the source decides.
func (m *Manager) drain() (candidates map[string]watcher.EventType, fromDestination mapset.Set[string]) {
	candidates = make(map[string]watcher.EventType)
	fromDestination = mapset.NewThreadUnsafeSet[string]()

	for _, ev := range m.sourceEvents.Drain() {
		candidates[ev.Key] = ev.Type
	}
	for _, ev := range m.destinationEvents.Drain() {
		fromDestination.Add(ev.Key)
		if _, ok := candidates[ev.Key]; !ok {
			candidates[ev.Key] = watcher.Modified
		}
	}
	return candidates, fromDestination
}

// validate re-reads every candidate and classifies it by what actually
// exists: a key present at the source with a different destination
// fingerprint is transferred, a key missing at the source but present at
// the destination is deleted. Event types are only hints.
func (m *Manager) validate(ctx context.Context, candidates map[string]watcher.EventType, fromDestination mapset.Set[string]) (*OperationSet, error) {
	source := make(map[string]string)
	destination := make(map[string]string)

	for key, hint := range candidates {
		slog.Debug("event", "key", key, "type", hint)

		if err := m.refreshOne(ctx, m.source, key); err != nil {
			return nil, err
		}
		if fromDestination.Contains(key) {
			if err := m.refreshOne(ctx, m.destination, key); err != nil {
				return nil, err
			}
		}

		if md, ok := m.source.Get(key); ok {
			source[key] = md.ETag
		}
		if md, ok := m.destination.Get(key); ok {
			destination[key] = md.ETag
		}
	}

	ops := GetOperations(source, destination)
	ops.Transfer = m.representable(ops.Transfer)
	return ops, nil
}

func (m *Manager) refreshOne(ctx context.Context, e endpoint.Endpoint, key string) error {
	err := m.config.Retry.Do(ctx, m.clock, func(ctx context.Context) error {
		return e.RefreshOne(ctx, key)
	}, m.onError("refresh", e.Name()))
	if err != nil {
		return fmt.Errorf("refresh %s %q: %w", e.Name(), key, err)
	}
	return nil
}
