// Package syncer drives a source and a destination endpoint towards the
// same content, either in one pass or continuously from change events.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/s3sync/internal/endpoint"
	"github.com/openmined/s3sync/internal/metrics"
	"github.com/openmined/s3sync/internal/watcher"
)

const DefaultWatchInterval = time.Second

type Config struct {
	// Fake logs operations instead of executing them.
	Fake bool
	// RescanInterval is the time between full passes in watch mode. Zero
	// disables periodic rescans.
	RescanInterval time.Duration
	// WatchInterval is how often queued events are processed.
	WatchInterval time.Duration
	Retry         RetryPolicy
}

// DefaultConfig retries forever, DefaultRetryDelay apart.
func DefaultConfig() Config {
	return Config{
		WatchInterval: DefaultWatchInterval,
		Retry:         RetryPolicy{Delay: DefaultRetryDelay},
	}
}

type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

func WithCounters(counters *metrics.Counters) Option {
	return func(m *Manager) {
		m.counters = counters
	}
}

func WithSourceWatcher(w watcher.Watcher) Option {
	return func(m *Manager) {
		m.sourceWatcher = w
	}
}

// WithDestinationWatcher enables correcting changes made directly to the
// destination.
func WithDestinationWatcher(w watcher.Watcher) Option {
	return func(m *Manager) {
		m.destinationWatcher = w
	}
}

type Manager struct {
	source      endpoint.Endpoint
	destination endpoint.Endpoint
	config      Config
	clock       clockwork.Clock
	counters    *metrics.Counters

	sourceWatcher      watcher.Watcher
	destinationWatcher watcher.Watcher
	sourceEvents       *watcher.Queue
	destinationEvents  *watcher.Queue

	lastScan    time.Time
	forceRescan bool
}

func New(source, destination endpoint.Endpoint, config Config, opts ...Option) *Manager {
	if config.WatchInterval <= 0 {
		config.WatchInterval = DefaultWatchInterval
	}

	m := &Manager{
		source:            source,
		destination:       destination,
		config:            config,
		clock:             clockwork.NewRealClock(),
		sourceEvents:      watcher.NewQueue(),
		destinationEvents: watcher.NewQueue(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.counters == nil {
		m.counters = metrics.NewCounters(nil)
	}
	return m
}

func (m *Manager) Counters() *metrics.Counters {
	return m.counters
}

// Sync runs one full pass: refresh both endpoints, diff them, execute the
// plan and persist the caches. A source object vanishing mid-transfer ends
// the execution early without an error; the next pass picks it up.
func (m *Manager) Sync(ctx context.Context) (*OperationSet, error) {
	slog.Info("sync start", "source", m.source.Name(), "destination", m.destination.Name())
	start := m.clock.Now()

	for _, e := range []endpoint.Endpoint{m.source, m.destination} {
		if err := m.refreshAll(ctx, e); err != nil {
			return nil, err
		}
	}

	ops := GetOperations(m.source.Fingerprints(), m.destination.Fingerprints())
	ops.Transfer = m.representable(ops.Transfer)
	slog.Info("sync plan", "transfer", len(ops.Transfer), "delete", len(ops.Delete))

	m.counters.Queue.Reset()
	m.enqueue(ops)

	err := m.execute(ctx, ops)
	if errors.Is(err, endpoint.ErrSourceVanished) {
		slog.Warn("sync aborted", "reason", "source vanished", "error", err)
		err = nil
	}

	m.saveCaches()
	m.lastScan = m.clock.Now()

	if err != nil {
		return ops, err
	}
	slog.Info("sync done", "took", m.clock.Since(start))
	return ops, nil
}

func (m *Manager) refreshAll(ctx context.Context, e endpoint.Endpoint) error {
	err := m.config.Retry.Do(ctx, m.clock, func(ctx context.Context) error {
		_, err := e.RefreshAll(ctx)
		return err
	}, m.onError("refresh", e.Name()))
	if err != nil {
		return fmt.Errorf("refresh %s: %w", e.Name(), err)
	}
	return nil
}

// representable drops keys the destination cannot store.
func (m *Manager) representable(keys []string) []string {
	out := keys[:0]
	for _, key := range keys {
		if m.destination.IsExcluded(key) {
			continue
		}
		out = append(out, key)
	}
	return out
}

func (m *Manager) enqueue(ops *OperationSet) {
	for _, key := range ops.Transfer {
		include, size := m.attribution(key)
		m.counters.Queue.With(include).Add(1, size)
	}
}

// attribution returns the include and size used for counting a transfer.
func (m *Manager) attribution(key string) (string, int64) {
	include, _ := m.source.GetInclude(key)
	md, _ := m.source.Get(key)
	return include, int64(md.Size)
}

func (m *Manager) onError(op, name string) func(int, error) {
	return func(attempt int, err error) {
		m.counters.Errors.Inc()
		slog.Error(op, "endpoint", name, "attempt", attempt, "error", err)
	}
}

func (m *Manager) saveCaches() {
	for _, e := range []endpoint.Endpoint{m.source, m.destination} {
		if err := e.SaveCache(); err != nil {
			slog.Error("cache write", "endpoint", e.Name(), "error", err)
		}
	}
}

// ===================================================================================================

// execute runs deletes, then transfers. A retry resumes with the
// operations that have not completed yet.
func (m *Manager) execute(ctx context.Context, ops *OperationSet) error {
	if ops.Empty() {
		return nil
	}
	pending := ops.clone()
	return m.config.Retry.Do(ctx, m.clock, func(ctx context.Context) error {
		return m.executePending(ctx, pending)
	}, m.onError("execute", m.destination.Name()))
}

func (m *Manager) executePending(ctx context.Context, pending *OperationSet) error {
	for len(pending.Delete) > 0 {
		if err := m.deleteKey(ctx, pending.Delete[0]); err != nil {
			return err
		}
		pending.Delete = pending.Delete[1:]
	}
	for len(pending.Transfer) > 0 {
		if err := m.transferKey(ctx, pending.Transfer[0]); err != nil {
			return err
		}
		pending.Transfer = pending.Transfer[1:]
	}
	return nil
}

func (m *Manager) deleteKey(ctx context.Context, key string) error {
	if m.config.Fake {
		slog.Info("delete", "key", key, "fake", true)
		return nil
	}
	if err := m.destination.Delete(ctx, key); err != nil {
		return err
	}
	slog.Info("delete", "key", key)

	// a delete moves no bytes but still counts as a completed operation
	include, _ := m.destination.GetInclude(key)
	m.counters.Transferred.With(include).Add(1, 0)
	m.refreshDestination(ctx, key)
	return nil
}

func (m *Manager) transferKey(ctx context.Context, key string) error {
	include, size := m.attribution(key)
	if m.config.Fake {
		slog.Info("transfer", "key", key, "size", size, "fake", true)
		return nil
	}
	if err := m.source.TransferOut(ctx, key, m.destination); err != nil {
		return err
	}
	slog.Info("transfer", "key", key, "size", size)

	m.counters.Queue.With(include).Add(-1, -size)
	m.counters.Transferred.With(include).Add(1, size)
	m.refreshDestination(ctx, key)
	return nil
}

// refreshDestination keeps the destination KeyMap current after an
// operation. Failures are left to the next full pass.
func (m *Manager) refreshDestination(ctx context.Context, key string) {
	if err := m.destination.RefreshOne(ctx, key); err != nil {
		slog.Warn("refresh", "endpoint", m.destination.Name(), "key", key, "error", err)
	}
}
