// Package metrics keeps the running file/byte totals of a sync run and
// pushes every change to a Sink.
package metrics

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
)

// Counter names.
const (
	Source      = "source"
	Destination = "destination"
	Queue       = "queue"
	Transferred = "transferred"
)

// Counter is a files/bytes pair.
type Counter struct {
	name  string
	label string
	sink  Sink

	mu    sync.Mutex
	files uint64
	bytes uint64
}

func NewCounter(name string, sink Sink) *Counter {
	return newCounter(name, "", sink)
}

func newCounter(name, label string, sink Sink) *Counter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Counter{name: name, label: label, sink: sink}
}

func (c *Counter) Name() string {
	return c.name
}

// Set replaces both totals.
func (c *Counter) Set(files, bytes uint64) {
	c.mu.Lock()
	c.files, c.bytes = files, bytes
	c.mu.Unlock()
	c.sink.SetTotals(c.name, c.label, files, bytes)
}

// Add adjusts the totals by the given deltas. Totals never drop below zero.
func (c *Counter) Add(files, bytes int64) {
	c.mu.Lock()
	c.files = clampAdd(c.files, files)
	c.bytes = clampAdd(c.bytes, bytes)
	f, b := c.files, c.bytes
	c.mu.Unlock()
	c.sink.SetTotals(c.name, c.label, f, b)
}

func (c *Counter) Value() (files, bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.files, c.bytes
}

// LogTotals writes the totals at info level.
func (c *Counter) LogTotals() {
	files, bytes := c.Value()
	attrs := []any{"counter", c.name, "files", files, "bytes", humanize.IBytes(bytes)}
	if c.label != "" {
		attrs = append(attrs, "include", c.label)
	}
	slog.Info("totals", attrs...)
}

func clampAdd(v uint64, delta int64) uint64 {
	if delta >= 0 {
		return v + uint64(delta)
	}
	if uint64(-delta) > v {
		return 0
	}
	return v - uint64(-delta)
}

// ===================================================================================================

// CounterVec partitions a counter by include prefix.
type CounterVec struct {
	name string
	sink Sink

	mu       sync.Mutex
	counters map[string]*Counter
}

func NewCounterVec(name string, sink Sink) *CounterVec {
	if sink == nil {
		sink = NopSink{}
	}
	return &CounterVec{
		name:     name,
		sink:     sink,
		counters: make(map[string]*Counter),
	}
}

// With returns the counter for label, creating it on first use.
func (v *CounterVec) With(label string) *Counter {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.counters[label]
	if !ok {
		c = newCounter(v.name, label, v.sink)
		v.counters[label] = c
	}
	return c
}

func (v *CounterVec) Labels() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	labels := make([]string, 0, len(v.counters))
	for label := range v.counters {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	return labels
}

// Total sums every label.
func (v *CounterVec) Total() (files, bytes uint64) {
	for _, label := range v.Labels() {
		f, b := v.With(label).Value()
		files += f
		bytes += b
	}
	return files, bytes
}

// Reset zeroes every known label.
func (v *CounterVec) Reset() {
	for _, label := range v.Labels() {
		v.With(label).Set(0, 0)
	}
}

// ===================================================================================================

// ErrorCounter counts failed attempts since the last full rescan.
type ErrorCounter struct {
	sink Sink

	mu sync.Mutex
	n  uint64
}

func (e *ErrorCounter) Inc() {
	e.mu.Lock()
	e.n++
	n := e.n
	e.mu.Unlock()
	e.sink.SetErrors(n)
}

func (e *ErrorCounter) Reset() {
	e.mu.Lock()
	e.n = 0
	e.mu.Unlock()
	e.sink.SetErrors(0)
}

func (e *ErrorCounter) Value() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

// ===================================================================================================

// Counters groups every counter of a sync run.
type Counters struct {
	Source      *Counter
	Destination *Counter
	Queue       *CounterVec
	Transferred *CounterVec
	Errors      *ErrorCounter
}

func NewCounters(sink Sink) *Counters {
	if sink == nil {
		sink = NopSink{}
	}
	return &Counters{
		Source:      NewCounter(Source, sink),
		Destination: NewCounter(Destination, sink),
		Queue:       NewCounterVec(Queue, sink),
		Transferred: NewCounterVec(Transferred, sink),
		Errors:      &ErrorCounter{sink: sink},
	}
}
