// Package watcher turns filesystem notifications into key level change
// events for the sync engine.
package watcher

import (
	"context"
	"fmt"
	"sync"
)

type EventType int

const (
	Modified EventType = iota
	Deleted
)

func (t EventType) String() string {
	switch t {
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// ChangeEvent says that key changed. Events are hints: the consumer checks
// the real state before acting on them.
type ChangeEvent struct {
	Type EventType
	Key  string
}

func (e ChangeEvent) String() string {
	return e.Type.String() + " " + e.Key
}

// Sink receives events. It may be called from any goroutine.
type Sink func(ChangeEvent)

type Watcher interface {
	Start(ctx context.Context, sink Sink) error
	Stop()
}

// ===================================================================================================

// Queue is an unbounded event buffer. Producers Push, the engine Drains.
type Queue struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(ev ChangeEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Drain removes and returns every queued event, oldest first.
func (q *Queue) Drain() []ChangeEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
