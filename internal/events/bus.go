// Package events carries report lifecycle notifications from the store,
// queue and consent gate to whoever listens: the HTTP event stream, the
// journal, and tests.
//
// Regular subscribers get a bounded buffer that discards its oldest entry
// when full. Priority subscribers are never skipped; publishing to them
// blocks until they have room.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBuffer  = 100
	priorityBuffer = 50
)

// Event is implemented by every notification on the bus.
type Event interface {
	EventType() string
	Timestamp() time.Time
	ReportID() string
}

// BaseEvent holds the fields every event shares.
type BaseEvent struct {
	Type   string    `json:"type"`
	Time   time.Time `json:"timestamp"`
	Report string    `json:"report_id,omitempty"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) ReportID() string     { return e.Report }

// NewBaseEvent stamps an event of the given type with the current time.
func NewBaseEvent(eventType, reportID string) BaseEvent {
	return BaseEvent{Type: eventType, Time: time.Now(), Report: reportID}
}

type subscription struct {
	ch       chan Event
	accepts  func(string) bool
	priority bool
}

func acceptAll(string) bool { return true }

func acceptTypes(types []string) func(string) bool {
	if len(types) == 0 {
		return acceptAll
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(t string) bool {
		_, ok := set[t]
		return ok
	}
}

// EventBus fans events out to subscribers.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[<-chan Event]*subscription
	order   []*subscription // publish order, oldest subscriber first
	buffer  int
	dropped atomic.Int64
	closed  bool
}

// New creates a bus whose regular subscribers buffer up to bufferSize
// events. A non-positive size selects the default of 100.
func New(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	return &EventBus{
		subs:   make(map[<-chan Event]*subscription),
		buffer: bufferSize,
	}
}

// Subscribe returns a channel receiving events of the listed types, or
// every event when none are listed. On a closed bus the channel is
// already closed.
func (eb *EventBus) Subscribe(types ...string) <-chan Event {
	return eb.add(&subscription{
		ch:      make(chan Event, eb.buffer),
		accepts: acceptTypes(types),
	})
}

// SubscribePriority returns a channel that receives everything sent with
// PublishPriority. The consumer must keep up; senders wait for it.
func (eb *EventBus) SubscribePriority() <-chan Event {
	return eb.add(&subscription{
		ch:       make(chan Event, priorityBuffer),
		accepts:  acceptAll,
		priority: true,
	})
}

func (eb *EventBus) add(sub *subscription) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(sub.ch)
		return sub.ch
	}
	eb.subs[sub.ch] = sub
	eb.order = append(eb.order, sub)
	return sub.ch
}

// Unsubscribe closes ch and stops delivering to it. Unknown channels are
// ignored.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subs[ch]
	if !ok {
		return
	}
	delete(eb.subs, ch)
	for i, s := range eb.order {
		if s == sub {
			eb.order = append(eb.order[:i], eb.order[i+1:]...)
			break
		}
	}
	close(sub.ch)
}

// Publish delivers event to matching regular subscribers without blocking.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if !eb.closed {
		eb.offer(event)
	}
}

// PublishPriority delivers event like Publish and then, blocking, to every
// priority subscriber.
func (eb *EventBus) PublishPriority(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	eb.offer(event)
	for _, sub := range eb.order {
		if sub.priority {
			sub.ch <- event
		}
	}
}

// offer must be called with mu held.
func (eb *EventBus) offer(event Event) {
	kind := event.EventType()
	for _, sub := range eb.order {
		if sub.priority || !sub.accepts(kind) {
			continue
		}
		for attempt := 0; ; attempt++ {
			select {
			case sub.ch <- event:
			default:
				if attempt == 0 && evictOldest(sub.ch) {
					eb.dropped.Add(1)
					continue
				}
				eb.dropped.Add(1)
			}
			break
		}
	}
}

func evictOldest(ch chan Event) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// DroppedCount returns how many events regular subscribers have lost.
func (eb *EventBus) DroppedCount() int64 {
	return eb.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, sub := range eb.order {
		close(sub.ch)
	}
	eb.subs = nil
	eb.order = nil
}
