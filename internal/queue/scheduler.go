// Package queue orders packaged reports for upload.
//
// Two priority classes are kept: urgent entries always dequeue before normal
// ones, and within a class the oldest report goes first. The scheduler also
// owns the slot accounting: an entry is in flight from DequeueNext until
// Release, and no more than the configured number of slots can be in flight
// at once. With a single slot (the default) one upload runs system-wide.
// With N > 1 slots normal entries may occupy at most N-1 of them so the last
// slot stays free as the urgent fast path.
package queue

import (
	"container/heap"
	"errors"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

// DefaultSlots is the number of concurrent uploads when none is configured.
const DefaultSlots = 1

// Entry is a queued report.
type Entry struct {
	ID        core.ReportID `json:"id"`
	Path      string        `json:"path"`
	Urgent    bool          `json:"urgent"`
	CreatedAt time.Time     `json:"created_at"`
}

func entryFor(r core.Report, urgent bool) Entry {
	return Entry{ID: r.ID, Path: r.Path, Urgent: urgent, CreatedAt: r.CreatedAt}
}

// Lister is the part of the report store the scheduler seeds itself from.
type Lister interface {
	List(state core.State) iter.Seq2[core.Report, error]
}

// Scheduler is the upload queue. It is safe for concurrent use.
type Scheduler struct {
	slots int

	mu       sync.Mutex
	urgent   entryHeap
	normal   entryHeap
	pending  map[core.ReportID]*item
	inflight map[core.ReportID]Entry
	normalIn int

	ready chan struct{}
}

// NewScheduler creates a scheduler with the given number of upload slots.
// Values below one select DefaultSlots.
func NewScheduler(slots int) *Scheduler {
	if slots < 1 {
		slots = DefaultSlots
	}
	return &Scheduler{
		slots:    slots,
		pending:  make(map[core.ReportID]*item),
		inflight: make(map[core.ReportID]Entry),
		ready:    make(chan struct{}, 1),
	}
}

// Slots returns the configured slot count.
func (s *Scheduler) Slots() int {
	return s.slots
}

// Enqueue adds a packaged report. It returns false when the report is
// already in flight, or already pending with the same or higher priority.
// Enqueuing a pending normal report as urgent promotes it.
func (s *Scheduler) Enqueue(r core.Report, urgent bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inflight[r.ID]; busy {
		return false
	}
	if it, ok := s.pending[r.ID]; ok {
		if !urgent || it.entry.Urgent {
			return false
		}
		heap.Remove(&s.normal, it.index)
		it.entry.Urgent = true
		heap.Push(&s.urgent, it)
		s.signal()
		return true
	}

	it := &item{entry: entryFor(r, urgent)}
	if urgent {
		heap.Push(&s.urgent, it)
	} else {
		heap.Push(&s.normal, it)
	}
	s.pending[r.ID] = it
	s.signal()
	return true
}

// DequeueNext removes and returns the next entry and marks it in flight. It
// returns false when nothing is pending or no eligible slot is free.
func (s *Scheduler) DequeueNext() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.inflight) >= s.slots {
		return Entry{}, false
	}

	var h *entryHeap
	switch {
	case s.urgent.Len() > 0:
		h = &s.urgent
	case s.normal.Len() > 0 && s.normalIn < s.normalCap():
		h = &s.normal
	default:
		return Entry{}, false
	}

	it := heap.Pop(h).(*item)
	delete(s.pending, it.entry.ID)
	s.inflight[it.entry.ID] = it.entry
	if !it.entry.Urgent {
		s.normalIn++
	}
	return it.entry, true
}

// Release frees the slot held by id. Releasing an entry that is not in
// flight is a no-op.
func (s *Scheduler) Release(id core.ReportID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.inflight[id]
	if !ok {
		return
	}
	delete(s.inflight, id)
	if !e.Urgent {
		s.normalIn--
	}
	s.signal()
}

// Remove drops a pending entry, for example when its report is purged.
func (s *Scheduler) Remove(id core.ReportID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.pending[id]
	if !ok {
		return false
	}
	if it.entry.Urgent {
		heap.Remove(&s.urgent, it.index)
	} else {
		heap.Remove(&s.normal, it.index)
	}
	delete(s.pending, id)
	return true
}

// Clear drops every pending entry. In-flight entries keep their slots.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.pending)
	s.urgent = nil
	s.normal = nil
	s.pending = make(map[core.ReportID]*item)
	return n
}

// Seed enqueues every packaged report listed by src, keeping each report's
// persisted urgency. Unreadable entries are skipped and reported in the
// joined error.
func (s *Scheduler) Seed(src Lister) (int, error) {
	var (
		n    int
		errs []error
	)
	for r, err := range src.List(core.StatePackaged) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if s.Enqueue(r, r.Urgent) {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// Len returns the number of pending entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// InFlight returns the number of occupied slots.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Pending returns the pending entries in dequeue order.
func (s *Scheduler) Pending() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.pending))
	for _, h := range []entryHeap{s.urgent, s.normal} {
		class := make([]Entry, 0, h.Len())
		for _, it := range h {
			class = append(class, it.entry)
		}
		sort.Slice(class, func(i, j int) bool {
			if !class[i].CreatedAt.Equal(class[j].CreatedAt) {
				return class[i].CreatedAt.Before(class[j].CreatedAt)
			}
			return class[i].ID < class[j].ID
		})
		out = append(out, class...)
	}
	return out
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Urgent       int       `json:"urgent"`
	Normal       int       `json:"normal"`
	InFlight     int       `json:"in_flight"`
	Slots        int       `json:"slots"`
	OldestNormal time.Time `json:"oldest_normal,omitempty"`
}

// Stats returns queue counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Urgent:       s.urgent.Len(),
		Normal:       s.normal.Len(),
		InFlight:     len(s.inflight),
		Slots:        s.slots,
		OldestNormal: s.normal.oldest(),
	}
}

// Ready is signaled whenever an entry is enqueued or a slot is released.
// Consumers re-check DequeueNext after each signal.
func (s *Scheduler) Ready() <-chan struct{} {
	return s.ready
}

func (s *Scheduler) normalCap() int {
	if s.slots > 1 {
		return s.slots - 1
	}
	return 1
}

// signal must be called with mu held.
func (s *Scheduler) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
