// Package eventqueue implements the time-ordered event scheduler: a
// binary min-heap keyed on (time, insertion order) with strict FIFO
// tie-breaking, the determinism anchor of the simulation engine.
package eventqueue

import (
	"container/heap"

	slerrors "github.com/R3E-Network/desengine/internal/errors"
)

// Kind is the closed set of event kinds the kernel dispatches.
type Kind int

const (
	Arrival Kind = iota
	EndDelay
	ResourceFailed
	ResourceRepaired
	Custom
)

func (k Kind) String() string {
	switch k {
	case Arrival:
		return "Arrival"
	case EndDelay:
		return "EndDelay"
	case ResourceFailed:
		return "ResourceFailed"
	case ResourceRepaired:
		return "ResourceRepaired"
	case Custom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// Event is the atomic scheduled unit. Payload fields are kind-specific;
// unused fields are left zero.
type Event struct {
	Time          float64
	Kind          Kind
	EntityID      uint64
	StepIndex     int
	ResourceID    string
	SourceIndex   int
	CustomPayload interface{}

	seq int64 // insertion sequence, stripped before returning to consumers
}

// item is the heap-internal wrapper; the queue never exposes seq or the
// heap index to consumers.
type item struct {
	event Event
	index int
}

type heapSlice []*item

func (h heapSlice) Len() int { return len(h) }

func (h heapSlice) Less(i, j int) bool {
	if h[i].event.Time != h[j].event.Time {
		return h[i].event.Time < h[j].event.Time
	}
	return h[i].event.seq < h[j].event.seq
}

func (h heapSlice) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *heapSlice) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *heapSlice) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a min-heap of Events ordered by (time ascending, insertion
// sequence ascending).
type Queue struct {
	h       heapSlice
	nextSeq int64
}

// New creates an empty Queue.
func New() *Queue {
	q := &Queue{h: make(heapSlice, 0, 64)}
	heap.Init(&q.h)
	return q
}

// Insert adds an event to the queue in O(log n), stamping it with the
// next insertion sequence number.
func (q *Queue) Insert(e Event) {
	e.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.h, &item{event: e})
}

// PopMin removes and returns the earliest event in O(log n). The
// insertion sequence is stripped from the returned event. Panics (via
// the errors package's assertion helper) if the queue is empty —
// callers must check IsEmpty first.
func (q *Queue) PopMin() Event {
	if q.IsEmpty() {
		slerrors.AssertPopEmptyQueue()
	}
	it := heap.Pop(&q.h).(*item)
	e := it.event
	e.seq = 0
	return e
}

// TryPopMin is the non-panicking variant of PopMin.
func (q *Queue) TryPopMin() (Event, bool) {
	if q.IsEmpty() {
		return Event{}, false
	}
	return q.PopMin(), true
}

// IsEmpty reports whether the queue has no pending events, in O(1).
func (q *Queue) IsEmpty() bool {
	return len(q.h) == 0
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	return len(q.h)
}

// PeekMin returns the earliest event without removing it.
func (q *Queue) PeekMin() (Event, bool) {
	if q.IsEmpty() {
		return Event{}, false
	}
	e := q.h[0].event
	e.seq = 0
	return e, true
}
