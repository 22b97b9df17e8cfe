package kernel

import (
	"github.com/R3E-Network/desengine/internal/distributions"
)

// QueueDiscipline controls the order entities are woken from a
// resource's wait queue. FIFO is the default; LIFO is an optional
// per-resource declaration. PriorityLowFirst can be declared but
// orders waiters FIFO: entities carry no priority value to sort by.
type QueueDiscipline int

const (
	FIFO QueueDiscipline = iota
	LIFO
	PriorityLowFirst
)

// Resource is a pool of interchangeable capacity units.
type Resource struct {
	ID         string
	Name       string
	Capacity   int
	InUse      int
	Discipline QueueDiscipline

	Queue []*Entity

	FailureDist *distributions.Descriptor
	RepairDist  *distributions.Descriptor
	Failed      bool

	// Statistics accumulators (post-warmup only).
	BusyIntegral        float64
	DownIntegral        float64
	SeizeCount          int
	QueueLengthIntegral float64
	MaxQueueLength      int

	lastIntegralUpdate float64
}

// EffectiveCapacity returns the resource's usable capacity: zero while
// failed, per spec.md §3.
func (r *Resource) EffectiveCapacity() int {
	if r.Failed {
		return 0
	}
	return r.Capacity
}

// enqueue appends an entity to the wait queue according to discipline.
func (r *Resource) enqueue(e *Entity) {
	switch r.Discipline {
	case LIFO:
		r.Queue = append([]*Entity{e}, r.Queue...)
	default:
		r.Queue = append(r.Queue, e)
	}
	if len(r.Queue) > r.MaxQueueLength {
		r.MaxQueueLength = len(r.Queue)
	}
}

// dequeue pops the waiter at the head of the queue; enqueue has already
// placed it there per discipline.
func (r *Resource) dequeue() *Entity {
	if len(r.Queue) == 0 {
		return nil
	}
	e := r.Queue[0]
	r.Queue = r.Queue[1:]
	return e
}

// Utilization computes rho = busyIntegral / (capacity * elapsed).
func (r *Resource) Utilization(elapsed float64) float64 {
	if r.Capacity == 0 || elapsed <= 0 {
		return 0
	}
	return r.BusyIntegral / (float64(r.Capacity) * elapsed)
}

// AverageQueueLength computes the time-weighted Lq for this resource.
func (r *Resource) AverageQueueLength(elapsed float64) float64 {
	if elapsed <= 0 {
		return 0
	}
	return r.QueueLengthIntegral / elapsed
}
