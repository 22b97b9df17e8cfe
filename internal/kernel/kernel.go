package kernel

import (
	"context"

	"github.com/R3E-Network/desengine/internal/distributions"
	slerrors "github.com/R3E-Network/desengine/internal/errors"
	"github.com/R3E-Network/desengine/internal/eventqueue"
	"github.com/R3E-Network/desengine/internal/logging"
	"github.com/R3E-Network/desengine/internal/rng"
	"github.com/R3E-Network/desengine/internal/stats"
)

// Kernel owns the clock, the dispatch loop, and the collections of
// entities, resources, and processes for one replication.
type Kernel struct {
	Now       float64
	EndTime   float64
	WarmupTime float64

	Queue     *eventqueue.Queue
	RNG       *rng.Stream
	Stats     *stats.Collector
	Logger    *logging.Logger
	Predicate *PredicateEvaluator

	Resources   map[string]*Resource
	Processes   map[string]*Process // keyed by process ID
	EntityTypes map[string]*EntityTypeConfig

	Entities map[uint64]*Entity

	MaxEvents        int
	Diagnostics      []*slerrors.SimError
	eventsDispatched int
	nextEntityID     uint64
	warmupCrossed    bool
	ctx              context.Context
}

// New creates an empty Kernel ready for model construction.
func New(seed int64, endTime, warmupTime float64) *Kernel {
	return &Kernel{
		EndTime:     endTime,
		WarmupTime:  warmupTime,
		Queue:       eventqueue.New(),
		RNG:         rng.New(seed),
		Stats:       stats.New(warmupTime),
		Logger:      logging.New("desengine-kernel", "info", "json"),
		Predicate:   NewPredicateEvaluator(nil),
		Resources:   make(map[string]*Resource),
		Processes:   make(map[string]*Process),
		EntityTypes: make(map[string]*EntityTypeConfig),
		Entities:    make(map[uint64]*Entity),
		// With no warmup period the boundary sits at t=0, already
		// crossed, so integrals accrue from the first event.
		warmupCrossed: warmupTime <= 0,
		ctx:           context.Background(),
	}
}

func (k *Kernel) warn(e *slerrors.SimError) {
	k.Diagnostics = append(k.Diagnostics, e)
	k.Logger.LogRuntimeWarning(k.ctx, string(e.Code), e.Message, e.Details)
}

// AddResource registers a resource pool.
func (k *Kernel) AddResource(r *Resource) {
	if r.lastIntegralUpdate == 0 {
		r.lastIntegralUpdate = k.Now
	}
	k.Resources[r.ID] = r
}

// AddProcess registers a process definition. Finalize is called for
// the caller's convenience if not already done.
func (k *Kernel) AddProcess(p *Process) {
	p.Finalize()
	k.Processes[p.ID] = p
}

// AddEntityType registers an entity type's arrival pattern and bound
// process.
func (k *Kernel) AddEntityType(cfg *EntityTypeConfig) {
	k.EntityTypes[cfg.Name] = cfg
}

// Initialize pre-schedules arrivals and any initial failure events.
func (k *Kernel) Initialize() {
	for name := range k.EntityTypes {
		k.scheduleInitialArrivals(name)
	}
	for _, r := range k.Resources {
		if r.FailureDist != nil {
			d := distributions.Sample(*r.FailureDist, k.RNG)
			k.Queue.Insert(eventqueue.Event{Time: k.Now + d, Kind: eventqueue.ResourceFailed, ResourceID: r.ID})
		}
	}
}

func (k *Kernel) scheduleInitialArrivals(entityType string) {
	cfg := k.EntityTypes[entityType]
	switch cfg.Pattern.Kind {
	case ArrivalExplicitSchedule:
		for _, s := range cfg.Pattern.Schedule {
			qty := s.Quantity
			if qty <= 0 {
				qty = 1
			}
			k.Queue.Insert(eventqueue.Event{
				Time: s.Time,
				Kind: eventqueue.Arrival,
				CustomPayload: arrivalPayload{
					EntityType: entityType,
					Quantity:   qty,
				},
			})
		}
	default:
		k.scheduleNextArrival(entityType, k.Now)
	}
}

// scheduleNextArrival self-schedules the next Arrival event for a
// Constant/Poisson/NonHomogeneousPoisson entity type.
func (k *Kernel) scheduleNextArrival(entityType string, after float64) {
	cfg := k.EntityTypes[entityType]
	switch cfg.Pattern.Kind {
	case ArrivalConstant:
		d := distributions.Sample(cfg.Pattern.Interarrival, k.RNG)
		k.Queue.Insert(eventqueue.Event{
			Time:          after + d,
			Kind:          eventqueue.Arrival,
			CustomPayload: arrivalPayload{EntityType: entityType, Quantity: 1},
		})
	case ArrivalPoisson:
		d := distributions.Sample(distributions.Descriptor{Type: distributions.Exponential, Parameters: map[string]float64{"rate": cfg.Pattern.Rate}}, k.RNG)
		k.Queue.Insert(eventqueue.Event{
			Time:          after + d,
			Kind:          eventqueue.Arrival,
			CustomPayload: arrivalPayload{EntityType: entityType, Quantity: 1},
		})
	case ArrivalNonHomogeneousPoisson:
		k.scheduleNonHomogeneousArrival(entityType, after)
	}
}

func (k *Kernel) scheduleNonHomogeneousArrival(entityType string, after float64) {
	cfg := k.EntityTypes[entityType]
	period, inPeriod := periodContaining(cfg.Pattern.RateSchedule, after)
	if !inPeriod {
		start, ok := nextPeriodStart(cfg.Pattern.RateSchedule, after)
		if !ok {
			return // no more periods; arrivals for this entity type end
		}
		k.Queue.Insert(eventqueue.Event{
			Time:          start,
			Kind:          eventqueue.Arrival,
			CustomPayload: arrivalPayload{EntityType: entityType, IsPeriodSync: true},
		})
		return
	}
	d := distributions.Sample(distributions.Descriptor{Type: distributions.Exponential, Parameters: map[string]float64{"rate": period.Rate}}, k.RNG)
	t := after + d
	if t >= period.EndTime {
		start, ok := nextPeriodStart(cfg.Pattern.RateSchedule, period.EndTime)
		if !ok {
			return
		}
		k.Queue.Insert(eventqueue.Event{
			Time:          start,
			Kind:          eventqueue.Arrival,
			CustomPayload: arrivalPayload{EntityType: entityType, IsPeriodSync: true},
		})
		return
	}
	k.Queue.Insert(eventqueue.Event{
		Time:          t,
		Kind:          eventqueue.Arrival,
		CustomPayload: arrivalPayload{EntityType: entityType},
	})
}

// Step pops and dispatches one event, returning false when the
// replication is finished (queue empty, end time reached, or the
// maxEvents guard tripped).
func (k *Kernel) Step() bool {
	ev, ok := k.Queue.PeekMin()
	if !ok || ev.Time > k.EndTime {
		return false
	}
	ev = k.Queue.PopMin()
	k.Now = ev.Time
	k.crossWarmupIfNeeded()
	k.dispatch(ev)
	k.eventsDispatched++
	if k.MaxEvents > 0 && k.eventsDispatched >= k.MaxEvents {
		k.warn(slerrors.QueueOverflow(k.MaxEvents))
		return false
	}
	return true
}

// Run drives the dispatch loop to completion.
func (k *Kernel) Run() {
	for k.Step() {
	}
}

func (k *Kernel) crossWarmupIfNeeded() {
	if k.warmupCrossed || k.WarmupTime <= 0 || k.Now < k.WarmupTime {
		return
	}
	k.warmupCrossed = true
	for _, r := range k.Resources {
		k.touchResource(r) // flush pre-warmup integral before zeroing
		r.BusyIntegral = 0
		r.DownIntegral = 0
		r.QueueLengthIntegral = 0
		r.MaxQueueLength = len(r.Queue)
		r.SeizeCount = 0
		r.lastIntegralUpdate = k.Now
	}
	k.Stats.ResetAtWarmup(k.Now)
	k.Logger.LogWarmupBoundary(k.ctx, k.WarmupTime)
}

func (k *Kernel) dispatch(ev eventqueue.Event) {
	switch ev.Kind {
	case eventqueue.Arrival:
		k.handleArrival(ev)
	case eventqueue.EndDelay:
		k.handleEndDelay(ev)
	case eventqueue.ResourceFailed:
		k.handleResourceFailed(ev)
	case eventqueue.ResourceRepaired:
		k.handleResourceRepaired(ev)
	case eventqueue.Custom:
		// extension point; no default behavior
	}
}

func (k *Kernel) handleArrival(ev eventqueue.Event) {
	payload := ev.CustomPayload.(arrivalPayload)
	if !payload.IsPeriodSync {
		qty := payload.Quantity
		if qty <= 0 {
			qty = 1
		}
		for i := 0; i < qty; i++ {
			k.createEntity(payload.EntityType)
		}
	}
	cfg := k.EntityTypes[payload.EntityType]
	if cfg.Pattern.Kind != ArrivalExplicitSchedule {
		k.scheduleNextArrival(payload.EntityType, k.Now)
	}
}

func (k *Kernel) createEntity(entityType string) {
	cfg, ok := k.EntityTypes[entityType]
	if !ok {
		return
	}
	id := k.nextEntityID
	k.nextEntityID++
	e := &Entity{
		ID:                  id,
		EntityType:          entityType,
		ArrivalTime:         k.Now,
		StepIndex:           0,
		Holds:               make(map[string]int),
		State:               Arriving,
		Attributes:          make(map[string]interface{}),
		ArrivedDuringWarmup: k.Now < k.WarmupTime,
	}
	k.Entities[id] = e
	k.Stats.RecordArrival(k.Now)

	if _, ok := k.Processes[cfg.ProcessID]; !ok {
		k.warn(slerrors.MissingProcess(entityType))
		k.depart(e)
		return
	}
	k.Advance(e)
}

func (k *Kernel) handleEndDelay(ev eventqueue.Event) {
	e, ok := k.Entities[ev.EntityID]
	if !ok || e.State == Departed {
		slerrors.AssertAdvanceOnDeparted(formatEntityID(ev.EntityID))
		return
	}
	proc := k.processFor(e)
	step := proc.Steps[ev.StepIndex]
	if step.Kind == KindActivity {
		for _, req := range step.ResourceRequirements {
			k.release(e, req.ResourceID, req.Quantity)
		}
		if len(step.Routes) == 0 {
			e.StepIndex = ev.StepIndex + 1
		} else {
			target := k.decide(e, step.Routes)
			e.StepIndex = proc.indexOf(target)
		}
	} else {
		e.StepIndex = ev.StepIndex + 1
	}
	k.Advance(e)
}

func formatEntityID(id uint64) string {
	return "entity-" + itoa(id)
}

func itoa(id uint64) string {
	if id == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	return string(buf[i:])
}

// processFor resolves an entity's bound process.
func (k *Kernel) processFor(e *Entity) *Process {
	cfg := k.EntityTypes[e.EntityType]
	return k.Processes[cfg.ProcessID]
}

// Advance executes steps synchronously until a blocking Seize, a
// scheduled Delay, or the sequence is exhausted (departure).
func (k *Kernel) Advance(e *Entity) {
	if e.State == Departed {
		slerrors.AssertAdvanceOnDeparted(formatEntityID(e.ID))
		return
	}
	proc := k.processFor(e)
	for {
		if e.StepIndex >= len(proc.Steps) {
			k.depart(e)
			return
		}
		step := proc.Steps[e.StepIndex]
		switch step.Kind {
		case KindSeize:
			qty := step.Quantity
			if qty <= 0 {
				qty = 1
			}
			if !k.trySeize(e, step.Resource, qty) {
				return
			}
			e.StepIndex++
		case KindRelease:
			qty := step.Quantity
			if qty <= 0 {
				qty = 1
			}
			k.release(e, step.Resource, qty)
			e.StepIndex++
		case KindDelay:
			d := distributions.Sample(step.Duration, k.RNG)
			k.Queue.Insert(eventqueue.Event{
				Time:      k.Now + d,
				Kind:      eventqueue.EndDelay,
				EntityID:  e.ID,
				StepIndex: e.StepIndex,
			})
			return
		case KindDecision:
			target := k.decide(e, step.Branches)
			e.StepIndex = proc.indexOf(target)
		case KindActivity:
			reqs := step.ResourceRequirements
			if !k.trySeizeAll(e, reqs) {
				return
			}
			d := distributions.Sample(step.Duration, k.RNG)
			k.Queue.Insert(eventqueue.Event{
				Time:      k.Now + d,
				Kind:      eventqueue.EndDelay,
				EntityID:  e.ID,
				StepIndex: e.StepIndex,
			})
			return
		default:
			k.warn(slerrors.UnknownStepKind("unknown"))
			e.StepIndex++
		}
	}
}

// trySeize attempts to seize qty units of resource id for e. On
// success it returns true and the caller advances past the step; on
// failure e is parked in the resource's wait queue and the caller must
// return control to the dispatch loop.
func (k *Kernel) trySeize(e *Entity, resourceID string, qty int) bool {
	r := k.Resources[resourceID]
	if r == nil {
		k.warn(slerrors.UnknownResource(resourceID))
		return true // treat as a no-op so the entity doesn't deadlock
	}
	if !r.Failed && r.InUse+qty <= r.Capacity {
		k.touchResource(r)
		r.InUse += qty
		r.SeizeCount++
		e.Holds[resourceID] += qty
		e.State = Processing
		k.Stats.RecordWait(resourceID, 0)
		return true
	}
	k.park(e, r)
	return false
}

// trySeizeAll attempts to atomically seize every requirement. If any
// resource is unavailable, e is parked on the first unavailable one
// and nothing is committed (per spec.md §4.4's known-limitation
// multi-resource policy).
func (k *Kernel) trySeizeAll(e *Entity, reqs []ResourceRequirement) bool {
	for _, req := range reqs {
		r := k.Resources[req.ResourceID]
		if r == nil {
			k.warn(slerrors.UnknownResource(req.ResourceID))
			continue
		}
		if r.Failed || r.InUse+req.Quantity > r.Capacity {
			k.park(e, r)
			return false
		}
	}
	for _, req := range reqs {
		r := k.Resources[req.ResourceID]
		if r == nil {
			continue
		}
		k.touchResource(r)
		r.InUse += req.Quantity
		r.SeizeCount++
		e.Holds[req.ResourceID] += req.Quantity
		k.Stats.RecordWait(req.ResourceID, 0)
	}
	e.State = Processing
	return true
}

func (k *Kernel) park(e *Entity, r *Resource) {
	k.touchResource(r)
	e.State = Waiting
	e.QueueEnterTime = k.Now
	r.enqueue(e)
}

// release returns qty units of resource id from e, then wakes waiters
// while capacity remains and the queue is non-empty. A Release does
// not consume clock time; the woken waiter's re-seize attempt and any
// resulting advance happen at the same simulated instant, before the
// dispatch loop pops its next event.
func (k *Kernel) release(e *Entity, resourceID string, qty int) {
	r := k.Resources[resourceID]
	if r == nil {
		k.warn(slerrors.UnknownResource(resourceID))
		return
	}
	k.touchResource(r)
	r.InUse -= qty
	if r.InUse < 0 {
		slerrors.AssertNegativeInUse(resourceID, r.InUse)
		return
	}
	held := e.Holds[resourceID] - qty
	if held <= 0 {
		delete(e.Holds, resourceID)
	} else {
		e.Holds[resourceID] = held
	}

	for r.InUse < r.Capacity && !r.Failed && len(r.Queue) > 0 {
		waiter := r.dequeue()
		k.touchResource(r)
		waitDuration := k.Now - waiter.QueueEnterTime
		k.Stats.RecordWait(resourceID, waitDuration)
		k.Advance(waiter)
	}
}

// decide draws a Decision/Activity routing target: predicate branches
// first (in order, first true wins), then probability branches by
// cumulative sum against one uniform draw.
func (k *Kernel) decide(e *Entity, branches []Branch) string {
	for _, b := range branches {
		if b.Predicate != "" && k.Predicate.Eval(b.Predicate, e.Attributes) {
			return b.TargetStepID
		}
	}
	u := k.RNG.Next()
	cum := 0.0
	var lastProbTarget string
	for _, b := range branches {
		if b.Predicate != "" {
			continue
		}
		cum += b.Probability
		lastProbTarget = b.TargetStepID
		if cum >= u {
			return b.TargetStepID
		}
	}
	return lastProbTarget
}

func (k *Kernel) depart(e *Entity) {
	holds := make(map[string]int, len(e.Holds))
	for id, qty := range e.Holds {
		holds[id] = qty
	}
	for id, qty := range holds {
		k.release(e, id, qty)
	}
	e.State = Departed
	cycleTime := k.Now - e.ArrivalTime
	k.Stats.RecordDeparture(!e.ArrivedDuringWarmup, cycleTime)
}

// touchResource accumulates time-weighted integrals for the interval
// since the resource's last mutation, then advances its watermark.
// Pre-warmup intervals are not accumulated.
func (k *Kernel) touchResource(r *Resource) {
	elapsed := k.Now - r.lastIntegralUpdate
	if elapsed > 0 && k.warmupCrossed {
		r.BusyIntegral += elapsed * float64(r.InUse)
		if r.Failed {
			r.DownIntegral += elapsed
		}
		r.QueueLengthIntegral += elapsed * float64(len(r.Queue))
	}
	r.lastIntegralUpdate = k.Now
}

func (k *Kernel) handleResourceFailed(ev eventqueue.Event) {
	r := k.Resources[ev.ResourceID]
	if r == nil {
		return
	}
	k.touchResource(r)
	r.Failed = true
	d := distributions.Sample(*r.RepairDist, k.RNG)
	k.Queue.Insert(eventqueue.Event{Time: k.Now + d, Kind: eventqueue.ResourceRepaired, ResourceID: r.ID})
}

func (k *Kernel) handleResourceRepaired(ev eventqueue.Event) {
	r := k.Resources[ev.ResourceID]
	if r == nil {
		return
	}
	k.touchResource(r)
	r.Failed = false
	for r.InUse < r.Capacity && len(r.Queue) > 0 {
		waiter := r.dequeue()
		k.touchResource(r)
		waitDuration := k.Now - waiter.QueueEnterTime
		k.Stats.RecordWait(r.ID, waitDuration)
		k.Advance(waiter)
	}
	d := distributions.Sample(*r.FailureDist, k.RNG)
	k.Queue.Insert(eventqueue.Event{Time: k.Now + d, Kind: eventqueue.ResourceFailed, ResourceID: r.ID})
}

// Elapsed returns the post-warmup simulated duration, used to compute
// resource utilization and time-averaged queue lengths.
func (k *Kernel) Elapsed() float64 {
	if k.WarmupTime > 0 && k.Now > k.WarmupTime {
		return k.Now - k.WarmupTime
	}
	return k.Now
}
