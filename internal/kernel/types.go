// Package kernel implements the simulation kernel (C4): the clock,
// dispatch loop, and entity/resource/process state machines described
// in the engine's data model and component design.
package kernel

import (
	"github.com/R3E-Network/desengine/internal/distributions"
)

// LifecycleState is an entity's current position in its state machine.
type LifecycleState int

const (
	Arriving LifecycleState = iota
	Waiting
	Processing
	Deciding
	Traveling
	Departed
)

func (s LifecycleState) String() string {
	switch s {
	case Arriving:
		return "Arriving"
	case Waiting:
		return "Waiting"
	case Processing:
		return "Processing"
	case Deciding:
		return "Deciding"
	case Traveling:
		return "Traveling"
	case Departed:
		return "Departed"
	default:
		return "Unknown"
	}
}

// Entity is a token flowing through the network.
type Entity struct {
	ID                   uint64
	EntityType           string
	ArrivalTime          float64
	StepIndex            int
	Holds                map[string]int
	State                LifecycleState
	Attributes           map[string]interface{}
	QueueEnterTime       float64
	ArrivedDuringWarmup  bool
}

// StepKind is the closed set of process step kinds.
type StepKind int

const (
	KindSeize StepKind = iota
	KindDelay
	KindRelease
	KindDecision
	// KindActivity is the composite "Process" step from spec.md §3: an
	// atomic multi-resource seize, a sampled delay, an atomic release of
	// everything seized, and a routing decision.
	KindActivity
)

// Branch is one target of a Decision (or an Activity's trailing route).
// A branch with a non-empty Predicate is evaluated before any
// probability branch; the first true predicate wins. Probability
// branches are walked in order and the first whose cumulative sum
// reaches the drawn uniform value wins.
type Branch struct {
	TargetStepID string
	Probability  float64
	Predicate    string
}

// ResourceRequirement is one resource/quantity pair an Activity step
// must seize atomically alongside its siblings.
type ResourceRequirement struct {
	ResourceID string
	Quantity   int
}

// Step is one instruction in a Process's step sequence.
type Step struct {
	ID       string
	Kind     StepKind
	Resource string // Seize/Release resource id
	Quantity int    // Seize/Release quantity, default 1

	Duration distributions.Descriptor // Delay/Activity duration

	Branches []Branch // Decision branches

	ResourceRequirements []ResourceRequirement // Activity requirements
	Routes                []Branch              // Activity trailing routing
}

// Process is a named, ordered sequence of steps bound to an entity type.
type Process struct {
	ID         string
	Name       string
	EntityType string
	Steps      []Step
	BatchSize  int

	index map[string]int // step id -> position, built by Finalize
}

// Finalize builds the step-id index used by Decision/Activity jumps.
// Must be called once after the step sequence is fully populated.
func (p *Process) Finalize() {
	p.index = make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID != "" {
			p.index[s.ID] = i
		}
	}
}

func (p *Process) indexOf(stepID string) int {
	if i, ok := p.index[stepID]; ok {
		return i
	}
	return len(p.Steps) // unknown target departs the entity; config validation should prevent this
}
