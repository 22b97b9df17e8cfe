// Package desengine is the public surface of the discrete-event
// simulation engine: model construction, single-run execution, and
// multi-replication analysis, per the engine's external interface
// design. Hosts (CLIs, HTTP servers, notebooks) build and run
// simulations through this package rather than through
// internal/kernel or internal/replication.
package desengine

import (
	"context"

	"github.com/R3E-Network/desengine/internal/distributions"
	"github.com/R3E-Network/desengine/internal/errors"
	"github.com/R3E-Network/desengine/internal/kernel"
	"github.com/R3E-Network/desengine/internal/replication"
)

// Distribution is the public alias of a distribution descriptor.
type Distribution = distributions.Descriptor

// Family re-exports the distribution family tag type.
type Family = distributions.Family

// StepKind re-exports the closed set of process step kinds.
type StepKind = kernel.StepKind

const (
	Seize    = kernel.KindSeize
	Delay    = kernel.KindDelay
	Release  = kernel.KindRelease
	Decision = kernel.KindDecision
	Activity = kernel.KindActivity
)

// Branch re-exports a Decision/Activity routing branch.
type Branch = kernel.Branch

// ResourceRequirement re-exports an Activity step's resource need.
type ResourceRequirement = kernel.ResourceRequirement

// Step re-exports one process step.
type Step = kernel.Step

// QueueDiscipline re-exports a resource's wait-queue ordering policy.
type QueueDiscipline = kernel.QueueDiscipline

const (
	FIFO             = kernel.FIFO
	LIFO             = kernel.LIFO
	PriorityLowFirst = kernel.PriorityLowFirst
)

// ArrivalPatternKind re-exports the closed set of arrival timing modes.
type ArrivalPatternKind = kernel.ArrivalPatternKind

const (
	ArrivalConstant              = kernel.ArrivalConstant
	ArrivalPoisson               = kernel.ArrivalPoisson
	ArrivalNonHomogeneousPoisson = kernel.ArrivalNonHomogeneousPoisson
	ArrivalExplicitSchedule      = kernel.ArrivalExplicitSchedule
)

// RatePeriod, ScheduledArrival, ArrivalPattern re-export the arrival
// configuration types.
type (
	RatePeriod       = kernel.RatePeriod
	ScheduledArrival = kernel.ScheduledArrival
	ArrivalPattern   = kernel.ArrivalPattern
)

// ResourceSpec describes one resource pool at model-construction time.
type ResourceSpec struct {
	ID          string
	Name        string
	Capacity    int
	Discipline  QueueDiscipline
	FailureDist *Distribution
	RepairDist  *Distribution
}

// ProcessSpec describes one named step sequence bound to an entity type.
type ProcessSpec struct {
	ID         string
	Name       string
	EntityType string
	Steps      []Step
	BatchSize  int
}

// EntityTypeSpec binds an entity type's arrival pattern to its process.
type EntityTypeSpec struct {
	Name      string
	Pattern   ArrivalPattern
	ProcessID string
}

// Model is the host-facing model construction API (spec's
// addResource/addProcess/addEntityType/setEndTime/setWarmup/setSeed).
type Model struct {
	resources   []ResourceSpec
	processes   []ProcessSpec
	entityTypes []EntityTypeSpec
	endTime     float64
	warmup      float64
	seed        int64
	maxEvents   int
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{}
}

func (m *Model) AddResource(spec ResourceSpec) *Model {
	m.resources = append(m.resources, spec)
	return m
}

func (m *Model) AddProcess(spec ProcessSpec) *Model {
	m.processes = append(m.processes, spec)
	return m
}

func (m *Model) AddEntityType(spec EntityTypeSpec) *Model {
	m.entityTypes = append(m.entityTypes, spec)
	return m
}

func (m *Model) SetEndTime(t float64) *Model {
	m.endTime = t
	return m
}

func (m *Model) SetWarmup(t float64) *Model {
	m.warmup = t
	return m
}

func (m *Model) SetSeed(s int64) *Model {
	m.seed = s
	return m
}

// EndTime returns the model's configured simulation end time, used by
// hosts that need to seed a ReplicationConfig's RunLength from a
// loaded model rather than hardcoding it.
func (m *Model) EndTime() float64 {
	return m.endTime
}

// Warmup returns the model's configured warmup duration.
func (m *Model) Warmup() float64 {
	return m.warmup
}

// SetMaxEvents installs a runaway-loop guard (0 disables it).
func (m *Model) SetMaxEvents(n int) *Model {
	m.maxEvents = n
	return m
}

// Validate runs the configuration-time checks: unknown resource
// references, probability branches not summing to 1, invalid Delay
// step distribution parameters, and a warmup at or past the end time.
// It does not check queue stability; CheckMM1Stability does that
// separately.
func (m *Model) Validate() error {
	resourceIDs := make(map[string]bool, len(m.resources))
	for _, r := range m.resources {
		resourceIDs[r.ID] = true
	}
	for _, p := range m.processes {
		for _, step := range p.Steps {
			switch step.Kind {
			case kernel.KindSeize, kernel.KindRelease:
				if step.Resource != "" && !resourceIDs[step.Resource] {
					return errors.UnknownResource(step.Resource)
				}
			case kernel.KindActivity:
				for _, req := range step.ResourceRequirements {
					if !resourceIDs[req.ResourceID] {
						return errors.UnknownResource(req.ResourceID)
					}
				}
			case kernel.KindDecision:
				if err := validateBranches(step.ID, step.Branches); err != nil {
					return err
				}
			}
			if step.Kind == kernel.KindActivity {
				if err := validateBranches(step.ID, step.Routes); err != nil {
					return err
				}
			}
			if err := distributions.Validate(step.Duration); err != nil && step.Kind == kernel.KindDelay {
				return err
			}
		}
	}
	if m.warmup > 0 && m.endTime > 0 && m.warmup >= m.endTime {
		return errors.WarmupExceedsEnd(m.warmup, m.endTime)
	}
	return nil
}

func validateBranches(stepID string, branches []Branch) error {
	sum := 0.0
	hasProbability := false
	for _, b := range branches {
		if b.Predicate == "" {
			sum += b.Probability
			hasProbability = true
		}
	}
	if hasProbability && (sum < 0.999999 || sum > 1.000001) {
		return errors.ProbabilitiesInvalid(stepID, sum)
	}
	return nil
}

// CheckMM1Stability returns an error if a single M/M1-style resource
// would be unstable (lambda >= c*mu). Hosts call this explicitly when
// they know their model reduces to a simple queue; the generic
// Validate pass cannot infer lambda/mu for arbitrary step graphs.
func CheckMM1Stability(lambda, mu float64, servers int) error {
	if servers <= 0 {
		servers = 1
	}
	if lambda >= float64(servers)*mu {
		return errors.UnstableQueue(lambda, mu, servers)
	}
	return nil
}

// applyTo registers every resource, process, and entity type onto an
// already-constructed kernel.
func (m *Model) applyTo(k *kernel.Kernel) {
	for _, rspec := range m.resources {
		k.AddResource(&kernel.Resource{
			ID:          rspec.ID,
			Name:        rspec.Name,
			Capacity:    rspec.Capacity,
			Discipline:  rspec.Discipline,
			FailureDist: rspec.FailureDist,
			RepairDist:  rspec.RepairDist,
		})
	}
	for _, pspec := range m.processes {
		k.AddProcess(&kernel.Process{
			ID:         pspec.ID,
			Name:       pspec.Name,
			EntityType: pspec.EntityType,
			Steps:      pspec.Steps,
			BatchSize:  pspec.BatchSize,
		})
	}
	for _, espec := range m.entityTypes {
		k.AddEntityType(&kernel.EntityTypeConfig{
			Name:      espec.Name,
			Pattern:   espec.Pattern,
			ProcessID: espec.ProcessID,
		})
	}
}

// build materializes a Model into a fresh kernel.Kernel.
func (m *Model) build() *kernel.Kernel {
	k := kernel.New(m.seed, m.endTime, m.warmup)
	k.MaxEvents = m.maxEvents
	m.applyTo(k)
	return k
}

// ResourceStats is the public snapshot of one resource's statistics.
type ResourceStats struct {
	ID                  string
	Utilization         float64
	AverageQueueLength  float64
	MaxQueueLength      int
	SeizeCount          int
	DownIntegral        float64
}

// Stats is the public getStats() record: per-system and per-resource
// statistics for one completed run.
type Stats struct {
	CycleTime   SummaryStats
	Throughput  float64
	Resources   map[string]ResourceStats
	Diagnostics []*errors.SimError
}

// SummaryStats mirrors internal/stats.Summary for the public API.
type SummaryStats struct {
	Count  int64
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	P50    float64
	P90    float64
	P95    float64
	P99    float64
}

// Run is a live, steppable single replication (spec's initialize/step/
// run/getStats run API).
type Run struct {
	k *Model
	kernel *kernel.Kernel
}

// NewRun builds a kernel from m without dispatching any events.
func NewRun(m *Model) *Run {
	return &Run{k: m, kernel: m.build()}
}

// Initialize pre-schedules arrivals and initial failure events.
func (r *Run) Initialize() {
	r.kernel.Initialize()
}

// Step pops and dispatches one event, returning false when finished.
func (r *Run) Step() bool {
	return r.kernel.Step()
}

// RunToCompletion drives the dispatch loop to completion.
func (r *Run) RunToCompletion() {
	r.kernel.Run()
}

// GetStats snapshots the run's current statistics.
func (r *Run) GetStats() Stats {
	resources := make(map[string]ResourceStats, len(r.kernel.Resources))
	elapsed := r.kernel.Elapsed()
	for id, res := range r.kernel.Resources {
		resources[id] = ResourceStats{
			ID:                 id,
			Utilization:        res.Utilization(elapsed),
			AverageQueueLength: res.AverageQueueLength(elapsed),
			MaxQueueLength:     res.MaxQueueLength,
			SeizeCount:         res.SeizeCount,
			DownIntegral:       res.DownIntegral,
		}
	}
	cycle := r.kernel.Stats.CycleTime()
	return Stats{
		CycleTime:   SummaryStats(cycle),
		Throughput:  r.kernel.Stats.Throughput(elapsed),
		Resources:   resources,
		Diagnostics: r.kernel.Diagnostics,
	}
}

// ReplicationConfig is the public replication batch configuration.
type ReplicationConfig struct {
	N               int
	BaseSeed        int64
	SeedStride      int64
	RunLength       float64
	Warmup          float64
	ConfidenceLevel float64
	TargetHalfWidth float64
	Workers         int
}

// ReplicationOutput is one named metric's cross-replication summary.
type ReplicationOutput struct {
	Mean            float64
	StdDev          float64
	Min             float64
	Max             float64
	Median          float64
	Q1              float64
	Q3              float64
	P95             float64
	P99             float64
	HalfWidth       float64
	CILow           float64
	CIHigh          float64
	Converged       bool
	RequiredN       int
}

// ReplicationResult is the public runReplications() return value.
type ReplicationResult struct {
	Outputs map[string]ReplicationOutput
	RawData []map[string]float64
}

// ProgressFunc is invoked after each replication completes.
type ProgressFunc func(completed, total int)

// RunReplications executes cfg.N independent replications of the model
// produced by a fresh Model for each run (the caller's modelBuilder is
// invoked once per replication to guarantee no shared mutable state),
// extracting named metrics via the host-supplied extractor.
func RunReplications(ctx context.Context, modelBuilder func() *Model, cfg ReplicationConfig, extract func(*Run) map[string]float64, onProgress ProgressFunc) ReplicationResult {
	runner := replication.NewRunner(nil)
	repCfg := replication.Config{
		N:               cfg.N,
		BaseSeed:        cfg.BaseSeed,
		SeedStride:      cfg.SeedStride,
		RunLength:       cfg.RunLength,
		Warmup:          cfg.Warmup,
		ConfidenceLevel: cfg.ConfidenceLevel,
		TargetHalfWidth: cfg.TargetHalfWidth,
		Workers:         cfg.Workers,
	}

	build := func(k *kernel.Kernel) {
		modelBuilder().applyTo(k)
	}

	extractAdapter := func(k *kernel.Kernel) map[string]float64 {
		return extract(&Run{kernel: k})
	}

	var progressAdapter replication.ProgressFunc
	if onProgress != nil {
		progressAdapter = func(completed, total int, r replication.RunResult) {
			onProgress(completed, total)
		}
	}

	batch := runner.Run(ctx, repCfg, build, extractAdapter, progressAdapter)

	outputs := make(map[string]ReplicationOutput, len(batch.Outputs))
	for name, s := range batch.Outputs {
		outputs[name] = ReplicationOutput{
			Mean: s.Mean, StdDev: s.StdDev, Min: s.Min, Max: s.Max,
			Median: s.Median, Q1: s.Q1, Q3: s.Q3, P95: s.P95, P99: s.P99,
			HalfWidth: s.HalfWidth, CILow: s.CILow, CIHigh: s.CIHigh,
			Converged: s.Converged, RequiredN: s.RequiredN,
		}
	}
	raw := make([]map[string]float64, len(batch.Raw))
	for i, r := range batch.Raw {
		raw[i] = r.Metrics
	}
	return ReplicationResult{Outputs: outputs, RawData: raw}
}
