package kernel

import (
	"math"
	"testing"

	"github.com/R3E-Network/desengine/internal/distributions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expo(rate float64) distributions.Descriptor {
	return distributions.Descriptor{Type: distributions.Exponential, Parameters: map[string]float64{"rate": rate}}
}

// buildMM1 constructs a single-server queue: arrival -> seize(server) -> delay(service) -> release -> depart.
func buildMM1(seed int64, lambda, mu float64, endTime, warmup float64, capacity int) *Kernel {
	k := New(seed, endTime, warmup)
	k.AddResource(&Resource{ID: "server", Name: "server", Capacity: capacity})
	proc := &Process{
		ID:         "queue",
		EntityType: "customer",
		Steps: []Step{
			{ID: "seize", Kind: KindSeize, Resource: "server", Quantity: 1},
			{ID: "service", Kind: KindDelay, Duration: expo(mu)},
			{ID: "release", Kind: KindRelease, Resource: "server", Quantity: 1},
		},
	}
	k.AddProcess(proc)
	k.AddEntityType(&EntityTypeConfig{
		Name:      "customer",
		ProcessID: "queue",
		Pattern:   ArrivalPattern{Kind: ArrivalPoisson, Rate: lambda},
	})
	return k
}

func TestMM1MeanWaitWithinAnalyticalBand(t *testing.T) {
	lambda, mu := 0.8, 1.0
	analyticalWq := lambda / (mu * (mu - lambda)) // 4.0

	var means []float64
	for rep := 0; rep < 20; rep++ {
		k := buildMM1(int64(1000+rep*1000), lambda, mu, 20000, 2000, 1)
		k.Initialize()
		k.Run()
		means = append(means, k.Stats.Wait("server").Mean)
	}
	grandMean := 0.0
	for _, m := range means {
		grandMean += m
	}
	grandMean /= float64(len(means))

	assert.InDelta(t, analyticalWq, grandMean, analyticalWq*0.25, "simulated mean wait should be near the analytical M/M/1 Wq")
}

func TestMM1LightLoadLowerWait(t *testing.T) {
	k := buildMM1(42, 0.5, 1.0, 20000, 2000, 1)
	k.Initialize()
	k.Run()
	heavy := buildMM1(42, 0.9, 1.0, 20000, 2000, 1)
	heavy.Initialize()
	heavy.Run()
	assert.Less(t, k.Stats.Wait("server").Mean, heavy.Stats.Wait("server").Mean)
}

func TestMMCEquivalentToMM1WhenCIsOne(t *testing.T) {
	mm1 := buildMM1(7, 0.5, 1.0, 10000, 1000, 1)
	mm1.Initialize()
	mm1.Run()
	mmc := buildMM1(7, 0.5, 1.0, 10000, 1000, 1)
	mmc.Initialize()
	mmc.Run()
	assert.InDelta(t, mm1.Stats.Wait("server").Mean, mmc.Stats.Wait("server").Mean, 1e-9)
}

func TestMMCMultiServerReducesWait(t *testing.T) {
	single := buildMM1(99, 2.5, 1.0, 20000, 2000, 1)
	single.Initialize()
	single.Run()
	multi := buildMM1(99, 2.5, 1.0, 20000, 2000, 3)
	multi.Initialize()
	multi.Run()
	assert.Less(t, multi.Stats.Wait("server").Mean, single.Stats.Wait("server").Mean)
}

func TestDepartureReleasesResourceAndCycleTimeNonNegative(t *testing.T) {
	k := buildMM1(55, 0.3, 1.0, 5000, 0, 1)
	k.Initialize()
	k.Run()
	summary := k.Stats.CycleTime()
	require.Greater(t, summary.Count, int64(0))
	assert.GreaterOrEqual(t, summary.Min, 0.0)
}

func TestZeroWarmupAccruesUtilizationFromStart(t *testing.T) {
	k := buildMM1(33, 0.8, 1.0, 5000, 0, 1)
	k.Initialize()
	k.Run()
	r := k.Resources["server"]
	assert.Greater(t, r.Utilization(k.Elapsed()), 0.0, "utilization should accrue when warmup is zero")
	assert.Greater(t, k.Stats.Wait("server").Count, int64(0))
}

func TestWarmupDeletionResetsResourceIntegrals(t *testing.T) {
	k := buildMM1(11, 0.5, 1.0, 200, 100, 1)
	k.Initialize()
	k.Run()
	r := k.Resources["server"]
	assert.LessOrEqual(t, r.BusyIntegral, k.Elapsed()*float64(r.Capacity)+1e-6)
}

// tandem network: arrival -> seize(A) -> delay -> release(A) -> seize(B) -> delay -> release(B) -> depart
func buildTandem(seed int64) *Kernel {
	k := New(seed, 20000, 2000)
	k.AddResource(&Resource{ID: "A", Capacity: 1})
	k.AddResource(&Resource{ID: "B", Capacity: 1})
	proc := &Process{
		ID:         "tandem",
		EntityType: "job",
		Steps: []Step{
			{ID: "seizeA", Kind: KindSeize, Resource: "A", Quantity: 1},
			{ID: "delayA", Kind: KindDelay, Duration: expo(2.0)},
			{ID: "releaseA", Kind: KindRelease, Resource: "A", Quantity: 1},
			{ID: "seizeB", Kind: KindSeize, Resource: "B", Quantity: 1},
			{ID: "delayB", Kind: KindDelay, Duration: expo(2.0)},
			{ID: "releaseB", Kind: KindRelease, Resource: "B", Quantity: 1},
		},
	}
	k.AddProcess(proc)
	k.AddEntityType(&EntityTypeConfig{
		Name:      "job",
		ProcessID: "tandem",
		Pattern:   ArrivalPattern{Kind: ArrivalPoisson, Rate: 0.5},
	})
	return k
}

func TestTandemCycleTimeExceedsSingleStageServiceMean(t *testing.T) {
	k := buildTandem(321)
	k.Initialize()
	k.Run()
	summary := k.Stats.CycleTime()
	require.Greater(t, summary.Count, int64(0))
	// cycle time must be at least the sum of the two mean service times (1/rate each)
	assert.GreaterOrEqual(t, summary.Mean, 1.0)
}

func TestTandemBothResourcesSeeLoad(t *testing.T) {
	k := buildTandem(654)
	k.Initialize()
	k.Run()
	assert.Greater(t, k.Resources["A"].SeizeCount, 0)
	assert.Greater(t, k.Resources["B"].SeizeCount, 0)
}

func TestDecisionBranchProbabilityRouting(t *testing.T) {
	k := New(17, 5000, 0)
	k.AddResource(&Resource{ID: "fast", Capacity: 10})
	k.AddResource(&Resource{ID: "slow", Capacity: 10})
	proc := &Process{
		ID:         "fork",
		EntityType: "item",
		Steps: []Step{
			{ID: "decide", Kind: KindDecision, Branches: []Branch{
				{TargetStepID: "seizeFast", Probability: 0.7},
				{TargetStepID: "seizeSlow", Probability: 0.3},
			}},
			{ID: "seizeFast", Kind: KindSeize, Resource: "fast", Quantity: 1},
			{ID: "relFast", Kind: KindRelease, Resource: "fast", Quantity: 1},
			{ID: "seizeSlow", Kind: KindSeize, Resource: "slow", Quantity: 1},
			{ID: "relSlow", Kind: KindRelease, Resource: "slow", Quantity: 1},
		},
	}
	proc.Finalize()
	// The fast path continues on into seizeSlow, so every entity seizes
	// "slow" and its seize count is the entity total.
	k.AddProcess(proc)
	k.AddEntityType(&EntityTypeConfig{
		Name:      "item",
		ProcessID: "fork",
		Pattern:   ArrivalPattern{Kind: ArrivalPoisson, Rate: 1.0},
	})
	k.Initialize()
	k.Run()
	fastShare := float64(k.Resources["fast"].SeizeCount) / float64(k.Resources["slow"].SeizeCount)
	assert.InDelta(t, 0.7, fastShare, 0.1)
}

func TestUnknownResourceReferenceRecordsDiagnostic(t *testing.T) {
	k := New(3, 1000, 0)
	proc := &Process{
		ID:         "broken",
		EntityType: "x",
		Steps: []Step{
			{ID: "seize", Kind: KindSeize, Resource: "nonexistent", Quantity: 1},
		},
	}
	k.AddProcess(proc)
	k.AddEntityType(&EntityTypeConfig{
		Name:      "x",
		ProcessID: "broken",
		Pattern:   ArrivalPattern{Kind: ArrivalPoisson, Rate: 1.0},
	})
	k.Initialize()
	k.Run()
	require.NotEmpty(t, k.Diagnostics)
}

func TestMaxEventsGuardStopsReplication(t *testing.T) {
	k := buildMM1(5, 5.0, 1.0, math.MaxFloat64/2, 0, 1)
	k.MaxEvents = 50
	k.Initialize()
	k.Run()
	require.NotEmpty(t, k.Diagnostics)
	assert.Equal(t, "RUN_2004", string(k.Diagnostics[len(k.Diagnostics)-1].Code))
}
