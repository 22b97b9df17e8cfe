package replication

import (
	"context"
	"math"
	"testing"

	"github.com/R3E-Network/desengine/internal/distributions"
	"github.com/R3E-Network/desengine/internal/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expo(rate float64) distributions.Descriptor {
	return distributions.Descriptor{Type: distributions.Exponential, Parameters: map[string]float64{"rate": rate}}
}

func buildMM1(lambda, mu float64) ModelBuilder {
	return func(k *kernel.Kernel) {
		k.AddResource(&kernel.Resource{ID: "server", Capacity: 1})
		proc := &kernel.Process{
			ID:         "queue",
			EntityType: "customer",
			Steps: []kernel.Step{
				{ID: "seize", Kind: kernel.KindSeize, Resource: "server", Quantity: 1},
				{ID: "service", Kind: kernel.KindDelay, Duration: expo(mu)},
				{ID: "release", Kind: kernel.KindRelease, Resource: "server", Quantity: 1},
			},
		}
		k.AddProcess(proc)
		k.AddEntityType(&kernel.EntityTypeConfig{
			Name:      "customer",
			ProcessID: "queue",
			Pattern:   kernel.ArrivalPattern{Kind: kernel.ArrivalPoisson, Rate: lambda},
		})
	}
}

func extractWait(k *kernel.Kernel) map[string]float64 {
	return map[string]float64{"wait": k.Stats.Wait("server").Mean}
}

func TestRunReplicationsProducesOneResultPerRun(t *testing.T) {
	runner := NewRunner(nil)
	cfg := Config{N: 10, BaseSeed: 1, RunLength: 5000, Warmup: 500, ConfidenceLevel: 0.95}
	result := runner.Run(context.Background(), cfg, buildMM1(0.5, 1.0), extractWait, nil)
	require.Len(t, result.Raw, 10)
	require.Contains(t, result.Outputs, "wait")
}

func TestMM1MeanWaitNearAnalyticalWq(t *testing.T) {
	runner := NewRunner(nil)
	cfg := Config{N: 30, BaseSeed: 100, RunLength: 10000, Warmup: 1000, ConfidenceLevel: 0.95}
	result := runner.Run(context.Background(), cfg, buildMM1(0.8, 1.0), extractWait, nil)
	summary := result.Outputs["wait"]
	analyticalWq := 4.0
	assert.InDelta(t, analyticalWq, summary.Mean, analyticalWq*0.6, "simulated mean wait should be in the neighborhood of the analytical Wq")
}

func TestProgressCallbackFiresForEveryReplication(t *testing.T) {
	runner := NewRunner(nil)
	cfg := Config{N: 5, BaseSeed: 7, RunLength: 2000, Warmup: 0, ConfidenceLevel: 0.95}
	calls := 0
	runner.Run(context.Background(), cfg, buildMM1(0.3, 1.0), extractWait, func(completed, total int, r RunResult) {
		calls++
		assert.LessOrEqual(t, completed, total)
	})
	assert.Equal(t, 5, calls)
}

func TestWorkerPoolMatchesSequentialResultCount(t *testing.T) {
	runner := NewRunner(nil)
	cfg := Config{N: 8, BaseSeed: 3, RunLength: 2000, Warmup: 0, ConfidenceLevel: 0.95, Workers: 4}
	result := runner.Run(context.Background(), cfg, buildMM1(0.4, 1.0), extractWait, nil)
	require.Len(t, result.Raw, 8)
	seeds := make(map[int64]bool)
	for _, r := range result.Raw {
		seeds[r.Seed] = true
	}
	assert.Len(t, seeds, 8, "every replication must receive a distinct deterministic seed regardless of completion order")
}

func TestConvergenceCheckFlagsTightTarget(t *testing.T) {
	runner := NewRunner(nil)
	cfg := Config{N: 5, BaseSeed: 9, RunLength: 2000, Warmup: 0, ConfidenceLevel: 0.95, TargetHalfWidth: 1e-6}
	result := runner.Run(context.Background(), cfg, buildMM1(0.3, 1.0), extractWait, nil)
	summary := result.Outputs["wait"]
	assert.False(t, summary.Converged)
	assert.Greater(t, summary.RequiredN, cfg.N)
}

func TestLagOneAutocorrelationOfIndependentReplicationsIsSmall(t *testing.T) {
	runner := NewRunner(nil)
	cfg := Config{N: 30, BaseSeed: 55, RunLength: 5000, Warmup: 500, ConfidenceLevel: 0.95}
	result := runner.Run(context.Background(), cfg, buildMM1(0.8, 1.0), extractWait, nil)
	values := make([]float64, len(result.Raw))
	for i, r := range result.Raw {
		values[i] = r.Metrics["wait"]
	}
	autocorr := LagOneAutocorrelation(values)
	assert.Less(t, math.Abs(autocorr), 0.5)
}

func TestTValueFallsBackToNormalForLargeDF(t *testing.T) {
	assert.InDelta(t, 1.960, tValue(200, 0.95), 1e-9)
}

func TestSummarizeEmptyValues(t *testing.T) {
	summary := summarize(nil, 0.95, 0)
	assert.Equal(t, MetricSummary{}, summary)
}
