// Package replication implements the replication runner (C6): N
// independent seeded runs executed on a worker pool, per-metric
// summaries, t-interval confidence estimation, and a convergence
// check against a target relative half-width.
package replication

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/R3E-Network/desengine/internal/kernel"
	"github.com/R3E-Network/desengine/internal/logging"
	"github.com/R3E-Network/desengine/internal/rng"
)

// Config configures one replication batch.
type Config struct {
	N               int
	BaseSeed        int64
	SeedStride      int64 // defaults to 1000 if <= 0, per rng.ReplicationSeed
	RunLength       float64
	Warmup          float64
	ConfidenceLevel float64 // e.g. 0.95
	TargetHalfWidth float64 // relative half-width epsilon for convergence, 0 disables the check
	Workers         int     // <= 0 runs sequentially
	MaxEvents       int
}

// ModelBuilder constructs and configures a fresh kernel for one
// replication. Each invocation must return a kernel with no shared
// mutable state with any other replication's kernel.
type ModelBuilder func(k *kernel.Kernel)

// RunResult is one replication's extracted metric values, keyed by
// caller-chosen metric name.
type RunResult struct {
	Index   int
	Seed    int64
	Metrics map[string]float64
	Elapsed time.Duration
}

// MetricSummary is the per-metric cross-replication summary.
type MetricSummary struct {
	Mean            float64
	StdDev          float64 // sample (n-1)
	Min             float64
	Max             float64
	Median          float64
	Q1              float64
	Q3              float64
	P95             float64
	P99             float64
	ConfidenceLevel float64
	HalfWidth       float64
	CILow           float64
	CIHigh          float64
	Converged       bool
	RequiredN       int
}

// BatchResult is the output of one replication batch.
type BatchResult struct {
	Raw        []RunResult
	Outputs    map[string]MetricSummary
	TotalTime  time.Duration
}

// MetricExtractor pulls named metric values out of a completed kernel.
type MetricExtractor func(k *kernel.Kernel) map[string]float64

// ProgressFunc is invoked after each replication completes.
type ProgressFunc func(completed, total int, result RunResult)

// Runner drives replication batches.
type Runner struct {
	Logger *logging.Logger
}

// NewRunner creates a Runner with the given logger (nil disables
// per-replication logging).
func NewRunner(logger *logging.Logger) *Runner {
	return &Runner{Logger: logger}
}

// Run executes cfg.N independent replications, optionally on a worker
// pool, and aggregates their extracted metrics.
func (rr *Runner) Run(ctx context.Context, cfg Config, build ModelBuilder, extract MetricExtractor, onProgress ProgressFunc) BatchResult {
	start := time.Now()
	results := make([]RunResult, cfg.N)

	runOne := func(i int) RunResult {
		seed := rng.ReplicationSeed(cfg.BaseSeed, i, cfg.SeedStride)
		k := kernel.New(seed, cfg.RunLength, cfg.Warmup)
		k.MaxEvents = cfg.MaxEvents
		build(k)
		k.Initialize()

		repStart := time.Now()
		k.Run()
		elapsed := time.Since(repStart)

		if rr.Logger != nil {
			rr.Logger.LogReplicationRun(ctx, i, seed, k.Now, elapsed)
		}

		return RunResult{
			Index:   i,
			Seed:    seed,
			Metrics: extract(k),
			Elapsed: elapsed,
		}
	}

	if cfg.Workers <= 1 {
		for i := 0; i < cfg.N; i++ {
			results[i] = runOne(i)
			if onProgress != nil {
				onProgress(i+1, cfg.N, results[i])
			}
		}
	} else {
		var mu sync.Mutex
		completed := 0
		sem := make(chan struct{}, cfg.Workers)
		var wg sync.WaitGroup
		for i := 0; i < cfg.N; i++ {
			wg.Add(1)
			sem <- struct{}{}
			go func(idx int) {
				defer wg.Done()
				defer func() { <-sem }()
				r := runOne(idx)
				mu.Lock()
				results[idx] = r
				completed++
				n := completed
				mu.Unlock()
				if onProgress != nil {
					onProgress(n, cfg.N, r)
				}
			}(i)
		}
		wg.Wait()
	}

	outputs := make(map[string]MetricSummary)
	metricNames := collectMetricNames(results)
	for _, name := range metricNames {
		values := extractValues(results, name)
		outputs[name] = summarize(values, cfg.ConfidenceLevel, cfg.TargetHalfWidth)
	}

	return BatchResult{
		Raw:       results,
		Outputs:   outputs,
		TotalTime: time.Since(start),
	}
}

func collectMetricNames(results []RunResult) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range results {
		for name := range r.Metrics {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

func extractValues(results []RunResult, name string) []float64 {
	values := make([]float64, 0, len(results))
	for _, r := range results {
		if v, ok := r.Metrics[name]; ok {
			values = append(values, v)
		}
	}
	return values
}

func summarize(values []float64, confidence, targetHalfWidth float64) MetricSummary {
	n := len(values)
	if n == 0 {
		return MetricSummary{}
	}
	sorted := append([]float64(nil), values...)
	insertionSort(sorted)

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	sampleStdDev := 0.0
	if n > 1 {
		sampleStdDev = math.Sqrt(variance / float64(n-1))
	}

	summary := MetricSummary{
		Mean:            mean,
		StdDev:          sampleStdDev,
		Min:             sorted[0],
		Max:             sorted[n-1],
		Median:          percentile(sorted, 0.5),
		Q1:              percentile(sorted, 0.25),
		Q3:              percentile(sorted, 0.75),
		P95:             percentile(sorted, 0.95),
		P99:             percentile(sorted, 0.99),
		ConfidenceLevel: confidence,
	}

	if n > 1 && confidence > 0 {
		t := tValue(n-1, confidence)
		halfWidth := t * sampleStdDev / math.Sqrt(float64(n))
		summary.HalfWidth = halfWidth
		summary.CILow = mean - halfWidth
		summary.CIHigh = mean + halfWidth
		if targetHalfWidth > 0 {
			summary.Converged = halfWidth <= targetHalfWidth*math.Abs(mean)
			if math.Abs(mean) > 0 {
				ratio := t * sampleStdDev / (targetHalfWidth * math.Abs(mean))
				summary.RequiredN = int(math.Ceil(ratio * ratio))
			}
		}
	}

	return summary
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func insertionSort(xs []float64) {
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}

// tValue looks up the two-tailed Student's t critical value for df
// degrees of freedom at the given confidence level. A small table
// covers df in {10, 20, 30}; df >= 30 falls back to the normal
// quantile, as permitted for an "acceptable" implementation.
func tValue(df int, confidence float64) float64 {
	table := map[float64]map[int]float64{
		0.90: {10: 1.812, 20: 1.725, 30: 1.697},
		0.95: {10: 2.228, 20: 2.086, 30: 2.042},
		0.99: {10: 3.169, 20: 2.845, 30: 2.750},
	}
	normalTable := map[float64]float64{
		0.90: 1.645,
		0.95: 1.960,
		0.99: 2.576,
	}
	bucket := df
	switch {
	case df < 10:
		bucket = 10
	case df < 20:
		bucket = 10
	case df < 30:
		bucket = 20
	default:
		bucket = 30
	}
	if df >= 30 {
		if z, ok := normalTable[confidence]; ok {
			return z
		}
		return 1.960
	}
	level, ok := table[confidence]
	if !ok {
		level = table[0.95]
	}
	if v, ok := level[bucket]; ok {
		return v
	}
	return level[30]
}

// LagOneAutocorrelation computes the lag-1 sample autocorrelation of a
// series, used to check between-replication independence.
func LagOneAutocorrelation(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	var num, den float64
	for i := 0; i < n-1; i++ {
		num += (values[i] - mean) * (values[i+1] - mean)
	}
	for i := 0; i < n; i++ {
		den += (values[i] - mean) * (values[i] - mean)
	}
	if den == 0 {
		return 0
	}
	return num / den
}
