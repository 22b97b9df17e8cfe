package rng

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedReproducibility(t *testing.T) {
	a := New(12345)
	b := New(12345)

	for i := 0; i < 10000; i++ {
		require.Equal(t, a.Next(), b.Next(), "sample %d diverged", i)
	}
}

func TestUniformRange(t *testing.T) {
	s := New(42)
	for i := 0; i < 50000; i++ {
		v := s.Next()
		assert.True(t, v > 0 && v < 1, "sample %d out of (0,1): %f", i, v)
	}
}

func TestUniformMeanAndVariance(t *testing.T) {
	s := New(7)
	const n = 50000
	sum, sumSq := 0.0, 0.0
	for i := 0; i < n; i++ {
		v := s.Next()
		sum += v
		sumSq += v * v
	}
	mean := sum / n
	variance := sumSq/n - mean*mean

	assert.InDelta(t, 0.5, mean, 0.02)
	assert.InDelta(t, 1.0/12.0, variance, 0.05*(1.0/12.0))
}

func TestNonPositiveSeedFallsBackToTimeBased(t *testing.T) {
	a := New(0)
	b := New(-5)
	assert.NotNil(t, a)
	assert.NotNil(t, b)
	v := a.Next()
	assert.False(t, math.IsNaN(v))
}

func TestReplicationSeedInjective(t *testing.T) {
	seen := map[int64]bool{}
	for i := 0; i < 100; i++ {
		s := ReplicationSeed(1000, i, 1000)
		assert.False(t, seen[s], "collision at index %d", i)
		seen[s] = true
	}
}
