// Package rng provides a deterministic, seedable uniform random stream.
package rng

import "time"

const (
	modulus    = 2147483647 // 2^31 - 1 (Mersenne prime, Park-Miller modulus)
	multiplier = 48271
	quotient   = modulus / multiplier
	remainder  = modulus % multiplier
)

// Stream is a Park-Miller minimal standard LCG producing uniform (0, 1)
// doubles. Identical seeds produce bit-identical sequences.
type Stream struct {
	state int64
}

// New creates a Stream from seed. Seeds <= 0 fall back to a time-based
// seed; this breaks reproducibility and callers that need determinism
// must pass a seed > 0.
func New(seed int64) *Stream {
	if seed <= 0 {
		seed = time.Now().UnixNano()
	}
	state := seed % modulus
	if state <= 0 {
		state += modulus - 1
	}
	return &Stream{state: state}
}

// Next returns the next uniform value in (0, 1).
func (s *Stream) Next() float64 {
	hi := s.state / quotient
	lo := s.state % quotient
	next := multiplier*lo - remainder*hi
	if next <= 0 {
		next += modulus
	}
	s.state = next
	return float64(s.state) / float64(modulus)
}

// Seed reseeds the stream. Not intended to be called mid-replication;
// the engine creates one Stream per replication instead.
func (s *Stream) Seed(seed int64) {
	if seed <= 0 {
		seed = time.Now().UnixNano()
	}
	state := seed % modulus
	if state <= 0 {
		state += modulus - 1
	}
	s.state = state
}

// ReplicationSeed maps a base seed and replication index to a per-run
// seed. The mapping is injective for any base seed and stride, so
// distinct replications draw from independent, reproducible streams.
func ReplicationSeed(baseSeed int64, index int, stride int64) int64 {
	if stride <= 0 {
		stride = 1000
	}
	return baseSeed + int64(index)*stride
}
