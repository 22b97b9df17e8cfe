package eventqueue

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderingAscendingTime(t *testing.T) {
	q := New()
	times := []float64{5.2, 1.1, 3.3, 0.4, 9.9, 2.2}
	for _, tm := range times {
		q.Insert(Event{Time: tm, Kind: Custom})
	}
	sort.Float64s(times)
	for _, want := range times {
		e := q.PopMin()
		assert.Equal(t, want, e.Time)
	}
	assert.True(t, q.IsEmpty())
}

func TestFIFOTieBreak(t *testing.T) {
	q := New()
	for i := 0; i < 20; i++ {
		q.Insert(Event{Time: 1.0, Kind: Custom, SourceIndex: i})
	}
	for i := 0; i < 20; i++ {
		e := q.PopMin()
		assert.Equal(t, i, e.SourceIndex, "FIFO order violated at position %d", i)
	}
}

func TestMixedTimesPreserveFIFOWithinTies(t *testing.T) {
	q := New()
	q.Insert(Event{Time: 2.0, SourceIndex: 100})
	q.Insert(Event{Time: 1.0, SourceIndex: 1})
	q.Insert(Event{Time: 1.0, SourceIndex: 2})
	q.Insert(Event{Time: 1.0, SourceIndex: 3})
	q.Insert(Event{Time: 2.0, SourceIndex: 200})

	want := []int{1, 2, 3, 100, 200}
	for _, w := range want {
		e := q.PopMin()
		assert.Equal(t, w, e.SourceIndex)
	}
}

func TestPopEmptyPanics(t *testing.T) {
	q := New()
	assert.Panics(t, func() { q.PopMin() })
}

func TestTryPopMinOnEmpty(t *testing.T) {
	q := New()
	_, ok := q.TryPopMin()
	assert.False(t, ok)
}

func TestInsertionSequenceNotObservable(t *testing.T) {
	q := New()
	q.Insert(Event{Time: 1.0})
	e := q.PopMin()
	assert.Equal(t, int64(0), e.seq)
}

func TestStressRandomInsertPopMaintainsNonDecreasingPopOrder(t *testing.T) {
	q := New()
	r := rand.New(rand.NewSource(1))
	lastPopped := -1.0
	const ops = 200000

	for i := 0; i < ops; i++ {
		if q.Len() > 0 && r.Intn(3) == 0 {
			e := q.PopMin()
			require.GreaterOrEqual(t, e.Time, lastPopped)
			lastPopped = e.Time
		} else {
			q.Insert(Event{Time: r.Float64() * 1000})
		}
	}
	for !q.IsEmpty() {
		e := q.PopMin()
		require.GreaterOrEqual(t, e.Time, lastPopped)
		lastPopped = e.Time
	}
}
