package wheel_test

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/fortune/internal/wheel"
)

// scripted returns a Source yielding values in order, failing the test when exhausted.
func scripted(t *testing.T, values ...float64) wheel.Source {
	i := 0
	return wheel.SourceFunc(func() float64 {
		if i >= len(values) {
			t.Fatalf("scripted source exhausted after %d values", len(values))
		}
		v := values[i]
		i++
		return v
	})
}

func assertPermutation(t require.TestingT, pool wheel.Pool, q wheel.EliminationQueue) {
	require.Len(t, q, len(pool))
	want := make([]string, len(pool))
	for i, p := range pool {
		want[i] = p.ID
	}
	got := append([]string(nil), q...)
	sort.Strings(want)
	sort.Strings(got)
	assert.Equal(t, want, got)
}

func sizedPool(n int, weight func(i int) float64) wheel.Pool {
	pool := make(wheel.Pool, n)
	for i := range pool {
		pool[i] = wheel.Participant{ID: fmt.Sprintf("p%d", i), Weight: weight(i)}
	}
	return pool
}

func TestBuildEliminationQueue_Completeness(t *testing.T) {
	src := wheel.NewSeededSource(2024)
	for _, n := range []int{1, 2, 3, 10, 100, 1000} {
		pool := sizedPool(n, func(i int) float64 { return float64(i%7 + 1) })
		q, err := wheel.BuildEliminationQueue(pool, src)
		require.NoError(t, err)
		assertPermutation(t, pool, q)
	}
}

func TestBuildEliminationQueue_Completeness_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		weights := rapid.SliceOfN(rapid.Float64Range(0, 50), 1, 200).Draw(rt, "weights")
		seed := rapid.Uint64().Draw(rt, "seed")
		pool := sizedPool(len(weights), func(i int) float64 { return weights[i] })

		q, err := wheel.BuildEliminationQueue(pool, wheel.NewSeededSource(seed))
		require.NoError(rt, err)
		assertPermutation(rt, pool, q)
	})
}

// TestBuildEliminationQueue_WinnerIsFirstDraw pins the reversal convention:
// the participant drawn against the full pool is revealed last as the winner
// and the remaining draws are revealed in reverse.
func TestBuildEliminationQueue_WinnerIsFirstDraw(t *testing.T) {
	// 0.05 draws a from the full pool, 0.99 draws c from {b, c}, then b is alone.
	q, err := wheel.BuildEliminationQueue(scenarioPool(), scripted(t, 0.05, 0.99, 0.5))
	require.NoError(t, err)
	assert.Equal(t, wheel.EliminationQueue{"b", "c", "a"}, q)
	assert.Equal(t, "a", q.Winner())
}

func TestBuildEliminationQueue_DoesNotMutatePool(t *testing.T) {
	pool := scenarioPool()
	before := pool.Clone()
	_, err := wheel.BuildEliminationQueue(pool, wheel.NewSeededSource(3))
	require.NoError(t, err)
	assert.Equal(t, before, pool)
}

func TestBuildEliminationQueue_AllZeroWeightsAreEqual(t *testing.T) {
	pool := wheel.Pool{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	// 0.7 -> c of three, 0.1 -> a of {a, b}, 0.0 -> b.
	q, err := wheel.BuildEliminationQueue(pool, scripted(t, 0.7, 0.1, 0))
	require.NoError(t, err)
	assert.Equal(t, wheel.EliminationQueue{"b", "a", "c"}, q)
}

func TestBuildEliminationQueue_ZeroWeightEliminatedFirst(t *testing.T) {
	pool := wheel.Pool{{ID: "free"}, {ID: "paid", Weight: 5}}
	for seed := uint64(0); seed < 20; seed++ {
		q, err := wheel.BuildEliminationQueue(pool, wheel.NewSeededSource(seed))
		require.NoError(t, err)
		assert.Equal(t, wheel.EliminationQueue{"free", "paid"}, q)
	}
}

func TestBuildEliminationQueue_Deterministic(t *testing.T) {
	pool := sizedPool(50, func(i int) float64 { return float64(i + 1) })
	a, err := wheel.BuildEliminationQueue(pool, wheel.NewSeededSource(77))
	require.NoError(t, err)
	b, err := wheel.BuildEliminationQueue(pool, wheel.NewSeededSource(77))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildEliminationQueue_InvalidInput(t *testing.T) {
	pools := map[string]wheel.Pool{
		"empty":     {},
		"duplicate": {{ID: "a", Weight: 1}, {ID: "a", Weight: 1}},
		"negative":  {{ID: "a", Weight: -1}},
	}
	for name, pool := range pools {
		_, err := wheel.BuildEliminationQueue(pool, wheel.NewSeededSource(1))
		assert.ErrorIs(t, err, wheel.ErrInvalidInput, name)
	}

	_, err := wheel.BuildEliminationQueue(scenarioPool(), wheel.SourceFunc(func() float64 { return 1 }))
	assert.ErrorIs(t, err, wheel.ErrInvalidInput, "out-of-range source")
}
