package wheel

import (
	"fmt"
	"math"
	"sort"
)

// binarySearchThreshold is the pool size above which Select switches from a
// linear scan to a binary search over prefix sums.
const binarySearchThreshold = 64

// Interval is a participant's half-open share [Low, High) of the unit interval.
type Interval struct {
	ID   string
	Low  float64
	High float64
}

// Width returns High - Low, the participant's selection probability.
func (iv Interval) Width() float64 {
	return iv.High - iv.Low
}

// Select returns the id of the participant whose cumulative-weight interval
// contains uniform scaled by the pool's total weight.
//
// Intervals are half-open [low, high) in pool order: a scaled value exactly on
// a boundary belongs to the participant after the boundary. Zero-weight
// participants occupy an empty interval and are never selected.
//
// Precondition: uniform in [0, 1); pool has at least one positive weight.
// Postcondition: Returns the selected id, or an error wrapping ErrInvalidInput.
func Select(pool Pool, uniform float64) (string, error) {
	i, err := selectIndex(pool, uniform, nil)
	if err != nil {
		return "", err
	}
	return pool[i].ID, nil
}

// Boundaries returns every participant's normalised interval in pool order.
//
// Postcondition: intervals are contiguous, the first Low is 0 and the last High is 1.
func Boundaries(pool Pool) ([]Interval, error) {
	total, err := weightTotal(pool)
	if err != nil {
		return nil, err
	}
	out := make([]Interval, len(pool))
	var cum float64
	for i, pt := range pool {
		low := cum / total
		cum += pt.Weight
		high := cum / total
		if i == len(pool)-1 {
			high = 1
		}
		out[i] = Interval{ID: pt.ID, Low: low, High: high}
	}
	return out, nil
}

// selectIndex returns the index Select picks. Large pools build prefix sums
// in *prefix when it is non-nil, so callers drawing repeatedly can reuse one
// buffer.
func selectIndex(pool Pool, uniform float64, prefix *[]float64) (int, error) {
	if !(uniform >= 0 && uniform < 1) {
		return 0, fmt.Errorf("uniform value %v outside [0, 1): %w", uniform, ErrInvalidInput)
	}
	total, err := weightTotal(pool)
	if err != nil {
		return 0, err
	}
	scaled := uniform * total

	if len(pool) > binarySearchThreshold {
		if prefix == nil {
			prefix = new([]float64)
		}
		sums := (*prefix)[:0]
		var cum float64
		for _, pt := range pool {
			cum += pt.Weight
			sums = append(sums, cum)
		}
		*prefix = sums
		i := sort.Search(len(sums), func(i int) bool { return sums[i] > scaled })
		if i < len(pool) {
			return i, nil
		}
		return lastPositive(pool), nil
	}

	var cum float64
	for i, pt := range pool {
		cum += pt.Weight
		if scaled < cum {
			return i, nil
		}
	}
	// uniform*total rounded up to total; the mass belongs to the last
	// participant that has any.
	return lastPositive(pool), nil
}

func weightTotal(pool Pool) (float64, error) {
	if len(pool) == 0 {
		return 0, fmt.Errorf("empty pool: %w", ErrInvalidInput)
	}
	var total float64
	for _, pt := range pool {
		if math.IsNaN(pt.Weight) || math.IsInf(pt.Weight, 0) || pt.Weight < 0 {
			return 0, fmt.Errorf("participant %q has weight %v: %w", pt.ID, pt.Weight, ErrInvalidInput)
		}
		total += pt.Weight
	}
	if total <= 0 {
		return 0, fmt.Errorf("no participant has a positive weight: %w", ErrInvalidInput)
	}
	return total, nil
}

func lastPositive(pool Pool) int {
	for i := len(pool) - 1; i >= 0; i-- {
		if pool[i].Weight > 0 {
			return i
		}
	}
	return len(pool) - 1
}
