package wheel

import "fmt"

// Report is one participant's result of a fairness simulation.
type Report struct {
	ID                 string  `json:"id"`
	Weight             float64 `json:"weight"`
	WinsCount          int     `json:"wins_count"`
	EmpiricalWinRate   float64 `json:"empirical_win_rate"`
	TheoreticalWinRate float64 `json:"theoretical_win_rate"`
	// RelativeDifference is EmpiricalWinRate - TheoreticalWinRate.
	RelativeDifference float64 `json:"relative_difference"`
}

// ResearchDifference runs iterations independent dropout drawings over pool
// and compares each participant's empirical overall-win rate against its
// single-draw probability.
//
// Cost is O(iterations * n^2) for a pool of n participants: every round of
// every trial rebuilds the cumulative weights of the survivors. The working
// buffers are reused across trials.
//
// A pool whose weights are all zero is simulated with equal weights, matching
// BuildEliminationQueue, and its theoretical rate is 1/n.
//
// Precondition: iterations > 0; pool satisfies BuildEliminationQueue's preconditions.
// Postcondition: Returns one Report per participant in pool order. Any trial
// failure aborts the whole run.
func ResearchDifference(pool Pool, iterations int, src Source) ([]Report, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("iterations %d: %w", iterations, ErrInvalidInput)
	}
	if err := validateDropout(pool); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(pool))
	for i, pt := range pool {
		index[pt.ID] = i
	}
	wins := make([]int, len(pool))

	var seq sequencer
	for trial := 0; trial < iterations; trial++ {
		order, err := seq.run(pool, src)
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", trial+1, err)
		}
		wins[index[order[len(order)-1]]]++
	}

	total := pool.TotalWeight()
	reports := make([]Report, len(pool))
	for i, pt := range pool {
		theoretical := 1 / float64(len(pool))
		if total > 0 {
			theoretical = pt.Weight / total
		}
		empirical := float64(wins[i]) / float64(iterations)
		reports[i] = Report{
			ID:                 pt.ID,
			Weight:             pt.Weight,
			WinsCount:          wins[i],
			EmpiricalWinRate:   empirical,
			TheoreticalWinRate: theoretical,
			RelativeDifference: empirical - theoretical,
		}
	}
	return reports, nil
}

// MaxAbsDifference returns the largest |RelativeDifference| among reports.
func MaxAbsDifference(reports []Report) float64 {
	var worst float64
	for _, r := range reports {
		d := r.RelativeDifference
		if d < 0 {
			d = -d
		}
		if d > worst {
			worst = d
		}
	}
	return worst
}
