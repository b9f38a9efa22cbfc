package wheel

import "fmt"

// EliminationQueue is the reveal order of a dropout drawing: the first id is
// eliminated first and the last id is the overall winner.
type EliminationQueue []string

// Winner returns the final survivor, or "" for an empty queue.
func (q EliminationQueue) Winner() string {
	if len(q) == 0 {
		return ""
	}
	return q[len(q)-1]
}

// BuildEliminationQueue computes the full elimination order of a dropout
// drawing over pool.
//
// Each round draws one value from src and selects against the surviving
// participants with Select, so a survivor's chance of being drawn in a round
// is proportional to its weight among survivors. Whenever every survivor has
// zero weight they are treated as equally weighted. The draw order is then
// reversed: the first participant drawn against the full pool is revealed last
// as the winner, which gives it exactly its single-draw probability.
//
// Precondition: pool is non-empty with unique ids and non-negative weights.
// Postcondition: Returns a permutation of the pool's ids; pool is unchanged.
func BuildEliminationQueue(pool Pool, src Source) (EliminationQueue, error) {
	if err := validateDropout(pool); err != nil {
		return nil, err
	}
	var seq sequencer
	order, err := seq.run(pool, src)
	if err != nil {
		return nil, err
	}
	out := make(EliminationQueue, len(order))
	copy(out, order)
	return out, nil
}

// validateDropout accepts all-zero pools, which Pool.Validate rejects.
func validateDropout(pool Pool) error {
	if len(pool) == 0 {
		return fmt.Errorf("empty pool: %w", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(pool))
	for _, pt := range pool {
		if _, dup := seen[pt.ID]; dup {
			return fmt.Errorf("duplicate participant %q: %w", pt.ID, ErrInvalidInput)
		}
		seen[pt.ID] = struct{}{}
		if !(pt.Weight >= 0) || pt.Weight > maxWeight {
			return fmt.Errorf("participant %q has weight %v: %w", pt.ID, pt.Weight, ErrInvalidInput)
		}
	}
	return nil
}

// maxWeight rejects +Inf while keeping the comparison NaN-safe.
const maxWeight = 1.7976931348623157e308

// sequencer holds the working buffers of one dropout drawing so repeated
// drawings (the fairness simulator) do not allocate per trial.
type sequencer struct {
	work   Pool
	order  []string
	prefix []float64
}

// run fills s.order with the reveal order for pool. The returned slice aliases
// the sequencer's buffer and is valid until the next call.
func (s *sequencer) run(pool Pool, src Source) ([]string, error) {
	s.work = append(s.work[:0], pool...)
	s.order = s.order[:0]

	for len(s.work) > 0 {
		uniform := src.Float64()
		idx, err := s.draw(uniform)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", len(s.order)+1, err)
		}
		s.order = append(s.order, s.work[idx].ID)
		s.work = append(s.work[:idx], s.work[idx+1:]...)
	}

	// The accumulator holds draw order, full pool first. Reverse it so the
	// final winner is the last id revealed.
	for i, j := 0, len(s.order)-1; i < j; i, j = i+1, j-1 {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	}
	return s.order, nil
}

func (s *sequencer) draw(uniform float64) (int, error) {
	if s.work.TotalWeight() > 0 {
		return selectIndex(s.work, uniform, &s.prefix)
	}
	// Every survivor has zero weight: uniform order.
	if !(uniform >= 0 && uniform < 1) {
		return 0, fmt.Errorf("uniform value %v outside [0, 1): %w", uniform, ErrInvalidInput)
	}
	idx := int(uniform * float64(len(s.work)))
	if idx >= len(s.work) {
		idx = len(s.work) - 1
	}
	return idx, nil
}
