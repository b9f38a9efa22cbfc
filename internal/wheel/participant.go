// Package wheel implements the fair winner-selection engine: weighted
// selection, spin geometry, dropout elimination ordering and the Monte-Carlo
// fairness simulator.
//
// Every function in this package is pure with respect to its inputs. All
// randomness is supplied explicitly through a Source or a uniform value, so
// results are reproducible with a seeded Source or an externally signed value.
package wheel

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned for empty pools, pools without a positive
// weight, and uniform values outside [0, 1).
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound is returned when a participant id is absent from a slice mapping.
var ErrNotFound = errors.New("participant not found")

// Participant is one weighted entrant of a drawing.
type Participant struct {
	ID     string  `json:"id" yaml:"id" toml:"id"`
	Name   string  `json:"name,omitempty" yaml:"name" toml:"name"`
	Weight float64 `json:"weight" yaml:"weight" toml:"weight"`
}

// Pool is an ordered sequence of participants. Functions in this package
// treat a Pool as immutable input.
type Pool []Participant

// Clone returns an independent copy of p.
func (p Pool) Clone() Pool {
	if p == nil {
		return nil
	}
	out := make(Pool, len(p))
	copy(out, p)
	return out
}

// TotalWeight returns the sum of all weights.
func (p Pool) TotalWeight() float64 {
	var total float64
	for _, pt := range p {
		total += pt.Weight
	}
	return total
}

// Index returns the position of id in p, or -1.
func (p Pool) Index(id string) int {
	for i := range p {
		if p[i].ID == id {
			return i
		}
	}
	return -1
}

// Without returns a new pool with the participant id removed.
//
// Postcondition: p is unchanged.
func (p Pool) Without(id string) Pool {
	out := make(Pool, 0, len(p))
	for _, pt := range p {
		if pt.ID != id {
			out = append(out, pt)
		}
	}
	return out
}

// Probability returns the single-draw win probability of id.
//
// Postcondition: Returns ErrNotFound for an unknown id and ErrInvalidInput
// when the pool has no positive weight.
func (p Pool) Probability(id string) (float64, error) {
	total, err := p.validate()
	if err != nil {
		return 0, err
	}
	i := p.Index(id)
	if i < 0 {
		return 0, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return p[i].Weight / total, nil
}

// Validate checks the pool invariants: at least one participant, unique ids,
// finite non-negative weights and a positive total.
func (p Pool) Validate() error {
	_, err := p.validate()
	return err
}

func (p Pool) validate() (float64, error) {
	if len(p) == 0 {
		return 0, fmt.Errorf("empty pool: %w", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(p))
	var total float64
	for _, pt := range p {
		if _, dup := seen[pt.ID]; dup {
			return 0, fmt.Errorf("duplicate participant %q: %w", pt.ID, ErrInvalidInput)
		}
		seen[pt.ID] = struct{}{}
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
