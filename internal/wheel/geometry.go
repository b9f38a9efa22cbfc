package wheel

import (
	"fmt"
	"math"
	"time"
)

const (
	// PointerOffset is the angle, in degrees, at which the renderer draws the
	// pointer (top of the wheel in canvas coordinates).
	PointerOffset = 270.0
	// SliceMargin is the fraction of a slice's width on each side that a
	// stopping angle never falls into.
	SliceMargin = 0.05
	// MinSliceWidth is the narrowest slice, in degrees, a spin can target.
	// WinnerFromDistance recovers the target of any distance produced by
	// DistanceToWinner as long as the slice is at least this wide.
	MinSliceWidth = 1e-6
)

// Slice is a participant's half-open angular range [Start, End) in degrees.
type Slice struct {
	ID    string  `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Width returns the angular width of the slice.
func (s Slice) Width() float64 {
	return s.End - s.Start
}

// SpinOutcome is an animation instruction that resolves to WinnerID.
//
// Invariant: WinnerFromDistance(RotationDistance, slices) == WinnerID for the
// slices the outcome was computed against.
type SpinOutcome struct {
	WinnerID         string
	RotationDistance float64
	Duration         time.Duration
}

// Slices maps the pool onto [0, 360) with widths proportional to weight.
//
// Postcondition: slices are contiguous in pool order; the last End is 360.
func Slices(pool Pool) ([]Slice, error) {
	bounds, err := Boundaries(pool)
	if err != nil {
		return nil, err
	}
	out := make([]Slice, len(bounds))
	for i, b := range bounds {
		out[i] = Slice{ID: b.ID, Start: b.Low * 360, End: b.High * 360}
	}
	out[len(out)-1].End = 360
	return out, nil
}

// DistanceToWinner returns a rotation distance that stops the wheel inside
// winnerID's slice.
//
// The stopping sub-angle is drawn from src uniformly inside the slice, inset
// by SliceMargin, so the pointer does not always stop at the same place.
// baseRotations full turns are added for visual effect.
//
// Precondition: baseRotations >= 0; the winner's slice is at least MinSliceWidth wide.
// Postcondition: Returns a distance >= baseRotations*360, ErrNotFound for an
// unknown winner, or ErrInvalidInput.
func DistanceToWinner(winnerID string, slices []Slice, baseRotations int, src Source) (float64, error) {
	if baseRotations < 0 {
		return 0, fmt.Errorf("base rotations %d: %w", baseRotations, ErrInvalidInput)
	}
	idx := -1
	for i := range slices {
		if slices[i].ID == winnerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("winner %q: %w", winnerID, ErrNotFound)
	}
	s := slices[idx]
	if s.Width() < MinSliceWidth {
		return 0, fmt.Errorf("winner %q has a %v degree slice: %w", winnerID, s.Width(), ErrInvalidInput)
	}
	u := src.Float64()
	if !(u >= 0 && u < 1) {
		return 0, fmt.Errorf("uniform value %v outside [0, 1): %w", u, ErrInvalidInput)
	}
	sub := s.Start + s.Width()*(SliceMargin+u*(1-2*SliceMargin))
	return float64(baseRotations)*360 + normalizeAngle(PointerOffset-sub), nil
}

// WinnerFromDistance resolves the participant under the pointer after the
// wheel has rotated by distance degrees.
//
// Postcondition: Left inverse of DistanceToWinner for the same slices.
func WinnerFromDistance(distance float64, slices []Slice) (string, error) {
	if len(slices) == 0 {
		return "", fmt.Errorf("no slices: %w", ErrInvalidInput)
	}
	if math.IsNaN(distance) || math.IsInf(distance, 0) || distance < 0 {
		return "", fmt.Errorf("distance %v: %w", distance, ErrInvalidInput)
	}
	angle := normalizeAngle(PointerOffset - distance)
	for _, s := range slices {
		if s.Width() > 0 && angle >= s.Start && angle < s.End {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("angle %v: %w", angle, ErrNotFound)
}

// ReplaySpin deterministically recomputes a spin from a seed: the first value
// of the seeded stream selects the winner, the second positions the pointer.
func ReplaySpin(seed uint64, pool Pool, baseRotations int, duration time.Duration) (SpinOutcome, error) {
	src := NewSeededSource(seed)
	winner, err := Select(pool, src.Float64())
	if err != nil {
		return SpinOutcome{}, err
	}
	slices, err := Slices(pool)
	if err != nil {
		return SpinOutcome{}, err
	}
	distance, err := DistanceToWinner(winner, slices, baseRotations, src)
	if err != nil {
		return SpinOutcome{}, err
	}
	return SpinOutcome{WinnerID: winner, RotationDistance: distance, Duration: duration}, nil
}

// normalizeAngle maps a to [0, 360).
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a = 0
	}
	return a
}
