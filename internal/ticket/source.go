package ticket

import (
	"encoding/binary"
	"math"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/cory-johannsen/fortune/internal/wheel"
)

// Source replays verified ticket values, one per draw.
//
// Once exhausted, Float64 returns NaN, which every wheel operation rejects
// with ErrInvalidInput; Exhausted reports whether that happened.
type Source struct {
	mu        sync.Mutex
	values    []float64
	next      int
	exhausted bool
}

var _ wheel.Source = (*Source)(nil)

// NewSource returns a Source yielding the values of tickets in order.
func NewSource(tickets ...Verified) *Source {
	values := make([]float64, len(tickets))
	for i, t := range tickets {
		values[i] = t.Value
	}
	return &Source{values: values}
}

// Float64 returns the next ticket value.
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.values) {
		s.exhausted = true
		return math.NaN()
	}
	v := s.values[s.next]
	s.next++
	return v
}

// Remaining returns the number of unused values.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values) - s.next
}

// Exhausted reports whether a draw was attempted past the last value.
func (s *Source) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

// DerivedSource expands one verified ticket into an unbounded stream. The
// first value is the ticket's own value, so a dropout winner drawn from this
// stream equals the classic winner for the same ticket; value i > 0 is the
// top 53 bits of Keccak-256(beta || i).
type DerivedSource struct {
	mu    sync.Mutex
	first float64
	beta  []byte
	n     uint64
}

var _ wheel.Source = (*DerivedSource)(nil)

// NewDerivedSource creates a DerivedSource from t.
func NewDerivedSource(t Verified) *DerivedSource {
	return &DerivedSource{first: t.Value, beta: append([]byte(nil), t.Beta...)}
}

// Float64 returns the next derived value.
func (d *DerivedSource) Float64() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.n
	d.n++
	if i == 0 {
		return d.first
	}
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], i)
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(d.beta)
	hasher.Write(ctr[:])
	return wheel.Uniform53(hasher.Sum(nil))
}

// Drawn returns how many values have been consumed.
func (d *DerivedSource) Drawn() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}
