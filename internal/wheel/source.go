package wheel

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// Source supplies uniform random values.
//
// Implementations MUST return values in [0, 1) and MUST be safe for concurrent use.
type Source interface {
	Float64() float64
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() float64

// Float64 calls f.
func (f SourceFunc) Float64() float64 { return f() }

// cryptoSource implements Source using crypto/rand.
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Float64 is in [0, 1) with 53 bits of precision.
func NewCryptoSource() Source {
	return cryptoSource{}
}

// Float64 returns a cryptographically secure value in [0, 1).
//
// Panics with "wheel: crypto/rand failure: <err>" if crypto/rand fails.
func (cryptoSource) Float64() float64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		panic("wheel: crypto/rand failure: " + err.Error())
	}
	return Uniform53(buf[:])
}

// Uniform53 maps the leading 8 bytes of b to [0, 1) using the top 53 bits.
//
// Precondition: len(b) >= 8.
func Uniform53(b []byte) float64 {
	u := binary.BigEndian.Uint64(b[:8]) >> 11
	return float64(u) / (1 << 53)
}

// seededSource is a reproducible Source for replays and simulations.
type seededSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeededSource returns a deterministic Source; equal seeds yield equal sequences.
func NewSeededSource(seed uint64) Source {
	return &seededSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *seededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}
