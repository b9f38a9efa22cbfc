package ticket

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	ecvrf "github.com/vechain/go-ecvrf"
	"go.uber.org/zap"

	"github.com/cory-johannsen/fortune/internal/wheel"
)

// DefaultReplayCacheSize is the number of accepted ticket ids remembered.
const DefaultReplayCacheSize = 4096

// Verified is a ticket whose proof checked out.
type Verified struct {
	Ticket
	// Beta is the VRF output the value was derived from.
	Beta []byte
}

// Verifier checks tickets against an issuer public key and rejects ids it
// has already accepted.
type Verifier struct {
	pub    *ecdsa.PublicKey
	vrf    ecvrf.VRF
	logger *zap.Logger

	// mu serialises the contains/add pair so two concurrent presentations of
	// the same ticket cannot both pass.
	mu   sync.Mutex
	seen *lru.ARCCache
}

// NewVerifier creates a Verifier for pub remembering cacheSize accepted ids.
//
// Precondition: pub must be a secp256k1 key; logger must be non-nil.
// Postcondition: cacheSize <= 0 selects DefaultReplayCacheSize.
func NewVerifier(pub *ecdsa.PublicKey, cacheSize int, logger *zap.Logger) (*Verifier, error) {
	if pub == nil {
		return nil, fmt.Errorf("nil public key: %w", ErrInvalidKey)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultReplayCacheSize
	}
	seen, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating replay cache: %w", err)
	}
	return &Verifier{
		pub:    pub,
		vrf:    ecvrf.NewSecp256k1Sha256Tai(),
		logger: logger,
		seen:   seen,
	}, nil
}

// Check verifies t's proof and value without consuming it.
func (v *Verifier) Check(t Ticket) (Verified, error) {
	beta, err := v.vrf.Verify(v.pub, t.Alpha(), t.Proof)
	if err != nil {
		return Verified{}, fmt.Errorf("ticket %s: %v: %w", t.ID, err, ErrInvalidProof)
	}
	if want := wheel.Uniform53(beta); want != t.Value {
		return Verified{}, fmt.Errorf("ticket %s: value %v, proof yields %v: %w", t.ID, t.Value, want, ErrValueMismatch)
	}
	return Verified{Ticket: t, Beta: beta}, nil
}

// Verify checks t and marks its id as used.
//
// Postcondition: Returns ErrInvalidProof, ErrValueMismatch or ErrReplayed on
// rejection; a rejected ticket is never marked used.
func (v *Verifier) Verify(t Ticket) (Verified, error) {
	vt, err := v.Check(t)
	if err != nil {
		v.logger.Warn("ticket rejected", zap.String("ticket_id", t.ID), zap.Error(err))
		return Verified{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seen.Contains(t.ID) {
		v.logger.Warn("ticket replayed", zap.String("ticket_id", t.ID))
		return Verified{}, fmt.Errorf("ticket %s: %w", t.ID, ErrReplayed)
	}
	v.seen.Add(t.ID, t.IssuedAt)
	v.logger.Debug("ticket accepted", zap.String("ticket_id", t.ID), zap.Float64("value", t.Value))
	return vt, nil
}
