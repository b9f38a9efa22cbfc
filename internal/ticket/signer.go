package ticket

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/google/uuid"
	ecvrf "github.com/vechain/go-ecvrf"
	"go.uber.org/zap"

	"github.com/cory-johannsen/fortune/internal/wheel"
)

// Signer issues tickets with a private key.
type Signer struct {
	key    *ecdsa.PrivateKey
	vrf    ecvrf.VRF
	logger *zap.Logger
	now    func() time.Time
}

// NewSigner creates a Signer for key.
//
// Precondition: key must be a secp256k1 key and logger must be non-nil.
func NewSigner(key *ecdsa.PrivateKey, logger *zap.Logger) *Signer {
	return &Signer{
		key:    key,
		vrf:    ecvrf.NewSecp256k1Sha256Tai(),
		logger: logger,
		now:    time.Now,
	}
}

// PublicKey returns the key verifiers need.
func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// Issue proves a fresh ticket bound to context.
//
// Postcondition: The ticket value is the top 53 bits of the VRF output
// scaled into [0, 1).
func (s *Signer) Issue(context string) (Ticket, error) {
	t := Ticket{
		ID:       uuid.NewString(),
		Context:  context,
		IssuedAt: s.now().UTC(),
	}
	beta, pi, err := s.vrf.Prove(s.key, t.Alpha())
	if err != nil {
		return Ticket{}, fmt.Errorf("proving ticket %s: %w", t.ID, err)
	}
	t.Value = wheel.Uniform53(beta)
	t.Proof = pi
	s.logger.Info("ticket issued",
		zap.String("ticket_id", t.ID),
		zap.String("context", context),
		zap.Float64("value", t.Value),
	)
	return t, nil
}
