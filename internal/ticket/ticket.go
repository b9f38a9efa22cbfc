// Package ticket issues and verifies signed random values ("tickets") that
// stand in for local randomness when a drawing must be independently
// auditable. A ticket is an ECVRF (secp256k1, SHA-256, try-and-increment)
// proof over an input derived from the ticket id and its context; anyone with
// the issuer's public key can recompute the value and check the proof.
package ticket

import (
	"errors"
	"time"

	"golang.org/x/crypto/sha3"
)

var (
	// ErrInvalidProof is returned when a ticket's proof does not verify.
	ErrInvalidProof = errors.New("ticket proof invalid")
	// ErrValueMismatch is returned when a ticket's value does not match its proof.
	ErrValueMismatch = errors.New("ticket value does not match proof")
	// ErrReplayed is returned when a ticket id was already accepted.
	ErrReplayed = errors.New("ticket already used")
	// ErrExhausted is returned when a ticket source has no values left.
	ErrExhausted = errors.New("ticket source exhausted")
	// ErrInvalidKey is returned for malformed key material.
	ErrInvalidKey = errors.New("invalid ticket key")
)

// Ticket is a signed random value in [0, 1).
type Ticket struct {
	ID       string    `json:"id"`
	Context  string    `json:"context,omitempty"`
	Value    float64   `json:"value"`
	Proof    []byte    `json:"proof"`
	IssuedAt time.Time `json:"issued_at"`
}

// Alpha returns the VRF input for t: Keccak-256 over the id and context.
func (t Ticket) Alpha() []byte {
	return alpha(t.ID, t.Context)
}

func alpha(id, context string) []byte {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(id))
	hasher.Write([]byte{0})
	hasher.Write([]byte(context))
	return hasher.Sum(nil)
}
