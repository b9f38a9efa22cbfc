package ticket

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
)

// GenerateKey creates a new secp256k1 issuer key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	k, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("generating ticket key: %w", err)
	}
	return k.ToECDSA(), nil
}

// PrivateKeyFromHex parses a 32 byte hex encoded secp256k1 scalar.
func PrivateKeyFromHex(s string) (*ecdsa.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 hex encoded bytes: %w", ErrInvalidKey)
	}
	k, _ := btcec.PrivKeyFromBytes(btcec.S256(), b)
	return k.ToECDSA(), nil
}

// PublicKeyFromHex parses a compressed or uncompressed hex encoded public key.
func PublicKeyFromHex(s string) (*ecdsa.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", ErrInvalidKey)
	}
	pub, err := btcec.ParsePubKey(b, btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %v: %w", err, ErrInvalidKey)
	}
	return pub.ToECDSA(), nil
}

// PublicKeyHex returns the compressed hex encoding of pub.
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString((*btcec.PublicKey)(pub).SerializeCompressed())
}

// PrivateKeyHex returns the hex encoding of k's scalar.
func PrivateKeyHex(k *ecdsa.PrivateKey) string {
	return hex.EncodeToString((*btcec.PrivateKey)(k).Serialize())
}
