package header

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math/big"
)

func bytesToBigInt(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// TrustRoot is the compiled-in verifying key and algorithm pinning
// (spec.md Section 9: "the verifying key is embedded at build time").
// Key rotation and storage policy are out of scope (spec.md Section 1).
type TrustRoot struct {
	Algo      uint8 // AlgoEd25519 or AlgoECDSA
	ECDSAKey  *ecdsa.PublicKey
	Ed25519Key ed25519.PublicKey
}

// NewECDSATrustRoot builds a trust root for ECDSA over the given curve.
// Only P-256 and P-384 are accepted (spec.md Section 4.1).
func NewECDSATrustRoot(curve elliptic.Curve, x, y []byte) (*TrustRoot, error) {
	switch curve.Params().Name {
	case "P-256", "P-384":
	default:
		return nil, fmt.Errorf("header: unsupported curve %s", curve.Params().Name)
	}
	pub :=&ecdsa.PublicKey{Curve: curve, X: bytesToBigInt(x), Y: bytesToBigInt(y)}
	if !curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("header: public key is not on curve %s", curve.Params().Name)
	}
	return &TrustRoot{Algo: AlgoECDSA, ECDSAKey: pub}, nil
}

// NewEd25519TrustRoot builds a trust root for Ed25519.
func NewEd25519TrustRoot(pub ed25519.PublicKey) (*TrustRoot, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("header: ed25519 public key must be %d bytes", ed25519.PublicKeySize)
	}
	return &TrustRoot{Algo: AlgoEd25519, Ed25519Key: pub}, nil
}

// PublicKeyBytes returns the raw encoding hashed into the PubkeyDigest
// tag: SEC1 uncompressed point for ECDSA, raw 32 bytes for Ed25519.
func (t *TrustRoot) PublicKeyBytes() []byte {
	if t.Algo == AlgoEd25519 {
		return t.Ed25519Key
	}
	return elliptic.Marshal(t.ECDSAKey.Curve, t.ECDSAKey.X, t.ECDSAKey.Y)
}

// PubkeyDigest hashes PublicKeyBytes with the given length convention
// (32 bytes -> SHA-256, 48 bytes -> SHA-384), matching the PubkeyDigest
// tag's two permitted lengths (spec.md Section 3).
func (t *TrustRoot) PubkeyDigest(wantLen int) ([]byte, error) {
	switch wantLen {
	case lenPubkeySha256:
		sum := sha256.Sum256(t.PublicKeyBytes())
		return sum[:], nil
	case lenPubkeySha384:
		sum := sha512.Sum384(t.PublicKeyBytes())
		return sum[:], nil
	default:
		return nil, fmt.Errorf("header: unsupported PubkeyDigest length %d", wantLen)
	}
}
