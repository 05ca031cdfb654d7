package header

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
)

// ComputeDigest feeds the algorithm indicated by the header's digest tag
// with the 8-byte preamble followed by the firmware body up to the size
// encoded in the preamble (spec.md Section 4.1). imageSlot must be the
// same buffer (or an equal prefix) that was parsed into v.
func ComputeDigest(imageSlot []byte, v *View) []byte {
	preamble := imageSlot[:PreambleSize]
	body := imageSlot[Size : Size+int(v.FirmwareSize())]

	switch v.DigestTag() {
	case TagSHA384:
		h := sha512.New384()
		h.Write(preamble)
		h.Write(body)
		return h.Sum(nil)
	default: // TagSHA256
		h := sha256.New()
		h.Write(preamble)
		h.Write(body)
		return h.Sum(nil)
	}
}

// SigningMessage returns the header-through-signature-tag region with the
// signature value zeroed, per spec.md Section 4.1. External signers (the
// sign CLI subcommand) call this, then Prehash, to compute exactly the
// bytes Authenticate will later check the signature against.
func SigningMessage(v *View) []byte {
	msg := v.Raw()
	off := v.signatureFieldOffset()
	for i := off; i < off+lenSignature; i++ {
		msg[i] = 0
	}
	return msg[:off+lenSignature]
}

// Prehash applies the digest-tag's hash algorithm to msg, the "prehash
// contract" referenced in spec.md Section 4.1.
func Prehash(v *View, msg []byte) []byte {
	if v.DigestTag() == TagSHA384 {
		sum := sha512.Sum384(msg)
		return sum[:]
	}
	sum := sha256.Sum256(msg)
	return sum[:]
}

// Authenticate validates invariants H-6 and H-7 against root (spec.md
// Section 4.1), returning a *AuthFailed wrapping the specific reason on
// failure.
func Authenticate(imageSlot []byte, root *TrustRoot) (bool, error) {
	v, err := Parse(imageSlot)
	if err != nil {
		return false, err
	}

	if !bytes.Equal(ComputeDigest(imageSlot, v), v.DigestValue()) { // H-6
		return false, &AuthFailed{Reason: BadDigest}
	}

	if wantDigest, ok := v.PubkeyDigestValue(); ok {
		got, err := root.PubkeyDigest(len(wantDigest))
		if err != nil || !bytes.Equal(got, wantDigest) {
			return false, &AuthFailed{Reason: BadKey, Err: err}
		}
	}

	algo, _ := v.AuthAlgo()
	sig := v.SignatureValue()
	msg := SigningMessage(v)

	switch algo {
	case AlgoEd25519:
		if root.Algo != AlgoEd25519 {
			return false, &AuthFailed{Reason: BadKey}
		}
		// Ed25519 signs the digest bytes directly (the "prehash" per the
		// algorithm's own contract is internal SHA-512 over the message
		// it is handed); spec.md Section 3 marks this combination
		// reserved because no SHA-512 digest tag is defined, so only the
		// already-validated SHA-256/384 digest value is available to
		// sign over here.
		if !ed25519.Verify(root.Ed25519Key, v.DigestValue(), sig) {
			return false, &AuthFailed{Reason: BadSignature}
		}
		return true, nil

	case AlgoECDSA:
		if root.Algo != AlgoECDSA {
			return false, &AuthFailed{Reason: BadKey}
		}
		if v.DigestTag() == TagSHA384 {
			// A raw P-384 signature is 96 bytes (48-byte r || 48-byte s)
			// but the Signature tag is a fixed 64 bytes (spec.md Section
			// 3); the two constraints are incompatible, so this
			// combination is accepted at parse time but always fails
			// authentication rather than silently truncating a
			// signature.
			return false, &AuthFailed{Reason: BadSignature}
		}
		half := len(sig) / 2
		r := bytesToBigInt(sig[:half])
		s := bytesToBigInt(sig[half:])
		h := Prehash(v, msg)
		if !ecdsa.Verify(root.ECDSAKey, h, r, s) {
			return false, &AuthFailed{Reason: BadSignature}
		}
		return true, nil

	default:
		return false, &AuthFailed{Reason: BadKey}
	}
}
