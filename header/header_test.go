package header_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"rustboot-go/header"
)

func signP256(t *testing.T, priv *ecdsa.PrivateKey, digest []byte) []byte {
	t.Helper()
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	require.NoError(t, err)
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig
}

// buildSignedImage assembles a minimal image slot (header + body) signed
// with a freshly generated P-256 key, returning the full slot and the
// trust root that authenticates it.
func buildSignedImage(t *testing.T, body []byte) ([]byte, *header.TrustRoot) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	root, err := header.NewECDSATrustRoot(elliptic.P256(), priv.X.Bytes(), priv.Y.Bytes())
	require.NoError(t, err)

	preamble := make([]byte, header.PreambleSize)
	copy(preamble[:4], header.Magic)
	binary.LittleEndian.PutUint32(preamble[4:8], uint32(len(body)))

	digestInput := append(append([]byte{}, preamble...), body...)
	digestSum := sha256.Sum256(digestInput)

	pkDigest, err := root.PubkeyDigest(32)
	require.NoError(t, err)

	fields := header.Fields{
		FirmwareSize: uint32(len(body)),
		Version:      7,
		Timestamp:    1710000000,
		Role:         header.RoleApp,
		AuthAlgo:     header.AlgoECDSA,
		DigestTag:    header.TagSHA256,
		Digest:       digestSum[:],
		PubkeyDigest: pkDigest,
	}

	slot := make([]byte, header.Size+len(body))
	copy(slot[header.Size:], body)

	hdrBytes, err := header.Load(fields)
	require.NoError(t, err)
	copy(slot[:header.Size], hdrBytes[:])

	v, err := header.Parse(slot)
	require.NoError(t, err)

	msg := header.SigningMessage(v)
	prehash := header.Prehash(v, msg)
	fields.Signature = signP256(t, priv, prehash)

	hdrBytes, err = header.Load(fields)
	require.NoError(t, err)
	copy(slot[:header.Size], hdrBytes[:])

	return slot, root
}

func TestAuthenticate_ValidImage(t *testing.T) {
	slot, root := buildSignedImage(t, []byte("firmware body bytes go here"))
	ok, err := header.Authenticate(slot, root)
	require.NoError(t, err)
	require.True(t, ok)
}

// TestAuthenticate_BitFlips pins property P-1: every single-bit
// perturbation of the body or the digest tag must flip Authenticate to
// false.
func TestAuthenticate_BitFlips(t *testing.T) {
	body := []byte("firmware body bytes go here, long enough to flip")

	t.Run("body byte flip", func(t *testing.T) {
		slot, root := buildSignedImage(t, body)
		slot[header.Size+3] ^= 0x01
		ok, err := header.Authenticate(slot, root)
		require.Error(t, err)
		require.False(t, ok)
		var af *header.AuthFailed
		require.ErrorAs(t, err, &af)
		require.Equal(t, header.BadDigest, af.Reason)
	})

	t.Run("digest tag byte flip", func(t *testing.T) {
		slot, root := buildSignedImage(t, body)
		v, err := header.Parse(slot)
		require.NoError(t, err)
		digest := v.DigestValue()
		require.NotEmpty(t, digest)
		// locate the digest tag's first byte within the raw header and
		// flip it; it lies somewhere after the preamble.
		raw := v.Raw()
		idx := indexOf(raw[:], digest)
		require.GreaterOrEqual(t, idx, 0)
		slot[idx] ^= 0x01
		ok, err := header.Authenticate(slot, root)
		require.Error(t, err)
		require.False(t, ok)
	})
}

func TestAuthenticate_WrongKeyFails(t *testing.T) {
	slot, _ := buildSignedImage(t, []byte("some firmware"))
	otherPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherRoot, err := header.NewECDSATrustRoot(elliptic.P256(), otherPriv.X.Bytes(), otherPriv.Y.Bytes())
	require.NoError(t, err)

	ok, err := header.Authenticate(slot, otherRoot)
	require.Error(t, err)
	require.False(t, ok)
	var af *header.AuthFailed
	require.ErrorAs(t, err, &af)
	require.Equal(t, header.BadKey, af.Reason)
}

func TestParse_BadMagic(t *testing.T) {
	slot := make([]byte, header.Size+16)
	_, err := header.Parse(slot)
	require.Error(t, err)
	var mh *header.MalformedHeader
	require.ErrorAs(t, err, &mh)
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
