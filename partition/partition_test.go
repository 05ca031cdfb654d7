package partition_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rustboot-go/header"
	"rustboot-go/internal/flashsim"
	"rustboot-go/partition"
)

const (
	testSectorSize = 128
	testSectors    = 4 // data sectors per BOOT/UPDATE
)

// newTestTable builds a Table over a freshly erased flashsim.Device sized
// for BOOT, UPDATE and SWAP with testSectors data sectors each.
func newTestTable(t *testing.T) (*partition.Table, *header.TrustRoot, *ecdsa.PrivateKey) {
	t.Helper()

	partSize := uint32(testSectors+1) * testSectorSize // +1 for the dedicated trailer sector
	boot := partition.Geometry{Role: partition.Boot, BaseAddr: 0, Size: partSize, SectorSize: testSectorSize}
	update := partition.Geometry{Role: partition.Update, BaseAddr: partSize, Size: partSize, SectorSize: testSectorSize}
	swap := partition.Geometry{Role: partition.Swap, BaseAddr: 2 * partSize, Size: testSectorSize + 1, SectorSize: testSectorSize}

	devPath := filepath.Join(t.TempDir(), "flash.bin")
	dev, err := flashsim.Create(devPath, int64(swap.BaseAddr+swap.Size))
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	tbl, err := partition.New(dev, boot, update, swap)
	require.NoError(t, err)

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	root, err := header.NewECDSATrustRoot(elliptic.P256(), priv.X.Bytes(), priv.Y.Bytes())
	require.NoError(t, err)

	return tbl, root, priv
}

// buildImage signs a body at the given version, sized to fit within
// FirmwareCapacity for testSectors sectors.
func buildImage(t *testing.T, priv *ecdsa.PrivateKey, root *header.TrustRoot, version uint32, body []byte) []byte {
	t.Helper()

	preamble := make([]byte, header.PreambleSize)
	copy(preamble[:4], header.Magic)
	binary.LittleEndian.PutUint32(preamble[4:8], uint32(len(body)))
	digestInput := append(append([]byte{}, preamble...), body...)
	digestSum := sha256.Sum256(digestInput)

	pkDigest, err := root.PubkeyDigest(32)
	require.NoError(t, err)

	fields := header.Fields{
		FirmwareSize: uint32(len(body)),
		Version:      version,
		Timestamp:    1700000000,
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

	r, s, err := ecdsa.Sign(rand.Reader, priv, prehash)
	require.NoError(t, err)
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	fields.Signature = sig

	hdrBytes, err = header.Load(fields)
	require.NoError(t, err)
	copy(slot[:header.Size], hdrBytes[:])
	return slot
}
