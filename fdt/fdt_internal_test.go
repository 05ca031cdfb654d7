package fdt

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"rustboot-go/header"
)

// fnode/fprop describe a tree used only to build test fixtures; building
// from a tree with ordinary recursion here is fine, it is the Reader
// that must not recurse.
type fnode struct {
	name     string
	props    []fprop
	children []*fnode
}

type fprop struct {
	name  string
	value []byte
}

// buildFDT serializes root into a minimal, well-formed FDT blob.
func buildFDT(t *testing.T, root *fnode) []byte {
	t.Helper()

	strOff := make(map[string]uint32)
	var strings_ []byte
	internString := func(s string) uint32 {
		if off, ok := strOff[s]; ok {
			return off
		}
		off := uint32(len(strings_))
		strings_ = append(strings_, s...)
		strings_ = append(strings_, 0)
		strOff[s] = off
		return off
	}

	var structBuf []byte
	var serialize func(n *fnode)
	serialize = func(n *fnode) {
		structBuf = append(structBuf, encodeBeginNode(n.name)...)
		for _, p := range n.props {
			structBuf = append(structBuf, encodeProperty(internString(p.name), p.value)...)
		}
		for _, c := range n.children {
			serialize(c)
		}
		structBuf = append(structBuf, encodeEndNode()...)
	}
	serialize(root)
	structBuf = append(structBuf, encodeEnd()...)

	const structOff = headerSize
	structSize := alignTo(uint32(len(structBuf)), 4)
	for uint32(len(structBuf)) < structSize {
		structBuf = append(structBuf, 0)
	}
	stringsOff := structOff + structSize
	stringsSize := uint32(len(strings_))
	total := stringsOff + alignTo(stringsSize, 4)
	for uint32(len(strings_)) < alignTo(stringsSize, 4) {
		strings_ = append(strings_, 0)
	}

	out := make([]byte, total)
	putBE32(out[0:4], Magic)
	putBE32(out[4:8], total)
	putBE32(out[8:12], structOff)
	putBE32(out[12:16], stringsOff)
	putBE32(out[16:20], 0) // no memory reservations
	putBE32(out[20:24], supportedVersion)
	putBE32(out[24:28], supportedLastComp)
	putBE32(out[28:32], 0)
	putBE32(out[32:36], stringsSize)
	putBE32(out[36:40], uint32(len(structBuf)))
	copy(out[structOff:], structBuf)
	copy(out[stringsOff:], strings_)
	return out
}

func encodeEnd() []byte {
	out := make([]byte, 4)
	putBE32(out, TokenEnd)
	return out
}

func sampleTree() *fnode {
	return &fnode{
		name: "",
		children: []*fnode{
			{
				name: "chosen",
				props: []fprop{
					{"bootargs", append([]byte("console=ttyS0"), 0)},
				},
			},
			{
				name: "images",
				children: []*fnode{
					{name: "kernel-1", props: []fprop{{"data", []byte("KERNELDATA")}}},
					{name: "fdt-1", props: []fprop{{"data", []byte("FDTDATA")}}},
					{name: "ramdisk-1", props: []fprop{{"data", []byte("RAMDISKDATA")}}},
				},
			},
		},
	}
}

func TestReader_RoundTripsUnpatchedBlob(t *testing.T) {
	blob := buildFDT(t, sampleTree())
	r, err := NewReader(blob)
	require.NoError(t, err)

	val, err := r.Lookup("/chosen/bootargs")
	require.NoError(t, err)
	require.Equal(t, "console=ttyS0", trimNul(val))

	val, err = r.Lookup("/images/kernel-1/data")
	require.NoError(t, err)
	require.Equal(t, "KERNELDATA", string(val))
}

func TestReader_BadMagic(t *testing.T) {
	blob := make([]byte, 64)
	_, err := NewReader(blob)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestFindNodeBounds_NestedNode(t *testing.T) {
	blob := buildFDT(t, sampleTree())
	r, err := NewReader(blob)
	require.NoError(t, err)
	bounds, err := r.FindNodeBounds("/images/kernel-1")
	require.NoError(t, err)
	require.Less(t, bounds.Start, bounds.End)
}

// buildSignedITB constructs a minimal ITB with a signed configuration
// over kernel/fdt/ramdisk sub-images, mirroring the pinned canonical-hash
// rule in fit.go.
func buildSignedITB(t *testing.T, priv *ecdsa.PrivateKey, version uint32) []byte {
	t.Helper()

	configNode := &fnode{
		name: "conf-1",
		props: []fprop{
			{"kernel", append([]byte("kernel-1"), 0)},
			{"fdt", append([]byte("fdt-1"), 0)},
			{"ramdisk", append([]byte("ramdisk-1"), 0)},
			{"version", beBytes(version)},
		},
		children: []*fnode{
			{
				name: "signature",
				props: []fprop{
					{"algo", append([]byte("sha256,ecdsa256"), 0)},
					{"sign-images", joinNul("kernel", "fdt", "ramdisk")},
					{"value", make([]byte, 64)}, // filled in below
				},
			},
		},
	}

	root := &fnode{
		name: "",
		children: []*fnode{
			{
				name: "images",
				children: []*fnode{
					{name: "kernel-1", props: []fprop{{"data", []byte("KERNELDATA")}}},
					{name: "fdt-1", props: []fprop{{"data", []byte("FDTDATA")}}},
					{name: "ramdisk-1", props: []fprop{{"data", []byte("RAMDISKDATA")}}},
				},
			},
			{
				name:     "configurations",
				children: []*fnode{configNode},
			},
		},
	}

	blob := buildFDT(t, root)
	r, err := NewReader(blob)
	require.NoError(t, err)

	bounds, err := r.FindNodeBounds("/configurations/conf-1")
	require.NoError(t, err)
	v := NewFitVerifier(r)
	cfg := &signedConfig{images: make(map[string]string)}
	require.NoError(t, v.collect(bounds, cfg))
	hashInput, err := v.gatherSignedData(cfg)
	require.NoError(t, err)
	digest := sha256.Sum256(hashInput)

	rr, ss, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	sig := make([]byte, 64)
	rr.FillBytes(sig[:32])
	ss.FillBytes(sig[32:])

	// Rebuild with the real signature value in place.
	configNode.children[0].props[2] = fprop{"value", sig}
	return buildFDT(t, root)
}

func TestFitVerifier_ValidSignature(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	root, err := header.NewECDSATrustRoot(elliptic.P256(), priv.X.Bytes(), priv.Y.Bytes())
	require.NoError(t, err)

	blob := buildSignedITB(t, priv, 3)
	r, err := NewReader(blob)
	require.NoError(t, err)

	v := NewFitVerifier(r)
	require.NoError(t, v.Verify("conf-1", root, 1))
}

func TestFitVerifier_RejectsDowngrade(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	root, err := header.NewECDSATrustRoot(elliptic.P256(), priv.X.Bytes(), priv.Y.Bytes())
	require.NoError(t, err)

	blob := buildSignedITB(t, priv, 3)
	r, err := NewReader(blob)
	require.NoError(t, err)

	v := NewFitVerifier(r)
	err = v.Verify("conf-1", root, 5)
	require.ErrorIs(t, err, ErrFitDowngrade)
}

func TestFitVerifier_RejectsTamperedImage(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	root, err := header.NewECDSATrustRoot(elliptic.P256(), priv.X.Bytes(), priv.Y.Bytes())
	require.NoError(t, err)

	blob := buildSignedITB(t, priv, 3)
	// Flip a byte inside the kernel sub-image's data property.
	idx := bytes.Index(blob, []byte("KERNELDATA"))
	require.GreaterOrEqual(t, idx, 0)
	blob[idx] ^= 0x01

	r, err := NewReader(blob)
	require.NoError(t, err)
	v := NewFitVerifier(r)
	err = v.Verify("conf-1", root, 1)
	require.ErrorIs(t, err, ErrFitBadSignature)
}

// TestPatch_RewritesChosenOnly pins property P-5: after Patch rewrites
// /chosen, every other node's data is unaffected and /chosen reads back
// exactly the installed properties.
func TestPatch_RewritesChosenOnly(t *testing.T) {
	blob := buildFDT(t, sampleTree())
	r, err := NewReader(blob)
	require.NoError(t, err)

	props := []ChosenProp{
		{Name: "bootargs", Value: append([]byte("root=UUID=deadbeef ro"), 0)},
		{Name: "linux,initrd-start", Value: beBytes(0x00058900)},
		{Name: "linux,initrd-end", Value: beBytes(0x084a7f07)},
	}
	patched, err := Patch(r, props)
	require.NoError(t, err)

	pr, err := NewReader(patched)
	require.NoError(t, err)

	bootargs, err := pr.Lookup("/chosen/bootargs")
	require.NoError(t, err)
	require.Equal(t, "root=UUID=deadbeef ro", trimNul(bootargs))

	start, err := pr.Lookup("/chosen/linux,initrd-start")
	require.NoError(t, err)
	require.Equal(t, uint32(0x00058900), beUint32(start))

	kernelData, err := pr.Lookup("/images/kernel-1/data")
	require.NoError(t, err)
	require.Equal(t, "KERNELDATA", string(kernelData))

	require.Equal(t, pr.TotalSize(), uint32(len(patched)))
}

func beBytes(v uint32) []byte {
	b := make([]byte, 4)
	putBE32(b, v)
	return b
}

func joinNul(parts ...string) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
		out = append(out, 0)
	}
	return out
}
