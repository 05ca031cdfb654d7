package fdt

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"rustboot-go/header"
)

// FitVerifier checks an ITB's configuration signature (spec.md Section
// 4.6). The canonicalization it hashes is pinned exactly (no ambiguity
// left to the implementation, per spec.md Section 9's open question):
//
//  1. each role (kernel, fdt, ramdisk, rbconfig) in the signature node's
//     NUL-separated sign-images list, in listed order, is resolved through
//     the configuration's property of that name to an image node, whose
//     /images/<name>/data property bytes it contributes;
//  2. then the configuration node's own structure-block span contributes,
//     token by token in original order, with NOP tokens dropped and the
//     signature node's "value" property excised entirely (name, length
//     and bytes, not merely zeroed).
type FitVerifier struct {
	r *Reader
}

// NewFitVerifier wraps an already-parsed FDT reader.
func NewFitVerifier(r *Reader) *FitVerifier { return &FitVerifier{r: r} }

// Errors surfaced by Verify (spec.md Section 7).
var (
	ErrConfigNotFound     = errors.New("fdt: configuration not found")
	ErrSignatureNotFound  = errors.New("fdt: configuration has no signature node")
	ErrUnsupportedFitAlgo = errors.New("fdt: unsupported signature algorithm")
	ErrFitBadSignature    = errors.New("fdt: signature does not verify")
	ErrFitDowngrade       = errors.New("fdt: configuration version is older than the required minimum")
)

type signedConfig struct {
	images     map[string]string // role -> /images/<name>
	version    uint32
	hasVersion bool
	algo       string
	sigValue   []byte
	signImages []string
	canon      []byte
}

// Verify validates configuration name (e.g. "conf-1") against root and
// requires its declared version to be >= minVersion. An empty name
// selects the configuration named by /configurations' "default" property.
func (v *FitVerifier) Verify(name string, root *header.TrustRoot, minVersion uint32) error {
	if name == "" {
		def, err := v.r.Lookup("/configurations/default")
		if err != nil {
			return fmt.Errorf("%w: no default configuration", ErrConfigNotFound)
		}
		name = trimNul(def)
	}
	bounds, err := v.r.FindNodeBounds("/configurations/" + name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConfigNotFound, name)
	}

	cfg := &signedConfig{images: make(map[string]string)}
	if err := v.collect(bounds, cfg); err != nil {
		return err
	}
	if cfg.sigValue == nil {
		return fmt.Errorf("%w: %s", ErrSignatureNotFound, name)
	}
	if cfg.hasVersion && cfg.version < minVersion {
		return fmt.Errorf("%w: config version %d < required %d", ErrFitDowngrade, cfg.version, minVersion)
	}

	hashInput, err := v.gatherSignedData(cfg)
	if err != nil {
		return err
	}

	digest, err := hashFor(cfg.algo, hashInput)
	if err != nil {
		return err
	}

	return verifySignature(cfg.algo, root, digest, cfg.sigValue)
}

// collect walks the configuration node once, gathering both its
// canonical-hash bytes and its metadata (image references, signature
// node contents) by tracked depth rather than nested lookups.
func (v *FitVerifier) collect(bounds NodeBounds, cfg *signedConfig) error {
	return v.r.WalkRange(bounds.Start, bounds.End, func(depth int, ev Event) error {
		switch ev.Kind {
		case EvBeginNode:
			cfg.canon = append(cfg.canon, encodeBeginNode(ev.Name)...)
		case EvEndNode:
			cfg.canon = append(cfg.canon, encodeEndNode()...)
		case EvProperty:
			if ev.Name == "value" {
				// The signature value itself: captured for verification,
				// but excised entirely from the canonical hash input.
				cfg.sigValue = append([]byte{}, ev.Value...)
				return nil
			}
			cfg.canon = append(cfg.canon, encodeProperty(ev.NameOff, ev.Value)...)
			switch depth {
			case 1:
				switch ev.Name {
				case "kernel", "fdt", "ramdisk", "rbconfig":
					cfg.images[ev.Name] = trimNul(ev.Value)
				case "version":
					cfg.version = beUint32(ev.Value)
					cfg.hasVersion = true
				}
			case 2:
				switch ev.Name {
				case "algo":
					cfg.algo = trimNul(ev.Value)
				case "sign-images":
					cfg.signImages = splitNulList(ev.Value)
				}
			}
		}
		return nil
	})
}

func (v *FitVerifier) gatherSignedData(cfg *signedConfig) ([]byte, error) {
	var buf bytes.Buffer
	for _, role := range cfg.signImages {
		imgName, ok := cfg.images[role]
		if !ok {
			return nil, fmt.Errorf("fdt: sign-images references undeclared role %q", role)
		}
		data, err := v.r.Lookup("/images/" + imgName + "/data")
		if err != nil {
			return nil, fmt.Errorf("fdt: sub-image %q: %w", imgName, err)
		}
		buf.Write(data)
	}
	buf.Write(cfg.canon)
	return buf.Bytes(), nil
}

func hashFor(algo string, data []byte) ([]byte, error) {
	switch {
	case strings.HasPrefix(algo, "sha384"):
		sum := sha512.Sum384(data)
		return sum[:], nil
	case strings.HasPrefix(algo, "sha256"):
		sum := sha256.Sum256(data)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFitAlgo, algo)
	}
}

func verifySignature(algo string, root *header.TrustRoot, digest, sig []byte) error {
	if root.Algo != header.AlgoECDSA || root.ECDSAKey == nil {
		return fmt.Errorf("%w: trust root is not ECDSA", ErrUnsupportedFitAlgo)
	}
	half := len(sig) / 2
	if half == 0 {
		return ErrFitBadSignature
	}
	r := new(big.Int).SetBytes(sig[:half])
	s := new(big.Int).SetBytes(sig[half:])
	if !ecdsa.Verify(root.ECDSAKey, digest, r, s) {
		return ErrFitBadSignature
	}
	return nil
}

func trimNul(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func splitNulList(b []byte) []string {
	parts := bytes.Split(b, []byte{0})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) > 0 {
			out = append(out, string(p))
		}
	}
	return out
}

func beUint32(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

func encodeBeginNode(name string) []byte {
	out := make([]byte, 4)
	putBE32(out, TokenBeginNode)
	out = append(out, name...)
	out = append(out, 0)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

func encodeEndNode() []byte {
	out := make([]byte, 4)
	putBE32(out, TokenEndNode)
	return out
}

func encodeProperty(nameOff uint32, value []byte) []byte {
	out := make([]byte, 4)
	putBE32(out, TokenProperty)
	lenBuf := make([]byte, 4)
	putBE32(lenBuf, uint32(len(value)))
	offBuf := make([]byte, 4)
	putBE32(offBuf, nameOff)
	out = append(out, lenBuf...)
	out = append(out, offBuf...)
	out = append(out, value...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
