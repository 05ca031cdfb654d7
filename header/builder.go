package header

import (
	"encoding/binary"
	"fmt"
)

// Fields is the host-tooling representation of a header's tag values —
// the signer's input and the inspect-header command's output. It mirrors
// the teacher's DumpHdrFile/LoadHdrFile round trip (bootimg.go's
// DynImgHdrInterface), generalized from Android boot headers to rustBoot
// TLV headers per SPEC_FULL.md Section 4.1.
type Fields struct {
	FirmwareSize uint32
	Version      uint32
	Timestamp    uint64
	Role         uint8
	AuthAlgo     uint8
	DigestTag    Tag // TagSHA256 or TagSHA384
	Digest       []byte
	PubkeyDigest []byte // optional
	Signature    []byte // 64 bytes; zero value signs an unsigned header
}

// Dump extracts Fields from an already-parsed header, the inverse of
// Load. The inspect-header CLI subcommand does not call it; it prints
// from the View's accessors directly.
func Dump(v *View) Fields {
	f := Fields{FirmwareSize: v.FirmwareSize(), DigestTag: v.DigestTag(), Digest: v.DigestValue()}
	f.Version, _ = v.Version()
	f.Timestamp, _ = v.Timestamp()
	f.Role, _ = v.Role()
	f.AuthAlgo, _ = v.AuthAlgo()
	f.PubkeyDigest, _ = v.PubkeyDigestValue()
	f.Signature = v.SignatureValue()
	return f
}

// Load builds the 256-byte on-disk header from Fields, for the sign
// CLI subcommand (it builds an unsigned header, computes the signature
// over it, then calls Load again with Signature populated).
func Load(f Fields) ([Size]byte, error) {
	var out [Size]byte
	copy(out[:4], Magic)
	binary.LittleEndian.PutUint32(out[4:8], f.FirmwareSize)

	offset := PreambleSize
	put := func(tag Tag, value []byte) error {
		if offset+4+len(value) > Size {
			return fmt.Errorf("header: fields overflow %d-byte header", Size)
		}
		binary.LittleEndian.PutUint16(out[offset:offset+2], uint16(tag))
		binary.LittleEndian.PutUint16(out[offset+2:offset+4], uint16(len(value)))
		copy(out[offset+4:offset+4+len(value)], value)
		offset += 4 + len(value)
		for offset < Size && offset%2 != 0 {
			out[offset] = Padding
			offset++
		}
		return nil
	}

	versionBytes := make([]byte, lenVersion)
	binary.LittleEndian.PutUint32(versionBytes, f.Version)
	if err := put(TagVersion, versionBytes); err != nil {
		return out, err
	}

	tsBytes := make([]byte, lenTimestamp)
	binary.LittleEndian.PutUint64(tsBytes, f.Timestamp)
	if err := put(TagTimestamp, tsBytes); err != nil {
		return out, err
	}

	if err := put(TagImageType, []byte{f.Role, f.AuthAlgo}); err != nil {
		return out, err
	}

	digestTag := f.DigestTag
	if digestTag == 0 {
		digestTag = TagSHA256
	}
	if err := put(digestTag, f.Digest); err != nil {
		return out, err
	}

	if len(f.PubkeyDigest) > 0 {
		if err := put(TagPubkeyDigest, f.PubkeyDigest); err != nil {
			return out, err
		}
	}

	sig := f.Signature
	if len(sig) == 0 {
		sig = make([]byte, lenSignature)
	}
	if err := put(TagSignature, sig); err != nil {
		return out, err
	}

	for ; offset < Size; offset++ {
		out[offset] = Padding
	}
	return out, nil
}
