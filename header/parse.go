package header

import (
	"encoding/binary"
)

// View is the parsed, offset-annotated form of a 256-byte image header,
// returned by Parse once invariants H-1..H-5 (spec.md Section 3) hold.
type View struct {
	raw          [Size]byte
	firmwareSize uint32
	records      map[Tag]record
	digestTag    Tag
}

// Parse validates and indexes a candidate image header found at the
// start of imageSlot. imageSlot must contain at least the header plus
// the declared firmware body.
func Parse(imageSlot []byte) (*View, error) {
	if len(imageSlot) < Size {
		return nil, &MalformedHeader{Err: ErrTLVOverrun}
	}
	if string(imageSlot[:4]) != Magic {
		return nil, &MalformedHeader{Err: ErrBadMagic}
	}

	firmwareSize := binary.LittleEndian.Uint32(imageSlot[4:8])
	bodyCapacity := uint32(len(imageSlot) - Size)
	if firmwareSize > bodyCapacity { // H-2
		return nil, &MalformedHeader{Err: ErrFirmwareSizeTooBig}
	}

	v := &View{firmwareSize: firmwareSize, records: make(map[Tag]record)}
	copy(v.raw[:], imageSlot[:Size])

	offset := PreambleSize
	for offset+4 <= Size {
		if imageSlot[offset] == Padding {
			offset++ // 0xFF filler between records and after the last one
			continue
		}
		tagVal := Tag(binary.LittleEndian.Uint16(imageSlot[offset : offset+2]))
		lenVal := tagLen(imageSlot[offset+2 : offset+4])

		if tagVal == TagEndOfHeader && lenVal == 0 {
			break
		}
		if offset+4+int(lenVal) > Size { // H-5
			return nil, &MalformedHeader{Err: ErrTLVOverrun}
		}

		value := make([]byte, lenVal)
		copy(value, imageSlot[offset+4:offset+4+int(lenVal)])
		v.records[tagVal] = record{tag: tagVal, offset: offset, length: lenVal, value: value}

		offset += 4 + int(lenVal)
		for offset < Size && offset%2 != 0 {
			offset++ // consume the 2-byte-boundary 0xFF pad (spec.md Section 3)
		}
	}

	if err := v.validateStructure(); err != nil {
		return nil, &MalformedHeader{Err: err}
	}
	return v, nil
}

func (v *View) validateStructure() error {
	_, hasSHA256 := v.records[TagSHA256]
	_, hasSHA384 := v.records[TagSHA384]
	switch {
	case hasSHA256 && hasSHA384:
		return ErrMultipleDigests
	case hasSHA256:
		v.digestTag = TagSHA256
	case hasSHA384:
		v.digestTag = TagSHA384
	default:
		return ErrMissingDigest // H-3
	}

	if rec, ok := v.records[v.digestTag]; ok {
		wantLen := lenSHA256
		if v.digestTag == TagSHA384 {
			wantLen = lenSHA384
		}
		if int(rec.length) != wantLen {
			return ErrBadTagLength
		}
	}

	sigRec, ok := v.records[TagSignature] // H-4
	if !ok {
		return ErrMissingSignature
	}
	if int(sigRec.length) != lenSignature {
		return ErrBadTagLength
	}

	if it, ok := v.records[TagImageType]; !ok {
		return ErrMissingImageType
	} else if int(it.length) != lenImageType {
		return ErrBadTagLength
	}

	return nil
}

// FirmwareSize is the number of body bytes covered by the digest (the
// preamble's size field).
func (v *View) FirmwareSize() uint32 { return v.firmwareSize }

// Raw returns the full 256-byte header as parsed.
func (v *View) Raw() [Size]byte { return v.raw }

// DigestTag reports whether the image used SHA-256 or SHA-384.
func (v *View) DigestTag() Tag { return v.digestTag }

// DigestValue returns the digest tag's bytes.
func (v *View) DigestValue() []byte {
	return v.records[v.digestTag].value
}

// SignatureValue returns the signature tag's 64 bytes.
func (v *View) SignatureValue() []byte {
	return v.records[TagSignature].value
}

// PubkeyDigestValue returns the PubkeyDigest tag's bytes, if present.
func (v *View) PubkeyDigestValue() ([]byte, bool) {
	rec, ok := v.records[TagPubkeyDigest]
	if !ok {
		return nil, false
	}
	return rec.value, true
}

// Version returns the monotonic version tag (spec.md Section 3).
func (v *View) Version() (uint32, bool) {
	rec, ok := v.records[TagVersion]
	if !ok || rec.length != lenVersion {
		return 0, false
	}
	return binary.LittleEndian.Uint32(rec.value), true
}

// Timestamp returns the informational build-time tag.
func (v *View) Timestamp() (uint64, bool) {
	rec, ok := v.records[TagTimestamp]
	if !ok || rec.length != lenTimestamp {
		return 0, false
	}
	return binary.LittleEndian.Uint64(rec.value), true
}

// Role returns the ImageType tag's low byte.
func (v *View) Role() (uint8, bool) {
	rec, ok := v.records[TagImageType]
	if !ok || rec.length != lenImageType {
		return 0, false
	}
	return rec.value[0], true
}

// AuthAlgo returns the ImageType tag's high byte (spec.md Section 3).
func (v *View) AuthAlgo() (uint8, bool) {
	rec, ok := v.records[TagImageType]
	if !ok || rec.length != lenImageType {
		return 0, false
	}
	return rec.value[1], true
}

// signatureFieldOffset returns where in the 256-byte header the
// signature tag's value bytes begin, for zeroing during signing.
func (v *View) signatureFieldOffset() int {
	return v.records[TagSignature].offset + 4
}
