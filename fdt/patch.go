package fdt

import "fmt"

// ChosenProp is one property to install in the rewritten /chosen node.
type ChosenProp struct {
	Name  string
	Value []byte
}

// Patch implements FdtPatcher (spec.md Section 4.7): it replaces the
// /chosen node with one holding exactly props and returns a fresh blob.
// Every other node is byte-equal to the input (property P-5).
func Patch(r *Reader, props []ChosenProp) ([]byte, error) {
	bounds, err := r.FindNodeBounds("/chosen")
	if err != nil {
		return nil, fmt.Errorf("fdt: locating /chosen: %w", err)
	}

	structOff, structSize := r.StructBlock()
	stringsOff, stringsSize := r.StringsBlock()
	raw := r.Bytes()

	existing := scanStrings(raw[stringsOff : stringsOff+stringsSize])
	var appended []byte
	nameOffset := func(name string) uint32 {
		if off, ok := existing[name]; ok {
			return off
		}
		off := stringsSize + uint32(len(appended))
		appended = append(appended, name...)
		appended = append(appended, 0)
		existing[name] = off
		return off
	}

	var chosen []byte
	chosen = append(chosen, encodeBeginNode("chosen")...)
	for _, p := range props {
		chosen = append(chosen, encodeProperty(nameOffset(p.Name), p.Value)...)
	}
	chosen = append(chosen, encodeEndNode()...)

	origStruct := raw[structOff : structOff+structSize]
	relStart := bounds.Start - structOff
	relEnd := bounds.End - structOff

	newStruct := make([]byte, 0, len(origStruct)-int(relEnd-relStart)+len(chosen))
	newStruct = append(newStruct, origStruct[:relStart]...)
	newStruct = append(newStruct, chosen...)
	newStruct = append(newStruct, origStruct[relEnd:]...)
	for uint32(len(newStruct))%4 != 0 {
		newStruct = append(newStruct, 0)
	}

	newStrings := append(append([]byte{}, raw[stringsOff:stringsOff+stringsSize]...), appended...)
	newStringsSize := uint32(len(newStrings))
	for uint32(len(newStrings))%4 != 0 {
		newStrings = append(newStrings, 0)
	}

	newStringsOff := alignTo(structOff+uint32(len(newStruct)), 4)
	total := newStringsOff + uint32(len(newStrings))

	out := make([]byte, total)
	copy(out, raw[:structOff]) // header and any reserved-memory map, unchanged
	copy(out[structOff:], newStruct)
	copy(out[newStringsOff:], newStrings)

	putBE32(out[4:8], total)
	putBE32(out[8:12], structOff)
	putBE32(out[12:16], newStringsOff)
	putBE32(out[32:36], newStringsSize)
	putBE32(out[36:40], uint32(len(newStruct)))

	return out, nil
}

// scanStrings parses a strings block's NUL-terminated entries into a
// name->offset map, offsets relative to the block's own start.
func scanStrings(block []byte) map[string]uint32 {
	out := make(map[string]uint32)
	start := uint32(0)
	for i, b := range block {
		if b == 0 {
			if uint32(i) > start {
				out[string(block[start:i])] = start
			}
			start = uint32(i) + 1
		}
	}
	return out
}
