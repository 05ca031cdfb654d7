// Package updatecfg implements UpdateCfgParser (spec.md Section 4.8): a
// small line-oriented descriptor naming the active and passive firmware
// slots a richer (filesystem-backed) platform boots from. This is a
// deliberately tiny ad hoc format, not a config dialect any example
// repo's library targets, so it is parsed with a direct line scanner
// rather than pulling in a structured-config library (see DESIGN.md).
package updatecfg

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status is a slot's lifecycle marker, shared in spirit with
// partition.State but expressed as the descriptor's own text values.
type Status string

const (
	StatusNone     Status = ""
	StatusUpdating Status = "Updating"
	StatusTesting  Status = "Testing"
	StatusSuccess  Status = "Success"
)

// Slot is one of the two described firmware images (spec.md Section 4.8).
type Slot struct {
	Image   string
	Ext     string
	Version uint32
	Status  Status
	Ready   bool
}

// Descriptor is the parsed updt.txt: an active slot and a passive one.
type Descriptor struct {
	Active  Slot
	Passive Slot
}

// CfgError wraps a descriptor parse failure (spec.md Section 7); callers
// fall back to booting the active slot on this error.
type CfgError struct {
	Line int
	Err  error
}

func (e *CfgError) Error() string { return fmt.Sprintf("updatecfg: line %d: %v", e.Line, e.Err) }
func (e *CfgError) Unwrap() error { return e.Err }

var (
	ErrUnknownSection = errors.New("updatecfg: unknown section")
	ErrUnknownKey     = errors.New("updatecfg: unknown key")
	ErrBadValue       = errors.New("updatecfg: malformed value")
	ErrNoSlots        = errors.New("updatecfg: missing [active] or [passive] section")
)

// Parse reads updt.txt's contents: two "[active]"/"[passive]" sections,
// each holding "key=value" lines. Blank lines and lines starting with
// '#' are ignored.
func Parse(data []byte) (*Descriptor, error) {
	d := &Descriptor{}
	sawActive, sawPassive := false, false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var current *Slot
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			switch strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")) {
			case "active":
				current = &d.Active
				sawActive = true
			case "passive":
				current = &d.Passive
				sawPassive = true
			default:
				return nil, &CfgError{Line: lineNo, Err: ErrUnknownSection}
			}
			continue
		}
		if current == nil {
			return nil, &CfgError{Line: lineNo, Err: ErrUnknownSection}
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &CfgError{Line: lineNo, Err: ErrBadValue}
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if err := applyField(current, key, value); err != nil {
			return nil, &CfgError{Line: lineNo, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &CfgError{Line: lineNo, Err: err}
	}
	if !sawActive || !sawPassive {
		return nil, &CfgError{Line: lineNo, Err: ErrNoSlots}
	}
	return d, nil
}

func applyField(slot *Slot, key, value string) error {
	switch strings.ToLower(key) {
	case "image":
		slot.Image = value
	case "ext":
		slot.Ext = value
	case "version":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: version %q", ErrBadValue, value)
		}
		slot.Version = uint32(v)
	case "status":
		switch Status(value) {
		case StatusUpdating, StatusTesting, StatusSuccess, StatusNone:
			slot.Status = Status(value)
		default:
			return fmt.Errorf("%w: status %q", ErrBadValue, value)
		}
	case "ready":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: ready %q", ErrBadValue, value)
		}
		slot.Ready = b
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

// SlotChoice names which slot the boot decision selected.
type SlotChoice string

const (
	ChooseActive  SlotChoice = "active"
	ChoosePassive SlotChoice = "passive"
)

// Choose implements spec.md Section 4.8's boot decision: load passive
// iff it is ready, strictly newer than active, and its status is
// Updating or Success; a Testing status that never confirmed demotes
// the choice back to active (property P-6).
func (d *Descriptor) Choose() SlotChoice {
	if !d.Passive.Ready || d.Passive.Version <= d.Active.Version {
		return ChooseActive
	}
	switch d.Passive.Status {
	case StatusUpdating, StatusSuccess:
		return ChoosePassive
	default: // StatusTesting or StatusNone: demoted back to active
		return ChooseActive
	}
}

// Slot returns the chosen Slot directly.
func (d *Descriptor) Slot(choice SlotChoice) Slot {
	if choice == ChoosePassive {
		return d.Passive
	}
	return d.Active
}
