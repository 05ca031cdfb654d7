package partition

import (
	"fmt"

	"rustboot-go/internal/flashsim"
)

// Table is PartitionTable (spec.md Section 4.2): the trailer/flag/state
// reader-writer over BOOT, UPDATE and SWAP. It owns no data beyond the
// geometry descriptors; all bytes live in dev.
//
// SWAP's Geometry.Size must be SectorSize+1: one full sector of scratch
// data plus a single trailing flag byte. A literal single-sector SWAP
// (Size == SectorSize) would leave no room for its own flag without
// shrinking the scratch capacity below what a full BOOT/UPDATE sector
// needs during the swap (see DESIGN.md).
type Table struct {
	dev  *flashsim.Device
	geom map[Role]Geometry
}

// New validates BOOT/UPDATE geometry and returns a Table.
func New(dev *flashsim.Device, boot, update, swap Geometry) (*Table, error) {
	if err := CheckGeometry(boot, update); err != nil {
		return nil, err
	}
	return &Table{
		dev: dev,
		geom: map[Role]Geometry{
			Boot:   boot,
			Update: update,
			Swap:   swap,
		},
	}, nil
}

// Geometry exposes a partition's geometry descriptor.
func (t *Table) Geometry(part Role) Geometry { return t.geom[part] }

func (t *Table) writeAndSync(addr uint32, data []byte) error {
	if err := t.dev.Unlock(); err != nil {
		return wrapFlash("unlock", err)
	}
	defer t.dev.Lock()
	if err := t.dev.Write(addr, data); err != nil {
		return wrapFlash("write", err)
	}
	// Read-back barrier required before the next logical step (spec.md
	// Section 5's ordering guarantee).
	if err := t.dev.Sync(addr, data); err != nil {
		return wrapFlash("sync", err)
	}
	return nil
}

// ReadSectorFlag reads sector_idx's flag byte.
func (t *Table) ReadSectorFlag(part Role, sector uint32) (SectorFlag, error) {
	g := t.geom[part]
	present, err := t.ReadTrailerMagic(part)
	if err != nil {
		return 0, err
	}
	if !present {
		return FlagNew, nil
	}
	b, err := t.dev.Read(g.sectorFlagAddr(sector), 1)
	if err != nil {
		return 0, wrapFlash("read", err)
	}
	return normalizeSectorFlag(b[0]), nil
}

// WriteSectorFlag writes sector_idx's flag byte, rejecting any
// transition that would require setting a cleared bit (spec.md Section
// 4.2).
func (t *Table) WriteSectorFlag(part Role, sector uint32, flag SectorFlag) error {
	cur, err := t.ReadSectorFlag(part, sector)
	if err != nil {
		return err
	}
	if !isSubsetTransition(uint8(cur), uint8(flag)) {
		return fmt.Errorf("%w: sector %d %s -> %s", ErrIllegalFlagTransition, sector, cur, flag)
	}
	g := t.geom[part]
	return t.writeAndSync(g.sectorFlagAddr(sector), []byte{byte(flag)})
}

// ReadPartitionState reads the partition-state byte.
func (t *Table) ReadPartitionState(part Role) (State, error) {
	present, err := t.ReadTrailerMagic(part)
	if err != nil {
		return 0, err
	}
	if !present {
		return StateNew, nil
	}
	g := t.geom[part]
	b, err := t.dev.Read(g.partitionStateAddr(), 1)
	if err != nil {
		return 0, wrapFlash("read", err)
	}
	return normalizeState(b[0]), nil
}

// WritePartitionState writes the partition-state byte, enforcing the
// same bit-clear-only rule as sector flags.
func (t *Table) WritePartitionState(part Role, state State) error {
	cur, err := t.ReadPartitionState(part)
	if err != nil {
		return err
	}
	if !isSubsetTransition(uint8(cur), uint8(state)) {
		return fmt.Errorf("%w: state %s -> %s", ErrIllegalFlagTransition, cur, state)
	}
	g := t.geom[part]
	return t.writeAndSync(g.partitionStateAddr(), []byte{byte(state)})
}

// ReadTrailerMagic reports whether the 4-byte "BOOT" marker is present.
// Its absence means the partition has never been formatted; every other
// trailer field reads as NEW (spec.md Section 4.2).
func (t *Table) ReadTrailerMagic(part Role) (bool, error) {
	g := t.geom[part]
	b, err := t.dev.Read(g.trailerMagicAddr(), 4)
	if err != nil {
		return false, wrapFlash("read", err)
	}
	return string(b) == TrailerMagic, nil
}

// WriteTrailerMagic writes the trailer magic, formatting the partition.
// Callers must erase the trailer sector first if it was not already
// erased (see Table.EraseTrailerSector).
func (t *Table) WriteTrailerMagic(part Role) error {
	g := t.geom[part]
	return t.writeAndSync(g.trailerMagicAddr(), []byte(TrailerMagic))
}

// EraseTrailerSector erases the dedicated trailer sector, resetting
// every boot-attempt/flag/state/magic byte back to NEW/absent without
// touching firmware data. UpdateController calls it on BOOT before
// starting a fresh swap cycle (TriggerUpdate, Rollback).
func (t *Table) EraseTrailerSector(part Role) error {
	g := t.geom[part]
	sectorAddr := g.trailerStart()
	if err := t.dev.Unlock(); err != nil {
		return wrapFlash("unlock", err)
	}
	defer t.dev.Lock()
	if err := t.dev.Erase(sectorAddr, g.SectorSize); err != nil {
		return wrapFlash("erase", err)
	}
	return nil
}

// ReadBootAttempts reads the saturating attempt counter introduced in
// SPEC_FULL.md Section 9 to resolve the second-TESTING-boot question.
func (t *Table) ReadBootAttempts(part Role) (uint8, error) {
	present, err := t.ReadTrailerMagic(part)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, nil
	}
	g := t.geom[part]
	b, err := t.dev.Read(g.bootAttemptsAddr(), 1)
	if err != nil {
		return 0, wrapFlash("read", err)
	}
	if b[0] == 0xFF {
		return 0, nil
	}
	return b[0], nil
}

// WriteBootAttempts writes the attempt counter, checked against the raw
// stored byte (not ReadBootAttempts' erased-reads-as-0 presentation):
// flash programming can clear any bits still set, including writing a
// fresh count into a just-erased (0xFF) byte.
func (t *Table) WriteBootAttempts(part Role, n uint8) error {
	g := t.geom[part]
	raw, err := t.dev.Read(g.bootAttemptsAddr(), 1)
	if err != nil {
		return wrapFlash("read", err)
	}
	if !isSubsetTransition(raw[0], n) {
		return fmt.Errorf("%w: boot_attempts 0x%02x -> 0x%02x", ErrIllegalFlagTransition, raw[0], n)
	}
	return t.writeAndSync(g.bootAttemptsAddr(), []byte{n})
}

// ReadSwapFlag reads SWAP's single trailer byte.
func (t *Table) ReadSwapFlag() (SectorFlag, error) {
	g := t.geom[Swap]
	b, err := t.dev.Read(g.swapFlagAddr(), 1)
	if err != nil {
		return 0, wrapFlash("read", err)
	}
	return normalizeSectorFlag(b[0]), nil
}

// WriteSwapFlag writes SWAP's trailer byte under the same bit-clear rule.
func (t *Table) WriteSwapFlag(flag SectorFlag) error {
	cur, err := t.ReadSwapFlag()
	if err != nil {
		return err
	}
	if !isSubsetTransition(uint8(cur), uint8(flag)) {
		return fmt.Errorf("%w: swap %s -> %s", ErrIllegalFlagTransition, cur, flag)
	}
	g := t.geom[Swap]
	return t.writeAndSync(g.swapFlagAddr(), []byte{byte(flag)})
}

// EraseSwap erases SWAP's entire region, including its trailing flag
// byte (g.Size, not g.SectorSize — the flag lives one byte past the
// scratch data), resetting the flag to NEW so it can be reused by the
// next sector's swap cycle.
func (t *Table) EraseSwap() error {
	g := t.geom[Swap]
	if err := t.dev.Unlock(); err != nil {
		return wrapFlash("unlock", err)
	}
	defer t.dev.Lock()
	if err := t.dev.Erase(g.BaseAddr, g.Size); err != nil {
		return wrapFlash("erase", err)
	}
	return nil
}

// sectorDataRange returns the address and length of sector_idx's usable
// firmware-data span. The trailer lives in its own dedicated sector (see
// Geometry), so every data sector is a full, uniform SectorSize bytes.
// SWAP is the one exception: it has a single scratch region reused by
// whichever BOOT/UPDATE sector is currently in flight, so its range does
// not depend on the sector index passed in.
func (t *Table) sectorDataRange(part Role, sector uint32) (addr, length uint32, err error) {
	g := t.geom[part]
	if part == Swap {
		return g.BaseAddr, g.SwapDataCapacity(), nil
	}
	n := g.SectorCount()
	if sector >= n {
		return 0, 0, fmt.Errorf("partition: sector %d out of range (0..%d)", sector, n-1)
	}
	return g.BaseAddr + sector*g.SectorSize, g.SectorSize, nil
}

// CopySectorData moves sector_idx's firmware-data bytes from src to dst,
// the data-plane half of SwapEngine's per-sector three-way exchange.
func (t *Table) CopySectorData(src, dst Role, sector uint32) error {
	srcAddr, srcLen, err := t.sectorDataRange(src, sector)
	if err != nil {
		return err
	}
	dstAddr, dstLen, err := t.sectorDataRange(dst, sector)
	if err != nil {
		return err
	}
	n := srcLen
	if dstLen < n {
		n = dstLen
	}
	buf, err := t.dev.Read(srcAddr, n)
	if err != nil {
		return wrapFlash("read", err)
	}
	if err := t.dev.Unlock(); err != nil {
		return wrapFlash("unlock", err)
	}
	defer t.dev.Lock()
	if err := t.dev.Write(dstAddr, buf); err != nil {
		return wrapFlash("write", err)
	}
	if err := t.dev.Sync(dstAddr, buf); err != nil {
		return wrapFlash("sync", err)
	}
	return nil
}

// firmwareSlot returns the BOOT or UPDATE partition's image region — its
// first FirmwareCapacity bytes, header included — for HeaderCodec to parse.
func (t *Table) firmwareSlot(part Role) ([]byte, error) {
	g := t.geom[part]
	return t.dev.Read(g.BaseAddr, g.FirmwareCapacity())
}

// FirmwareSlot exposes firmwareSlot for UpdateController and CLI tooling.
func (t *Table) FirmwareSlot(part Role) ([]byte, error) { return t.firmwareSlot(part) }

// WriteFirmwareSlot writes a whole image (header + body) into part, used
// by the host tooling's trigger-update path and by tests that stage a
// pre-built image. It erases every data sector of part first since flash
// writes can only clear bits.
func (t *Table) WriteFirmwareSlot(part Role, image []byte) error {
	g := t.geom[part]
	if uint32(len(image)) > g.FirmwareCapacity() {
		return fmt.Errorf("partition: image (%d bytes) exceeds %s capacity (%d)", len(image), part, g.FirmwareCapacity())
	}
	if err := t.dev.Unlock(); err != nil {
		return wrapFlash("unlock", err)
	}
	n := g.SectorCount()
	for s := uint32(0); s < n; s++ {
		sectorAddr := g.BaseAddr + s*g.SectorSize
		if err := t.dev.Erase(sectorAddr, g.SectorSize); err != nil {
			t.dev.Lock()
			return wrapFlash("erase", err)
		}
	}
	if err := t.dev.Write(g.BaseAddr, image); err != nil {
		t.dev.Lock()
		return wrapFlash("write", err)
	}
	if err := t.dev.Sync(g.BaseAddr, image); err != nil {
		t.dev.Lock()
		return wrapFlash("sync", err)
	}
	t.dev.Lock()
	return t.WriteTrailerMagic(part)
}
