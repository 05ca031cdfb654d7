// Package boardcfg loads the platform descriptor that the host simulator
// uses in place of a board support package's compiled-in partition
// geometry (spec.md Section 9, "static mutable load buffers" / platform
// descriptor). Real firmware bakes these as constants per target
// (original_source/rustBoot/src/constants.rs); the simulator reads them
// from YAML so the same binary can drive tests against many geometries.
package boardcfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"rustboot-go/partition"
)

// Board describes one target's flash geometry and load addresses.
type Board struct {
	Name            string `yaml:"name"`
	SectorSize      uint32 `yaml:"sector_size"`
	PartitionSize   uint32 `yaml:"partition_size"`
	BootBaseAddr    uint32 `yaml:"boot_base_addr"`
	UpdateBaseAddr  uint32 `yaml:"update_base_addr"`
	SwapBaseAddr    uint32 `yaml:"swap_base_addr"`
	KernelLoadAddr  uint32 `yaml:"kernel_load_addr"`
	FdtLoadAddr     uint32 `yaml:"fdt_load_addr"`
	RamdiskLoadAddr uint32 `yaml:"ramdisk_load_addr"`
	ItbFileName     string `yaml:"itb_file_name"`
}

// defaultItbName is the name rustBoot's FAT loader looks up when the
// board config leaves it unset (spec.md Section 6).
const defaultItbName = "SIGNED~1.ITB"

// Load reads and validates a board descriptor from path.
func Load(path string) (*Board, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("boardcfg: read %s: %w", path, err)
	}
	var b Board
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("boardcfg: parse %s: %w", path, err)
	}
	if b.ItbFileName == "" {
		b.ItbFileName = defaultItbName
	}
	return &b, b.validate()
}

func (b *Board) validate() error {
	if b.SectorSize == 0 {
		return fmt.Errorf("boardcfg: %s: sector_size must be nonzero", b.Name)
	}
	if b.PartitionSize%b.SectorSize != 0 || b.PartitionSize < 2*b.SectorSize {
		return fmt.Errorf("boardcfg: %s: partition_size must be a multiple of sector_size covering at least one data sector plus the trailer sector", b.Name)
	}
	return nil
}

// SectorCount returns N, the number of firmware-data sectors per
// BOOT/UPDATE partition (spec.md Section 6's layout), excluding the
// dedicated trailer sector.
func (b *Board) SectorCount() uint32 {
	return b.PartitionSize/b.SectorSize - 1
}

// BootGeometry, UpdateGeometry and SwapGeometry build partition.Geometry
// descriptors from this board's addresses, matching the dedicated
// trailer-sector layout partition.Geometry expects.
func (b *Board) BootGeometry() partition.Geometry {
	return partition.Geometry{Role: partition.Boot, BaseAddr: b.BootBaseAddr, Size: b.PartitionSize, SectorSize: b.SectorSize}
}

func (b *Board) UpdateGeometry() partition.Geometry {
	return partition.Geometry{Role: partition.Update, BaseAddr: b.UpdateBaseAddr, Size: b.PartitionSize, SectorSize: b.SectorSize}
}

// SwapGeometry sizes SWAP as one full data sector plus its own single
// trailer byte (see partition.Table's doc comment).
func (b *Board) SwapGeometry() partition.Geometry {
	return partition.Geometry{Role: partition.Swap, BaseAddr: b.SwapBaseAddr, Size: b.SectorSize + 1, SectorSize: b.SectorSize}
}

// ItbName returns the platform-configured ITB file name.
func (b *Board) ItbName() string { return b.ItbFileName }
