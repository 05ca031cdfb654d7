package main

import (
	"fmt"
	"os"

	"rustboot-go/internal/boardcfg"
)

func readFileBytes(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbsim: read %s: %w", path, err)
	}
	return b, nil
}

var errRequiredFlags = fmt.Errorf("rbsim: --board and --flash are required")

func loadBoardOnly() (*boardcfg.Board, error) {
	return boardcfg.Load(flagBoard)
}

// flashExtent returns the smallest backing-file size covering every
// partition's geometry (BOOT, UPDATE and SWAP need not be contiguous or
// ordered by address).
func flashExtent(b *boardcfg.Board) uint32 {
	extent := func(base, size uint32) uint32 { return base + size }
	max := extent(b.BootBaseAddr, b.PartitionSize)
	if v := extent(b.UpdateBaseAddr, b.PartitionSize); v > max {
		max = v
	}
	if v := extent(b.SwapBaseAddr, b.SectorSize+1); v > max {
		max = v
	}
	return max
}
