package partition

import (
	"fmt"

	"rustboot-go/internal/rblog"
)

// SwapEngine implements the interruption-safe BOOT<->UPDATE exchange
// through SWAP scratch (spec.md Section 4.3). Every step it takes is
// idempotent: re-entering Swap after a crash at any point replays the
// remaining steps without corrupting either partition (property P-3).
type SwapEngine struct {
	t   *Table
	log *rblog.Logger
}

// NewSwapEngine builds a SwapEngine over t. log may be nil (tests build
// a bare engine with no trace output).
func NewSwapEngine(t *Table, log *rblog.Logger) *SwapEngine { return &SwapEngine{t: t, log: log} }

func (s *SwapEngine) decision(format string, args ...any) {
	if s.log != nil {
		s.log.Decision(format, args...)
	}
}

// swapSector exchanges sector's data sector-by-sector, resumable from
// whatever BOOT's sector flag says was last committed. SWAP's own flag
// byte is reused by every sector in turn, so it is erased back to NEW
// at the start of each sector's step 1 and cleared again at step 3 —
// SWAP holds at most one in-flight sector at a time (spec.md Section
// 4.3's invariant). Callers invoke this once per sector in increasing
// order; a full swap is SwapAll.
func (s *SwapEngine) swapSector(sector uint32) error {
	flag, err := s.t.ReadSectorFlag(Boot, sector)
	if err != nil {
		return err
	}

	switch flag {
	case FlagNew:
		// Step 1: BOOT[i] -> SWAP, mark SWAP and BOOT[i] SWAPPING.
		if err := s.t.EraseSwap(); err != nil {
			return err
		}
		if err := s.t.CopySectorData(Boot, Swap, sector); err != nil {
			return err
		}
		if err := s.t.WriteSwapFlag(FlagSwapping); err != nil {
			return err
		}
		if err := s.t.WriteSectorFlag(Boot, sector, FlagSwapping); err != nil {
			return err
		}
		s.decision("swap sector %d: BOOT -> SWAP", sector)
		fallthrough

	case FlagSwapping:
		// Step 2: UPDATE[i] -> BOOT[i], mark BACKUP.
		if err := s.t.CopySectorData(Update, Boot, sector); err != nil {
			return err
		}
		if err := s.t.WriteSectorFlag(Boot, sector, FlagBackup); err != nil {
			return err
		}
		s.decision("swap sector %d: UPDATE -> BOOT", sector)
		fallthrough

	case FlagBackup:
		// Step 3: SWAP -> UPDATE[i], mark UPDATED, release SWAP.
		if err := s.t.CopySectorData(Swap, Update, sector); err != nil {
			return err
		}
		if err := s.t.WriteSwapFlag(FlagUpdated); err != nil {
			return err
		}
		if err := s.t.WriteSectorFlag(Boot, sector, FlagUpdated); err != nil {
			return err
		}
		s.decision("swap sector %d: SWAP -> UPDATE", sector)
		fallthrough

	case FlagUpdated:
		return nil

	default:
		return fmt.Errorf("partition: sector %d has unrecognized flag %v", sector, flag)
	}
}

// SwapAll runs swapSector over every sector in order, the full exchange
// described in spec.md Section 4.3. Calling it again after a clean
// completion is a no-op (every sector already reads UPDATED); calling it
// again after a crash resumes from whichever sector was mid-flight.
func (s *SwapEngine) SwapAll() error {
	n := s.t.Geometry(Boot).SectorCount()
	for sector := uint32(0); sector < n; sector++ {
		if err := s.swapSector(sector); err != nil {
			return fmt.Errorf("partition: swap sector %d: %w", sector, err)
		}
	}
	if err := s.t.WritePartitionState(Boot, StateTesting); err != nil {
		return err
	}
	if err := s.t.WriteBootAttempts(Boot, 1); err != nil {
		return err
	}
	s.decision("swap complete: BOOT -> TESTING")
	return nil
}

// Resume continues an interrupted SwapAll, picking up from whatever each
// sector's flag says was last durably committed (property P-3:
// idempotent and resumable from any crash point).
func (s *SwapEngine) Resume() error {
	state, err := s.t.ReadPartitionState(Boot)
	if err != nil {
		return err
	}
	if state != StateUpdating {
		return nil // nothing was in flight
	}
	return s.SwapAll()
}

// Done reports whether every sector has reached UPDATED.
func (s *SwapEngine) Done() (bool, error) {
	n := s.t.Geometry(Boot).SectorCount()
	for sector := uint32(0); sector < n; sector++ {
		flag, err := s.t.ReadSectorFlag(Boot, sector)
		if err != nil {
			return false, err
		}
		if flag != FlagUpdated {
			return false, nil
		}
	}
	return true, nil
}
