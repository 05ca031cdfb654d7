package partition_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"rustboot-go/header"
	"rustboot-go/partition"
)

// TestSwapAll_ExchangesImages pins property P-2: after a full swap, BOOT
// holds what UPDATE held and UPDATE holds what BOOT held (the backup).
func TestSwapAll_ExchangesImages(t *testing.T) {
	tbl, root, priv := newTestTable(t)

	oldBody := bytes.Repeat([]byte{0xAA}, 200)
	newBody := bytes.Repeat([]byte{0xBB}, 200)
	oldImage := buildImage(t, priv, root, 1, oldBody)
	newImage := buildImage(t, priv, root, 2, newBody)

	require.NoError(t, tbl.WriteFirmwareSlot(partition.Boot, oldImage))
	require.NoError(t, tbl.WriteFirmwareSlot(partition.Update, newImage))

	ctl := partition.NewController(tbl, root, nil)
	require.NoError(t, ctl.TriggerUpdate())

	done, err := partition.NewSwapEngine(tbl, nil).Done()
	require.NoError(t, err)
	require.True(t, done)

	bootSlot, err := tbl.FirmwareSlot(partition.Boot)
	require.NoError(t, err)
	bootView, err := header.Parse(bootSlot)
	require.NoError(t, err)
	ver, _ := bootView.Version()
	require.EqualValues(t, 2, ver)

	updateSlot, err := tbl.FirmwareSlot(partition.Update)
	require.NoError(t, err)
	updateView, err := header.Parse(updateSlot)
	require.NoError(t, err)
	ver, _ = updateView.Version()
	require.EqualValues(t, 1, ver)
}

// TestSwapAll_ResumableAfterCrash pins property P-3: re-invoking the swap
// after it stops partway (simulating a crash) finishes correctly and
// produces the same end state as an uninterrupted run.
func TestSwapAll_ResumableAfterCrash(t *testing.T) {
	tbl, root, priv := newTestTable(t)

	oldImage := buildImage(t, priv, root, 1, bytes.Repeat([]byte{0xAA}, 200))
	newImage := buildImage(t, priv, root, 2, bytes.Repeat([]byte{0xBB}, 200))
	require.NoError(t, tbl.WriteFirmwareSlot(partition.Boot, oldImage))
	require.NoError(t, tbl.WriteFirmwareSlot(partition.Update, newImage))

	// Manually drive the first sector partway through (simulating a crash
	// right after step 1 commits) instead of calling TriggerUpdate/SwapAll.
	require.NoError(t, tbl.WriteTrailerMagic(partition.Boot))
	require.NoError(t, tbl.WritePartitionState(partition.Boot, partition.StateUpdating))
	require.NoError(t, tbl.CopySectorData(partition.Boot, partition.Swap, 0))
	require.NoError(t, tbl.WriteSectorFlag(partition.Boot, 0, partition.FlagSwapping))

	// Resume as if rebooting mid-cycle.
	engine := partition.NewSwapEngine(tbl, nil)
	require.NoError(t, engine.Resume())

	done, err := engine.Done()
	require.NoError(t, err)
	require.True(t, done)

	// Idempotent: running it again changes nothing and returns no error.
	require.NoError(t, engine.Resume())

	bootSlot, err := tbl.FirmwareSlot(partition.Boot)
	require.NoError(t, err)
	bootView, err := header.Parse(bootSlot)
	require.NoError(t, err)
	ver, _ := bootView.Version()
	require.EqualValues(t, 2, ver)
}

// TestSwapAll_SwapFlagTracksInFlightSector pins the invariant wired into
// swapSector: SWAP's own flag byte reads SWAPPING while a sector's data
// sits in scratch and clears back to UPDATED the moment that sector's
// exchange completes, so SWAP never holds more than one in-flight
// sector at a time across a multi-sector run.
func TestSwapAll_SwapFlagTracksInFlightSector(t *testing.T) {
	tbl, root, priv := newTestTable(t)

	oldImage := buildImage(t, priv, root, 1, bytes.Repeat([]byte{0xAA}, 80))
	newImage := buildImage(t, priv, root, 2, bytes.Repeat([]byte{0xBB}, 80))
	require.NoError(t, tbl.WriteFirmwareSlot(partition.Boot, oldImage))
	require.NoError(t, tbl.WriteFirmwareSlot(partition.Update, newImage))

	// Drive sector 0 through step 1 only, the way swapSector's FlagNew
	// case does it, then stop (simulating a crash right after SWAP
	// starts holding sector 0's data).
	require.NoError(t, tbl.WriteTrailerMagic(partition.Boot))
	require.NoError(t, tbl.WritePartitionState(partition.Boot, partition.StateUpdating))
	require.NoError(t, tbl.EraseSwap())
	require.NoError(t, tbl.CopySectorData(partition.Boot, partition.Swap, 0))
	require.NoError(t, tbl.WriteSwapFlag(partition.FlagSwapping))
	require.NoError(t, tbl.WriteSectorFlag(partition.Boot, 0, partition.FlagSwapping))

	flag, err := tbl.ReadSwapFlag()
	require.NoError(t, err)
	require.Equal(t, partition.FlagSwapping, flag, "SWAP must record sector 0 as in-flight")

	// Resume finishes sector 0 and runs every remaining sector's full
	// three-step exchange, each reusing SWAP's single flag byte in turn.
	engine := partition.NewSwapEngine(tbl, nil)
	require.NoError(t, engine.Resume())

	done, err := engine.Done()
	require.NoError(t, err)
	require.True(t, done)

	flag, err = tbl.ReadSwapFlag()
	require.NoError(t, err)
	require.Equal(t, partition.FlagUpdated, flag, "SWAP must be released once every sector is done")
}

func TestWriteSectorFlag_RejectsIllegalTransition(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	require.NoError(t, tbl.WriteTrailerMagic(partition.Boot))
	require.NoError(t, tbl.WriteSectorFlag(partition.Boot, 0, partition.FlagUpdated))

	err := tbl.WriteSectorFlag(partition.Boot, 0, partition.FlagNew)
	require.ErrorIs(t, err, partition.ErrIllegalFlagTransition)
}
