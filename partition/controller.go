package partition

import (
	"fmt"

	"rustboot-go/header"
	"rustboot-go/internal/rblog"
)

// Controller is UpdateController (spec.md Section 4.4): the reset-time
// decision maker that drives PartitionTable and SwapEngine together —
// staging an update, resuming an interrupted swap, booting a TESTING
// image for its one trial boot, and rolling back on a second failure.
type Controller struct {
	t    *Table
	swap *SwapEngine
	root *header.TrustRoot
	log  *rblog.Logger
}

// NewController builds a Controller over t, authenticating staged images
// against root. log may be nil (tests build a bare controller with no
// trace output).
func NewController(t *Table, root *header.TrustRoot, log *rblog.Logger) *Controller {
	return &Controller{t: t, swap: NewSwapEngine(t, log), root: root, log: log}
}

func (c *Controller) decision(format string, args ...any) {
	if c.log != nil {
		c.log.Decision(format, args...)
	}
}

func (c *Controller) warn(format string, args ...any) {
	if c.log != nil {
		c.log.Warn(format, args...)
	}
}

func (c *Controller) halt(format string, args ...any) {
	if c.log != nil {
		c.log.Halt(format, args...)
	}
}

// FatalNoBootableImage is returned by OnReset when BOOT fails
// authentication even after a rollback attempt (spec.md Section 4.4
// step 3, Section 8 scenario 5): there is no image left the core can
// hand control to, and the caller must halt.
type FatalNoBootableImage struct {
	Err error
}

func (e *FatalNoBootableImage) Error() string {
	return fmt.Sprintf("partition: no bootable image: %v", e.Err)
}
func (e *FatalNoBootableImage) Unwrap() error { return e.Err }

// authenticateBoot runs header.Authenticate against BOOT's current
// firmware slot. A nil root (no trust configured) is treated as always
// authentic — the same policy StageUpdate would need if it allowed a
// nil root, kept consistent here.
func (c *Controller) authenticateBoot() error {
	if c.root == nil {
		return nil
	}
	slot, err := c.t.FirmwareSlot(Boot)
	if err != nil {
		return err
	}
	ok, err := header.Authenticate(slot, c.root)
	if ok {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("partition: BOOT authentication failed")
}

// Decision is what OnReset tells the caller to do next.
type Decision int

const (
	BootNormal Decision = iota
	BootTesting
	ResumedSwap
	RolledBack
)

func (d Decision) String() string {
	switch d {
	case BootNormal:
		return "boot-normal"
	case BootTesting:
		return "boot-testing"
	case ResumedSwap:
		return "resumed-swap"
	case RolledBack:
		return "rolled-back"
	default:
		return "?"
	}
}

// StageUpdate validates a candidate image (spec.md Section 4.1's H-1..H-7
// via header.Authenticate, plus the version-monotonicity and downgrade
// rule) and writes it into UPDATE, ready for the next OnReset to pick up.
func (c *Controller) StageUpdate(image []byte) error {
	ok, err := header.Authenticate(image, c.root)
	if err != nil {
		return fmt.Errorf("partition: staged image failed authentication: %w", err)
	}
	if !ok {
		return fmt.Errorf("partition: staged image rejected")
	}

	candidate, err := header.Parse(image)
	if err != nil {
		return err
	}
	if current, cerr := c.currentVersion(); cerr == nil {
		if newVer, ok := candidate.Version(); ok && newVer <= current {
			return fmt.Errorf("%w: staged version %d <= running version %d", ErrDowngrade, newVer, current)
		}
	}

	return c.t.WriteFirmwareSlot(Update, image)
}

// ErrDowngrade rejects a staged image whose version does not exceed the
// currently running BOOT image's version (spec.md Section 4.4).
var ErrDowngrade = fmt.Errorf("partition: staged image is not newer than the running image")

func (c *Controller) currentVersion() (uint32, error) {
	slot, err := c.t.FirmwareSlot(Boot)
	if err != nil {
		return 0, err
	}
	v, err := header.Parse(slot)
	if err != nil {
		return 0, err
	}
	ver, ok := v.Version()
	if !ok {
		return 0, fmt.Errorf("partition: running image has no version tag")
	}
	return ver, nil
}

// TriggerUpdate starts a new swap cycle: it resets BOOT's trailer to a
// fresh cycle and runs SwapEngine over every sector, leaving BOOT in
// TESTING with one boot attempt remaining. UPDATE must already hold a
// staged, authenticated image (see StageUpdate).
func (c *Controller) TriggerUpdate() error {
	state, err := c.t.ReadPartitionState(Boot)
	if err != nil {
		return err
	}
	if state == StateNew || state == StateSuccess {
		if err := c.t.EraseTrailerSector(Boot); err != nil {
			return err
		}
		if err := c.t.EraseSwap(); err != nil {
			return err
		}
	}
	if err := c.t.WriteTrailerMagic(Boot); err != nil {
		return err
	}
	if err := c.t.WritePartitionState(Boot, StateUpdating); err != nil {
		return err
	}
	return c.swap.SwapAll()
}

// OnReset runs the reset-time decision in spec.md Section 4.4: resume an
// interrupted swap, give a TESTING image its one trial boot, roll back a
// TESTING image that failed to confirm within its single trial, or boot
// normally — then, as step 3 of that section, authenticates whichever
// image now sits in BOOT. A failed authentication gets one rollback
// attempt; if BOOT still doesn't authenticate afterward, OnReset returns
// FatalNoBootableImage and the caller must halt (spec.md Section 8
// scenario 5: tampered body survives the swap, authentication catches it
// at the reset boundary).
func (c *Controller) OnReset() (Decision, error) {
	decision, err := c.resetDecision()
	if err != nil {
		return BootNormal, err
	}

	if err := c.authenticateBoot(); err != nil {
		c.warn("authenticate BOOT failed: %v", err)

		if decision == RolledBack {
			// Already the product of a rollback; a second failure means
			// the previous-known-good image is unauthenticatable too.
			c.halt("BOOT unauthenticatable after rollback: %v", err)
			return BootNormal, &FatalNoBootableImage{Err: err}
		}

		if rbErr := c.Rollback(); rbErr != nil {
			c.halt("rollback failed: %v", rbErr)
			return BootNormal, &FatalNoBootableImage{Err: rbErr}
		}
		if aerr := c.authenticateBoot(); aerr != nil {
			c.halt("BOOT unauthenticatable after rollback: %v", aerr)
			return BootNormal, &FatalNoBootableImage{Err: aerr}
		}
		c.decision("rolled back after failed authentication")
		return RolledBack, nil
	}

	c.decision("authenticate BOOT: ok")
	return decision, nil
}

// resetDecision runs the state-machine half of OnReset, independent of
// BOOT authentication.
func (c *Controller) resetDecision() (Decision, error) {
	state, err := c.t.ReadPartitionState(Boot)
	if err != nil {
		return BootNormal, err
	}

	switch state {
	case StateUpdating:
		if err := c.swap.Resume(); err != nil {
			return BootNormal, err
		}
		return ResumedSwap, nil

	case StateTesting:
		attempts, err := c.t.ReadBootAttempts(Boot)
		if err != nil {
			return BootNormal, err
		}
		if attempts == 0 {
			if err := c.Rollback(); err != nil {
				return BootNormal, err
			}
			return RolledBack, nil
		}
		if err := c.t.WriteBootAttempts(Boot, attempts-1); err != nil {
			return BootNormal, err
		}
		return BootTesting, nil

	default: // StateNew, StateSuccess
		return BootNormal, nil
	}
}

// ConfirmUpdate is called by the running application once it has
// verified the new image is healthy, committing BOOT's TESTING image as
// the new permanent SUCCESS image.
func (c *Controller) ConfirmUpdate() error {
	state, err := c.t.ReadPartitionState(Boot)
	if err != nil {
		return err
	}
	if state != StateTesting {
		return fmt.Errorf("partition: cannot confirm from state %s", state)
	}
	return c.t.WritePartitionState(Boot, StateSuccess)
}

// Rollback restores the pre-update image. UPDATE already holds that
// image as SwapAll's own backup copy, so rolling back is running the
// identical three-step exchange a second time: BOOT's now-bad image
// moves to SWAP, UPDATE's backup moves into BOOT, and the bad image ends
// up parked in UPDATE.
func (c *Controller) Rollback() error {
	if err := c.t.EraseTrailerSector(Boot); err != nil {
		return err
	}
	if err := c.t.EraseSwap(); err != nil {
		return err
	}
	if err := c.t.WriteTrailerMagic(Boot); err != nil {
		return err
	}
	if err := c.t.WritePartitionState(Boot, StateUpdating); err != nil {
		return err
	}
	if err := c.swap.SwapAll(); err != nil {
		return err
	}
	// The restored image is known-good; skip its own TESTING trial.
	if err := c.t.WritePartitionState(Boot, StateSuccess); err != nil {
		return err
	}
	return c.t.WriteBootAttempts(Boot, 0)
}
