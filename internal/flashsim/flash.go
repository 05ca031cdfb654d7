// Package flashsim implements the host-side stand-in for the
// FlashInterface collaborator described in spec.md Section 6: a
// byte-granular write, sector erase, lock/unlock abstraction over a
// linear address space. On real targets this is an MCU flash driver
// (out of scope per spec.md Section 1); here it is a regular file
// memory-mapped the way the teacher's HexPatch and mmap-based image
// readers map boot images.
package flashsim

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// ErrLocked is returned when a write/erase is attempted without holding
// the lock, or when Unlock/Lock is nested (spec.md Section 5: "nested
// writes are forbidden").
var ErrLocked = errors.New("flashsim: flash device is locked")

// Device is a linear, byte-addressable flash region backed by an
// on-disk file. Size is fixed at Open time; Device never resizes the
// file underneath the caller.
type Device struct {
	mu     sync.Mutex
	file   *os.File
	region mmap.MMap
	locked bool
}

// Open memory-maps path read-write. The file must already exist (callers
// create it with Create first); its length is the device's address space.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("flashsim: open %s: %w", path, err)
	}
	region, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flashsim: mmap %s: %w", path, err)
	}
	return &Device{file: f, region: region}, nil
}

// Create allocates a new erased (all 0xFF) backing file of the given size
// and opens it.
func Create(path string, size int64) (*Device, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("flashsim: create %s: %w", path, err)
	}
	blank := make([]byte, size)
	for i := range blank {
		blank[i] = 0xFF
	}
	if _, err := f.Write(blank); err != nil {
		f.Close()
		return nil, fmt.Errorf("flashsim: init %s: %w", path, err)
	}
	f.Close()
	return Open(path)
}

// Close unmaps and closes the backing file.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.region.Unmap(); err != nil {
		return err
	}
	return d.file.Close()
}

// Len reports the size of the flash address space.
func (d *Device) Len() int {
	return len(d.region)
}

// Unlock scopes the start of a write batch (spec.md Section 5). Callers
// must Lock when done; nested Unlock calls fail.
func (d *Device) Unlock() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locked {
		return ErrLocked
	}
	d.locked = true
	return nil
}

// Lock ends a write batch.
func (d *Device) Lock() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
	return nil
}

// Write stores bytes at addr. Per spec.md Section 6, write need not be
// atomic across its span — callers that need crash-safety (SwapEngine)
// follow each write with Sync to read back the committed bytes before
// advancing their state machine (spec.md Section 5's ordering guarantee).
func (d *Device) Write(addr uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.locked {
		return ErrLocked
	}
	end := int(addr) + len(data)
	if end > len(d.region) {
		return fmt.Errorf("flashsim: write [%d,%d) exceeds device size %d", addr, end, len(d.region))
	}
	copy(d.region[addr:end], data)
	return nil
}

// Erase sets len bytes at addr back to the erased value (0xFF), matching
// the "program clears bits" model sector flags rely on (spec.md Section 3).
func (d *Device) Erase(addr, length uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.locked {
		return ErrLocked
	}
	end := int(addr) + int(length)
	if end > len(d.region) {
		return fmt.Errorf("flashsim: erase [%d,%d) exceeds device size %d", addr, end, len(d.region))
	}
	for i := int(addr); i < end; i++ {
		d.region[i] = 0xFF
	}
	return nil
}

// Read returns a read-only copy of length bytes at addr.
func (d *Device) Read(addr, length uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := int(addr) + int(length)
	if end > len(d.region) {
		return nil, fmt.Errorf("flashsim: read [%d,%d) exceeds device size %d", addr, end, len(d.region))
	}
	out := make([]byte, length)
	copy(out, d.region[addr:end])
	return out, nil
}

// Sync confirms a previous Write landed by reading the bytes back,
// standing in for the read-back-after-write barrier spec.md Section 5
// requires between every flag write and the next swap step.
func (d *Device) Sync(addr uint32, expect []byte) error {
	got, err := d.Read(addr, uint32(len(expect)))
	if err != nil {
		return err
	}
	for i := range expect {
		if got[i] != expect[i] {
			return fmt.Errorf("flashsim: sync mismatch at 0x%x", addr+uint32(i))
		}
	}
	return nil
}
