// Package blobfs stands in for the SD/eMMC + FAT filesystem abstraction
// of spec.md Section 6 ("richer platforms only"): open a named file and
// hand back a zero-copy view of its bytes. Real firmware uses
// open_volume/open_root_dir/open_file/read_multi against a FAT driver;
// the host simulator just needs the resulting bytes, so it memory-maps
// the file directly, the way the teacher's BootImg reads mmap.MMap views
// of boot images.
package blobfs

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Blob is a read-only, memory-mapped view of a file's contents.
type Blob struct {
	file   *os.File
	region mmap.MMap
}

// Open loads name from dir and maps it read-only. Open applies no default
// name; the board descriptor supplies "SIGNED~1.ITB" when unset.
func Open(dir, name string) (*Blob, error) {
	path := dir + string(os.PathSeparator) + name
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blobfs: open %s: %w", path, err)
	}
	region, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blobfs: mmap %s: %w", path, err)
	}
	return &Blob{file: f, region: region}, nil
}

// Bytes returns the mapped content. The slice is only valid until Close.
func (b *Blob) Bytes() []byte {
	return b.region
}

// Close unmaps and closes the file.
func (b *Blob) Close() error {
	if err := b.region.Unmap(); err != nil {
		return err
	}
	return b.file.Close()
}
