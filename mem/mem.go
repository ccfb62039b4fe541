// Package mem provides the block device abstraction backing the SCSI
// logical units: an in-memory disk, a flash disk with a sector cache
// and a FAT volume builder for pre-populated media.
package mem

import (
	"sync"

	"github.com/agilack/cowstick-ums/pkg"
)

// BlockSize is the logical block size exposed to the SCSI layer.
const BlockSize = 512

// Device is a byte-addressable block medium.
type Device interface {
	// BlockSize returns the logical block size in bytes.
	BlockSize() uint32

	// Blocks returns the number of logical blocks.
	Blocks() uint32

	// Read copies up to len(buf) bytes from the given byte
	// address, returning the number of bytes read.
	Read(addr uint32, buf []byte) (int, error)

	// Write stores buf at the given byte address.
	Write(addr uint32, buf []byte) error

	// Sync flushes any cached writes to the medium.
	Sync() error
}

// RAMDisk is an in-memory medium.
type RAMDisk struct {
	mu       sync.RWMutex
	data     []byte
	readOnly bool
}

// NewRAMDisk creates a zeroed in-memory disk with the given number of
// 512-byte blocks.
func NewRAMDisk(blocks int) *RAMDisk {
	return &RAMDisk{data: make([]byte, blocks*BlockSize)}
}

// NewRAMDiskFrom creates an in-memory disk over an existing image. The
// image is used directly, not copied.
func NewRAMDiskFrom(image []byte) *RAMDisk {
	return &RAMDisk{data: image}
}

// BlockSize returns the logical block size.
func (d *RAMDisk) BlockSize() uint32 {
	return BlockSize
}

// Blocks returns the number of logical blocks.
func (d *RAMDisk) Blocks() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return uint32(len(d.data) / BlockSize)
}

// SetReadOnly sets the read-only flag.
func (d *RAMDisk) SetReadOnly(readOnly bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readOnly = readOnly
}

// Read copies bytes out of the disk.
func (d *RAMDisk) Read(addr uint32, buf []byte) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if int(addr) >= len(d.data) {
		return 0, pkg.ErrOutOfRange
	}
	return copy(buf, d.data[addr:]), nil
}

// Write stores bytes into the disk.
func (d *RAMDisk) Write(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.readOnly {
		return pkg.ErrWriteProtected
	}
	if int(addr)+len(buf) > len(d.data) {
		return pkg.ErrOutOfRange
	}
	copy(d.data[addr:], buf)
	return nil
}

// Sync is a no-op for memory storage.
func (d *RAMDisk) Sync() error {
	return nil
}
