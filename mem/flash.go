package mem

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agilack/cowstick-ums/pkg"
)

// FlashSectorSize is the erase granularity of the supported SPI NOR
// chips.
const FlashSectorSize = 4096

// Flash is the raw erase-before-write chip interface consumed from the
// SPI flash driver.
type Flash interface {
	// Size returns the chip capacity in bytes.
	Size() uint32

	// ReadAt copies len(buf) bytes from the given address.
	ReadAt(addr uint32, buf []byte) error

	// EraseSector erases the sector containing the given address.
	EraseSector(addr uint32) error

	// Program writes p at the given address. The area must have
	// been erased.
	Program(addr uint32, p []byte) error
}

// FlashDisk exposes a raw flash chip as a block device. Writes land in
// per-sector cache buffers, Sync erases and reprograms the dirty
// sectors, flushing them concurrently.
type FlashDisk struct {
	mu    sync.Mutex
	chip  Flash
	dirty map[uint32][]byte
}

// NewFlashDisk creates a block device over a flash chip.
func NewFlashDisk(chip Flash) *FlashDisk {
	return &FlashDisk{
		chip:  chip,
		dirty: make(map[uint32][]byte),
	}
}

// BlockSize returns the logical block size.
func (d *FlashDisk) BlockSize() uint32 {
	return BlockSize
}

// Blocks returns the number of logical blocks.
func (d *FlashDisk) Blocks() uint32 {
	return d.chip.Size() / BlockSize
}

// sector loads the cache buffer covering addr, creating it from the
// chip content on first access.
func (d *FlashDisk) sector(addr uint32) ([]byte, error) {
	base := addr &^ (FlashSectorSize - 1)
	if buf, ok := d.dirty[base]; ok {
		return buf, nil
	}

	buf := make([]byte, FlashSectorSize)
	if err := d.chip.ReadAt(base, buf); err != nil {
		return nil, err
	}
	d.dirty[base] = buf
	return buf, nil
}

// Read copies bytes from the medium, preferring cached sectors.
func (d *FlashDisk) Read(addr uint32, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if addr >= d.chip.Size() {
		return 0, pkg.ErrOutOfRange
	}

	n := len(buf)
	if max := int(d.chip.Size() - addr); n > max {
		n = max
	}

	for off := 0; off < n; {
		base := (addr + uint32(off)) &^ (FlashSectorSize - 1)
		in := addr + uint32(off) - base

		chunk := int(FlashSectorSize - in)
		if chunk > n-off {
			chunk = n - off
		}

		if cached, ok := d.dirty[base]; ok {
			copy(buf[off:off+chunk], cached[in:])
		} else if err := d.chip.ReadAt(addr+uint32(off), buf[off:off+chunk]); err != nil {
			return off, err
		}
		off += chunk
	}

	return n, nil
}

// Write stores bytes into the sector cache. The chip is not touched
// until Sync runs.
func (d *FlashDisk) Write(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(addr)+len(buf) > int(d.chip.Size()) {
		return pkg.ErrOutOfRange
	}

	for off := 0; off < len(buf); {
		base := (addr + uint32(off)) &^ (FlashSectorSize - 1)
		in := addr + uint32(off) - base

		sec, err := d.sector(base)
		if err != nil {
			return err
		}

		chunk := int(FlashSectorSize - in)
		if chunk > len(buf)-off {
			chunk = len(buf) - off
		}
		copy(sec[in:], buf[off:off+chunk])
		off += chunk
	}

	return nil
}

// Sync erases and reprograms every dirty sector. Sectors flush
// concurrently; every flush runs to its end and the first error is
// returned.
func (d *FlashDisk) Sync() error {
	d.mu.Lock()
	dirty := d.dirty
	d.dirty = make(map[uint32][]byte)
	d.mu.Unlock()

	if len(dirty) == 0 {
		return nil
	}

	pkg.LogDebug(pkg.ComponentMem, "flushing sectors", "count", len(dirty))

	eg := &errgroup.Group{}

	for base, buf := range dirty {
		base, buf := base, buf

		eg.Go(func() error {
			if err := d.chip.EraseSector(base); err != nil {
				return err
			}
			return d.chip.Program(base, buf)
		})
	}

	return eg.Wait()
}

// SimFlash is an in-memory flash chip model: erase fills a sector with
// 0xFF, programming clears bits.
type SimFlash struct {
	mu   sync.Mutex
	data []byte
}

// NewSimFlash creates a chip model of the given size, fully erased.
func NewSimFlash(size int) *SimFlash {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &SimFlash{data: data}
}

// Size returns the chip capacity.
func (f *SimFlash) Size() uint32 {
	return uint32(len(f.data))
}

// ReadAt copies bytes from the chip.
func (f *SimFlash) ReadAt(addr uint32, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if int(addr)+len(buf) > len(f.data) {
		return pkg.ErrOutOfRange
	}
	copy(buf, f.data[addr:])
	return nil
}

// EraseSector fills the sector containing addr with 0xFF.
func (f *SimFlash) EraseSector(addr uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	base := addr &^ (FlashSectorSize - 1)
	if int(base)+FlashSectorSize > len(f.data) {
		return pkg.ErrOutOfRange
	}
	for i := 0; i < FlashSectorSize; i++ {
		f.data[base+uint32(i)] = 0xFF
	}
	return nil
}

// Program clears bits at addr, modelling NOR programming.
func (f *SimFlash) Program(addr uint32, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if int(addr)+len(p) > len(f.data) {
		return pkg.ErrOutOfRange
	}
	for i, b := range p {
		f.data[addr+uint32(i)] &= b
	}
	return nil
}
