package mem

import (
	"bytes"
	"testing"
)

func TestNewFATImage(t *testing.T) {
	img, err := NewFATImage(16384, "COWSTICK", map[string][]byte{
		"README.TXT": []byte("hello\n"),
	})
	if err != nil {
		t.Fatalf("NewFATImage() error = %v", err)
	}

	if len(img) != 16384*BlockSize {
		t.Fatalf("image size = %d, want %d", len(img), 16384*BlockSize)
	}

	// boot sector signature
	if img[510] != 0x55 || img[511] != 0xAA {
		t.Errorf("boot signature = %02X %02X, want 55 AA", img[510], img[511])
	}

	// the OEM name lands in the boot sector
	if !bytes.Contains(img[:BlockSize], []byte("COWSTICK")) {
		t.Error("OEM name missing from boot sector")
	}

	// the file content is somewhere in the data area
	if !bytes.Contains(img, []byte("hello\n")) {
		t.Error("file content missing from image")
	}

	// the image is servable by a RAM disk
	d := NewRAMDiskFrom(img)
	if d.Blocks() != 16384 {
		t.Errorf("Blocks() = %d, want 16384", d.Blocks())
	}
}
