// Command cowstick-ums runs the mass-storage firmware core against the
// software controller model and drives it from the host side of the
// simulated bus: enumeration, capacity discovery and a first block
// read, logging the exchange.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/agilack/cowstick-ums/app"
	"github.com/agilack/cowstick-ums/device"
	"github.com/agilack/cowstick-ums/device/class/msc"
	"github.com/agilack/cowstick-ums/hal/simg0"
	"github.com/agilack/cowstick-ums/mem"
	"github.com/agilack/cowstick-ums/pkg"
	"github.com/agilack/cowstick-ums/scsi"
)

const readme = `This volume is served by the cowstick-ums firmware core.
`

func main() {
	var (
		blocks   = flag.Int("blocks", 16384, "medium size in 512-byte blocks")
		image    = flag.String("image", "", "disk image file backing the medium")
		label    = flag.String("label", "COWSTICK", "FAT volume label (empty for a blank medium)")
		readOnly = flag.Bool("ro", false, "expose the medium read-only")
		debug    = flag.Bool("debug", false, "enable debug logging")
		jsonLog  = flag.Bool("json", false, "log in JSON format")
	)
	flag.Parse()

	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}
	if *debug {
		pkg.SetLogLevel(slog.LevelDebug)
	}

	disk, err := buildDisk(*blocks, *image, *label)
	if err != nil {
		log.Fatalf("medium setup failed: %v", err)
	}

	lun := mem.NewLun(disk, !*readOnly)
	target := scsi.NewTarget(lun)

	ctrl := simg0.New()
	dev := device.New(ctrl)

	if _, err := msc.New(dev, target); err != nil {
		log.Fatalf("class driver setup failed: %v", err)
	}

	hooks := &app.Hooks{}
	dev.SetResetHook(hooks.RunReset)
	hooks.RunInit()

	host := simg0.NewHost(ctrl)
	host.Pump = func() {
		for ctrl.Pending() {
			dev.Interrupt()
		}
		dev.Periodic()
		hooks.RunPeriodic()
	}

	dev.Start()

	// mark the medium as inserted before the host shows up
	lun.State = scsi.MediumReady

	if err := run(host, dev); err != nil {
		log.Fatalf("bus exchange failed: %v", err)
	}
}

// buildDisk prepares the medium: a file image when given, otherwise a
// RAM disk, FAT-formatted unless the label is empty.
func buildDisk(blocks int, image, label string) (mem.Device, error) {
	if image != "" {
		data, err := os.ReadFile(image)
		if err != nil {
			return nil, err
		}
		return mem.NewRAMDiskFrom(data), nil
	}

	if label == "" {
		return mem.NewRAMDisk(blocks), nil
	}

	data, err := mem.NewFATImage(blocks, label, map[string][]byte{
		"README.TXT": []byte(readme),
	})
	if err != nil {
		return nil, err
	}
	return mem.NewRAMDiskFrom(data), nil
}

// run performs the host-side exchange: enumeration followed by a small
// SCSI conversation.
func run(host *simg0.Host, dev *device.Device) error {
	host.BusReset()

	desc, err := host.ControlIn([8]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 18, 0x00})
	if err != nil {
		return fmt.Errorf("GET_DESCRIPTOR: %w", err)
	}
	vid := binary.LittleEndian.Uint16(desc[8:10])
	pid := binary.LittleEndian.Uint16(desc[10:12])
	fmt.Printf("device descriptor: VID=%04x PID=%04x\n", vid, pid)

	if err := host.ControlOut([8]byte{0x00, 0x05, 42, 0x00, 0x00, 0x00, 0x00, 0x00}, nil); err != nil {
		return fmt.Errorf("SET_ADDRESS: %w", err)
	}
	fmt.Printf("address: %d, state: %s\n", host.Address(), dev.State())

	if err := host.ControlOut([8]byte{0x00, 0x09, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}, nil); err != nil {
		return fmt.Errorf("SET_CONFIGURATION: %w", err)
	}
	fmt.Printf("state: %s\n", dev.State())

	maxLun, err := host.ControlIn([8]byte{0xA1, 0xFE, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00})
	if err != nil {
		return fmt.Errorf("GET_MAX_LUN: %w", err)
	}
	fmt.Printf("max LUN: %d\n", maxLun[0])

	capData, err := command(host, 1, [16]byte{0x25}, 10, 8, true)
	if err != nil {
		return fmt.Errorf("READ_CAPACITY: %w", err)
	}
	lastLBA := binary.BigEndian.Uint32(capData[0:4])
	blockLen := binary.BigEndian.Uint32(capData[4:8])
	fmt.Printf("capacity: %d blocks of %d bytes\n", lastLBA+1, blockLen)

	cb := [16]byte{0x28, 0, 0, 0, 0, 0, 0, 0, 1, 0}
	block, err := command(host, 2, cb, 10, 512, true)
	if err != nil {
		return fmt.Errorf("READ(10): %w", err)
	}
	fmt.Printf("block 0: % x ... boot signature % x\n", block[:16], block[510:512])

	return nil
}

// command runs one Bulk-Only transaction: CBW, IN data phase, CSW.
func command(host *simg0.Host, tag uint32, cb [16]byte, cbLen int, dataLen int, in bool) ([]byte, error) {
	cbw := make([]byte, 31)
	binary.LittleEndian.PutUint32(cbw[0:4], 0x43425355)
	binary.LittleEndian.PutUint32(cbw[4:8], tag)
	binary.LittleEndian.PutUint32(cbw[8:12], uint32(dataLen))
	if in {
		cbw[12] = 0x80
	}
	cbw[14] = uint8(cbLen)
	copy(cbw[15:31], cb[:])

	if err := host.BulkOut(2, cbw); err != nil {
		return nil, err
	}

	var data []byte
	var err error
	if dataLen > 0 && in {
		data, err = host.BulkIn(1, dataLen)
		if err != nil {
			return data, err
		}
	}

	csw, err := host.BulkIn(1, 13)
	if err != nil {
		return data, err
	}
	if len(csw) != 13 || csw[12] != 0 {
		return data, fmt.Errorf("command failed, CSW % x", csw)
	}
	return data, nil
}
