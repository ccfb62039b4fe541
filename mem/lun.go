package mem

import "github.com/agilack/cowstick-ums/scsi"

// NewLun wires a block device into a SCSI logical unit. The unit
// starts with its medium not present, the embedding application flips
// the state once the medium is usable.
func NewLun(dev Device, writable bool) *scsi.Lun {
	return &scsi.Lun{
		State:    scsi.MediumNotPresent,
		Capacity: dev.Blocks(),
		Writable: writable,
		Read: func(addr uint32, buf []byte) (int, error) {
			return dev.Read(addr, buf)
		},
		Write: func(addr uint32, buf []byte) error {
			return dev.Write(addr, buf)
		},
		WriteComplete: dev.Sync,
	}
}
