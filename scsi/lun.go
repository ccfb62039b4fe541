package scsi

// Lun describes one logical unit: the state of its medium, its
// geometry and the block device callbacks serving it. A Lun is
// allocated at process init and populated by the embedding
// application, the medium may transition between NotPresent and Ready
// at any time between transactions.
type Lun struct {
	// State is the medium state.
	State MediumState

	// Capacity is the number of 512-byte sectors.
	Capacity uint32

	// Writable allows WRITE commands when set.
	Writable bool

	// Perm gates the diagnostic buffer commands.
	Perm Perm

	// Read reads up to len(buf) bytes at the given byte address.
	Read func(addr uint32, buf []byte) (int, error)

	// Write stores buf at the given byte address.
	Write func(addr uint32, buf []byte) error

	// WritePreload, when set, is invoked with the target byte
	// address before the first block of a WRITE command.
	WritePreload func(addr uint32) error

	// WriteComplete, when set, is invoked after the last block of
	// a WRITE command.
	WriteComplete func() error

	// CmdVendor, when set, handles vendor-specific commands
	// (groups 6 and 7). The handler stages data through the
	// target and may use its transaction context.
	CmdVendor func(t *Target, unit *Lun, cb []byte) (Result, error)
}

// Ready reports whether the medium is present.
func (l *Lun) Ready() bool {
	return l.State == MediumReady
}
