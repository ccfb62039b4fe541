package scsi

import (
	"errors"

	"github.com/agilack/cowstick-ums/pkg"
)

// Command processing errors. Both mean the command failed with sense
// data populated, they differ only in whether the command was started.
var (
	// ErrCheckCondition reports a command that failed during
	// processing.
	ErrCheckCondition = errors.New("check condition")

	// ErrRefused reports a command rejected before any processing.
	ErrRefused = errors.New("command refused")
)

// Target decodes SCSI command blocks and produces response data and
// next-phase hints for the transport. Commands spanning multiple data
// chunks are invoked repeatedly with the same CDB, a transaction
// context counter tracks progress until Complete is called.
type Target struct {
	luns []*Lun

	// staging buffer shared by all commands
	data    [BufferSize]byte
	dataLen int

	// per-transaction context: block index for READ and WRITE,
	// byte offset for the buffer commands
	ctx uint32

	sense Sense

	// diagnostic echo buffer
	echo [EchoBufferSize]byte

	// diagnostic memory regions addressed by buffer id
	buffers map[uint8]*Buffer

	// microcode region for WRITE BUFFER download modes
	microcode *Buffer
}

// NewTarget creates a target serving the given logical units.
func NewTarget(luns ...*Lun) *Target {
	t := &Target{
		luns:    luns,
		buffers: make(map[uint8]*Buffer),
	}
	t.Reset()
	return t
}

// Reset clears the transaction context and restores the power-on sense
// content. Invoked at init and on transport reset.
func (t *Target) Reset() {
	t.ctx = 0
	t.sense.Reset()

	pkg.LogDebug(pkg.ComponentSCSI, "reset")
}

// Complete notifies the end of the current command. It clears the
// transaction context.
func (t *Target) Complete() {
	t.ctx = 0
}

// LunCount returns the number of logical units.
func (t *Target) LunCount() int {
	return len(t.luns)
}

// Lun returns the logical unit at the given position, or nil.
func (t *Target) Lun(pos int) *Lun {
	if pos < 0 || pos >= len(t.luns) {
		return nil
	}
	return t.luns[pos]
}

// Response returns the staged response data for the current chunk.
func (t *Target) Response() []byte {
	return t.data[:t.dataLen]
}

// SetResponse stages response data, for use by vendor command
// handlers.
func (t *Target) SetResponse(p []byte) int {
	n := copy(t.data[:], p)
	t.dataLen = n
	return n
}

// FillSpace returns the number of payload bytes the staging buffer can
// still accept for the current OUT chunk.
func (t *Target) FillSpace() int {
	return BufferSize - t.dataLen
}

// Fill appends received payload bytes to the staging buffer and
// returns the number of bytes consumed.
func (t *Target) Fill(p []byte) int {
	n := copy(t.data[t.dataLen:], p)
	t.dataLen += n
	return n
}

// Context returns the transaction context counter.
func (t *Target) Context() uint32 {
	return t.ctx
}

// SetContext stores the transaction context counter, for use by vendor
// command handlers.
func (t *Target) SetContext(v uint32) {
	t.ctx = v
}

// SenseData returns the current sense key, additional sense code and
// qualifier.
func (t *Target) SenseData() (key, asc, ascq uint8) {
	return t.sense.Key, t.sense.ASC, t.sense.ASCQ
}

// RegisterBuffer installs a diagnostic memory region addressed by the
// READ BUFFER buffer id field.
func (t *Target) RegisterBuffer(id uint8, b *Buffer) {
	t.buffers[id] = b
}

// SetMicrocode installs the region written by the WRITE BUFFER
// download modes.
func (t *Target) SetMicrocode(b *Buffer) {
	t.microcode = b
}

// Command decodes and processes one SCSI command block. Some commands
// complete in a single call, others stage one chunk per call and are
// re-invoked by the transport until the transaction is complete.
//
// On error the sense data has been populated and the returned result
// is meaningless. The transport reports the failure through the status
// wrapper, the host retrieves the details with REQUEST SENSE.
func (t *Target) Command(lun int, cb []byte) (Result, error) {
	if len(cb) == 0 {
		t.sense.Set(SenseIllegalRequest, ASCInvalidCommand, 0)
		return 0, ErrCheckCondition
	}

	unit := t.Lun(lun)
	if unit == nil {
		t.sense.Set(SenseIllegalRequest, ASCLunNotSupported, 0)
		return 0, ErrRefused
	}

	group := cb[0] >> 5 & 7

	switch group {
	case 0:
		return t.cmd6(unit, cb)
	case 1, 2:
		return t.cmd10(unit, cb)
	case 4:
		pkg.LogWarn(pkg.ComponentSCSI, "CDB-16 commands not supported",
			"opcode", cb[0])
	case 5:
		pkg.LogWarn(pkg.ComponentSCSI, "CDB-12 commands not supported",
			"opcode", cb[0])
	case 6, 7:
		return t.cmdVendor(unit, cb)
	}

	t.sense.Set(SenseIllegalRequest, ASCInvalidCommand, 0)
	return 0, ErrCheckCondition
}

// cmdVendor delegates a vendor-specific command to the logical unit
// extension, if one is registered.
func (t *Target) cmdVendor(unit *Lun, cb []byte) (Result, error) {
	pkg.LogDebug(pkg.ComponentSCSI, "vendor command",
		"opcode", cb[0], "dataLen", t.dataLen)

	if unit.CmdVendor == nil {
		t.sense.Set(SenseIllegalRequest, ASCInvalidCommand, 0)
		return 0, ErrCheckCondition
	}
	return unit.CmdVendor(t, unit, cb)
}
