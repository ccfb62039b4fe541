package scsi

// SCSI operation codes, grouped by CDB length. Bits 7:5 of the opcode
// encode the group: 0 for 6-byte, 1 and 2 for 10-byte, 4 for 16-byte,
// 5 for 12-byte, 6 and 7 for vendor commands.
const (
	CmdTestUnitReady             = 0x00 // Test if unit is ready
	CmdRequestSense              = 0x03 // Request sense data
	CmdInquiry                   = 0x12 // Get device information
	CmdModeSense6                = 0x1A // Get mode parameters (6-byte)
	CmdStartStopUnit             = 0x1B // Start/stop unit
	CmdPreventAllowMediumRemoval = 0x1E // Prevent/allow medium removal
	CmdReadFormatCapacities      = 0x23 // Read format capacities
	CmdReadCapacity10            = 0x25 // Read capacity (10-byte)
	CmdRead10                    = 0x28 // Read blocks (10-byte)
	CmdWrite10                   = 0x2A // Write blocks (10-byte)
	CmdWriteBuffer               = 0x3B // Diagnostic buffer write
	CmdReadBuffer                = 0x3C // Diagnostic buffer read
)

// SCSI sense keys.
const (
	SenseNoSense        = 0x00 // No error
	SenseNotReady       = 0x02 // Device not ready
	SenseMediumError    = 0x03 // Medium error
	SenseHardwareError  = 0x04 // Hardware error
	SenseIllegalRequest = 0x05 // Illegal request
	SenseUnitAttention  = 0x06 // Unit attention
	SenseDataProtect    = 0x07 // Data protect
)

// Additional Sense Codes (ASC).
const (
	ASCNoAdditionalInfo  = 0x00 // No additional sense information
	ASCNoIndex           = 0x01 // No index/logical block signal
	ASCWriteError        = 0x0C // Write error
	ASCInvalidCommand    = 0x20 // Invalid command operation code
	ASCLBAOutOfRange     = 0x21 // Logical block address out of range
	ASCInvalidFieldInCDB = 0x24 // Invalid field in CDB
	ASCLunNotSupported   = 0x25 // Logical unit not supported
	ASCWriteProtected    = 0x27 // Write protected
	ASCMediumNotPresent  = 0x3A // Medium not present
)

// BlockSize is the logical block size in bytes. All LUNs expose
// 512-byte sectors.
const BlockSize = 512

// BufferSize is the size of the staging buffer shared by all commands.
// Payloads larger than one block are transferred in multiple calls.
const BufferSize = 512

// EchoBufferSize is the size of the diagnostic echo buffer.
const EchoBufferSize = 1024

// READ BUFFER and WRITE BUFFER modes.
const (
	BufferModeData       = 0x02 // Read raw buffer data
	BufferModeDescriptor = 0x03 // Read buffer descriptor header
	BufferModeDownload   = 0x04 // Microcode download
	BufferModeDownloadSv = 0x05 // Microcode download and save
	BufferModeEcho       = 0x0A // Echo buffer access
)

// Perm is the LUN permission bitmask gating diagnostic commands.
type Perm uint32

// LUN permissions.
const (
	PermReadBuffer Perm = 1 << iota // READ BUFFER allowed
	PermWriteBuffer                 // WRITE BUFFER allowed
)

// MediumState is the state of the medium behind a LUN.
type MediumState uint32

// Medium states. The medium may move between them at any time between
// transactions.
const (
	MediumNotPresent MediumState = iota
	MediumReady
)

// Result describes the outcome of a successful command invocation and
// the data phase it expects next.
type Result int

// Command results.
const (
	// Done means the command completed with no further data phase.
	Done Result = iota

	// DataIn means response data is staged, last chunk.
	DataIn

	// DataInMore means response data is staged and more chunks
	// follow: invoke the command again after transmitting.
	DataInMore

	// DataOutMore means the command expects payload data, more
	// chunks follow.
	DataOutMore

	// DataOutLast means the command expects payload data, last
	// chunk.
	DataOutLast
)

// String returns a human-readable result name.
func (r Result) String() string {
	switch r {
	case Done:
		return "done"
	case DataIn:
		return "data-in"
	case DataInMore:
		return "data-in-more"
	case DataOutMore:
		return "data-out-more"
	case DataOutLast:
		return "data-out-last"
	default:
		return "unknown"
	}
}
