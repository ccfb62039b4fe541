package msc

// USB Mass Storage Class codes.
const (
	ClassMSC         = 0x08 // Mass Storage Class
	SubclassSCSI     = 0x06 // SCSI Transparent Command Set
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport (BBB)
)

// Bulk-Only Transport class-specific request codes (p7, 3.1 - 3.2,
// USB Mass Storage Class Bulk-Only Transport 1.0).
const (
	RequestGetMaxLUN     = 0xFE // Returns the highest LUN id
	RequestBulkOnlyReset = 0xFF // Reset Recovery entry point
)

// Command Block Wrapper constants.
const (
	CBWSignature   = 0x43425355 // "USBC"
	CBWSize        = 31         // Fixed CBW size in bytes
	CBWFlagDataIn  = 0x80       // Data phase direction: device to host
	CBWCBMinLength = 1          // Smallest command block
	CBWCBMaxLength = 16         // Largest command block
)

// Command Status Wrapper constants.
const (
	CSWSignature        = 0x53425355 // "USBS"
	CSWSize             = 13         // Fixed CSW size in bytes
	CSWStatusGood       = 0x00       // Command passed
	CSWStatusFailed     = 0x01       // Command failed
	CSWStatusPhaseError = 0x02       // Phase error
)

// Bulk endpoint assignment: EP1 carries the IN pipe (0x81), EP2 the
// OUT pipe (0x02).
const (
	BulkInEP  = 1
	BulkOutEP = 2

	BulkInAddr  = 0x81
	BulkOutAddr = 0x02
)

// Transport phases.
const (
	phaseCBW     uint32 = iota // waiting for a command wrapper
	phaseDataIn                // transmitting payload chunks
	phaseDataOut               // receiving payload chunks
	phaseCSW                   // sending the status wrapper
	phaseError                 // stalled, waiting for recovery
)
