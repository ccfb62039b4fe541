package msc

import "encoding/binary"

// CBW is the 31-byte Command Block Wrapper framing every transport
// transaction (p13, 5.1, USB Mass Storage Class Bulk-Only Transport
// 1.0). All header fields are little-endian, the embedded command
// block uses SCSI byte order.
type CBW struct {
	Signature          uint32   // Must be CBWSignature
	Tag                uint32   // Host-chosen transaction id
	DataTransferLength uint32   // Bytes the host expects to transfer
	Flags              uint8    // Bit 7: direction, 1 = IN
	LUN                uint8    // Logical unit (bits 0-3)
	CBLength           uint8    // Command block length (1-16)
	CB                 [16]byte // SCSI command descriptor block
}

// ParseCBW decodes a Command Block Wrapper from raw bytes. It returns
// false when the packet is not a valid CBW: wrong size, bad signature
// or a command block length outside 1 to 16.
func ParseCBW(data []byte, out *CBW) bool {
	if len(data) != CBWSize {
		return false
	}

	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	if out.Signature != CBWSignature {
		return false
	}

	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataTransferLength = binary.LittleEndian.Uint32(data[8:12])
	out.Flags = data[12]
	out.LUN = data[13] & 0x0F
	out.CBLength = data[14] & 0x1F
	copy(out.CB[:], data[15:31])

	if out.CBLength < CBWCBMinLength || out.CBLength > CBWCBMaxLength {
		return false
	}
	return true
}

// IsDataIn reports whether the data phase runs device to host.
func (cbw *CBW) IsDataIn() bool {
	return cbw.Flags&CBWFlagDataIn != 0
}

// CSW is the 13-byte Command Status Wrapper completing a transaction
// (p14, 5.2, USB Mass Storage Class Bulk-Only Transport 1.0).
type CSW struct {
	Signature   uint32 // Must be CSWSignature
	Tag         uint32 // Echoes the CBW tag
	DataResidue uint32 // Expected minus transferred bytes
	Status      uint8  // CSWStatus value
}

// MarshalTo writes the Command Status Wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (csw *CSW) MarshalTo(buf []byte) int {
	if len(buf) < CSWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], csw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], csw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], csw.DataResidue)
	buf[12] = csw.Status

	return CSWSize
}
