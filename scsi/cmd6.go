package scsi

import "github.com/agilack/cowstick-ums/pkg"

// inquiryStd is the 36-byte standard INQUIRY data: direct access block
// device, removable medium, SPC response format, T10 vendor AGILACK.
var inquiryStd = [36]byte{
	0x00, 0x80, 0x02, 0x02, 32, 0x01, 0x00, 0x00,
	// T10 Vendor identification
	'A', 'G', 'I', 'L', 'A', 'C', 'K', ' ',
	// Product identification
	'C', 'o', 'w', 's', 't', 'i', 'c', 'k',
	'-', 'U', 'M', 'S', ' ', ' ', ' ', ' ',
	// Product Revision Label
	'd', 'e', 'v', '0',
}

// vpdPages is VPD page 0x00: the supported pages list.
var vpdPages = [7]byte{0, 0x00, 0x00, 3, 0x00, 0x80, 0x83}

// vpdSerial is VPD page 0x80: Unit Serial Number.
var vpdSerial = [20]byte{
	0, 0x80, 0x00, 16,
	'7', '0', 'B', '3', 'D', '5', '4', 'C',
	'E', '8', '0', '1', '0', '0', '0', '0',
}

// vpdIdent is VPD page 0x83: Device Identification, carrying a T10
// vendor id descriptor and an EUI-64 descriptor.
var vpdIdent = [28]byte{
	0, 0x83, 0x00, 24,
	// T10 vendor id identifier
	0x02, 0x01, 0x00, 0x08, 'A', 'G', 'I', 'L', 'A', 'C', 'K', 0x00,
	// EUI-64
	0x01, 0x02, 0x00, 0x08, 0x70, 0xB3, 0xD5, 0x4C, 0xE8, 0x01, 0x00, 0x00,
}

// cachePage is the caching mode page returned by MODE SENSE.
var cachePage = [20]byte{0x08, 0x12}

// controlPage is the control mode page template returned by MODE
// SENSE. Byte 4 carries the SWP bit, cleared when the unit is
// writable.
var controlPage = [12]byte{0x0A, 0x0A, 0x00, 0x00, 0x08, 0x00, 0x00}

// cmd6 decodes and dispatches a six-byte command.
func (t *Target) cmd6(unit *Lun, cb []byte) (Result, error) {
	if len(cb) < 6 {
		t.sense.Set(SenseIllegalRequest, ASCInvalidCommand, 0)
		return 0, ErrCheckCondition
	}

	switch cb[0] {
	case CmdTestUnitReady:
		return t.testUnitReady(unit)
	case CmdRequestSense:
		return t.requestSense()
	case CmdInquiry:
		return t.inquiry(cb)
	case CmdModeSense6:
		return t.modeSense(unit, cb)
	case CmdStartStopUnit:
		pkg.LogDebug(pkg.ComponentSCSI, "start/stop unit",
			"power", cb[3], "flags", cb[4])
		return Done, nil
	case CmdPreventAllowMediumRemoval:
		pkg.LogDebug(pkg.ComponentSCSI, "prevent/allow medium removal",
			"prevent", cb[4]&1)
		return Done, nil
	}

	pkg.LogWarn(pkg.ComponentSCSI, "unknown CMD6 opcode", "opcode", cb[0])
	t.sense.Set(SenseIllegalRequest, ASCInvalidCommand, 0)
	return 0, ErrCheckCondition
}

// testUnitReady reports whether the logical unit is ready to accept
// medium access commands (SPC-4 6.47).
func (t *Target) testUnitReady(unit *Lun) (Result, error) {
	if !unit.Ready() {
		t.sense.Set(SenseNotReady, ASCMediumNotPresent, 0)
		return 0, ErrRefused
	}
	return Done, nil
}

// requestSense transfers the current sense data, then clears it
// (SPC-4 6.39).
func (t *Target) requestSense() (Result, error) {
	pkg.LogDebug(pkg.ComponentSCSI, "request sense",
		"key", t.sense.Key, "asc", t.sense.ASC, "ascq", t.sense.ASCQ)

	t.dataLen = t.sense.MarshalTo(t.data[:])
	t.sense.Clear()

	return DataIn, nil
}

// inquiry returns the standard INQUIRY data, or one of the vital
// product data pages when the EVPD bit is set (SPC-4 6.6).
func (t *Target) inquiry(cb []byte) (Result, error) {
	pkg.LogDebug(pkg.ComponentSCSI, "inquiry",
		"evpd", cb[1], "page", cb[2])

	switch {
	case cb[1]&0xFE != 0:
		// reserved bits set
		t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return 0, ErrCheckCondition

	case cb[1]&1 != 0:
		switch cb[2] {
		case 0x00:
			t.dataLen = copy(t.data[:], vpdPages[:])
		case 0x80:
			t.dataLen = copy(t.data[:], vpdSerial[:])
		case 0x83:
			t.dataLen = copy(t.data[:], vpdIdent[:])
		default:
			pkg.LogWarn(pkg.ComponentSCSI, "unknown VPD page",
				"page", cb[2])
			t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
			return 0, ErrCheckCondition
		}

	default:
		t.dataLen = copy(t.data[:], inquiryStd[:])
	}

	return DataIn, nil
}

// modeSense returns the mode parameter header followed by the caching
// and control mode pages (SPC-4 6.11). The write protect bits reflect
// the unit state.
func (t *Target) modeSense(unit *Lun, cb []byte) (Result, error) {
	pkg.LogDebug(pkg.ComponentSCSI, "mode sense",
		"dbd", cb[1], "page", cb[2], "length", cb[4])

	// header: length, medium type, device-specific parameter,
	// block descriptor length
	t.data[0] = 0
	t.data[1] = 0
	t.data[2] = 0
	t.data[3] = 0
	n := 4

	n += copy(t.data[n:], cachePage[:])

	ctrl := controlPage
	if unit.Writable {
		ctrl[4] &^= 1 << 3 // clear SWP
	} else {
		t.data[2] |= 0x80 // WP
		ctrl[4] |= 1 << 3 // SWP
	}
	n += copy(t.data[n:], ctrl[:])

	t.data[0] = uint8(n - 1)
	t.dataLen = n

	return DataIn, nil
}
