package scsi

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// testDisk is a minimal in-memory medium for exercising READ and
// WRITE.
type testDisk struct {
	data []byte
}

func newTestTarget(blocks int) (*Target, *testDisk) {
	disk := &testDisk{data: make([]byte, blocks*BlockSize)}

	lun := &Lun{
		State:    MediumReady,
		Capacity: uint32(blocks),
		Writable: true,
		Read: func(addr uint32, buf []byte) (int, error) {
			return copy(buf, disk.data[addr:]), nil
		},
		Write: func(addr uint32, buf []byte) error {
			copy(disk.data[addr:], buf)
			return nil
		},
	}

	return NewTarget(lun), disk
}

func TestTestUnitReady(t *testing.T) {
	target, _ := newTestTarget(16)

	result, err := target.Command(0, []byte{CmdTestUnitReady, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if result != Done {
		t.Errorf("result = %v, want %v", result, Done)
	}

	target.Lun(0).State = MediumNotPresent
	_, err = target.Command(0, []byte{CmdTestUnitReady, 0, 0, 0, 0, 0})
	if err != ErrRefused {
		t.Fatalf("Command() error = %v, want %v", err, ErrRefused)
	}

	key, asc, _ := target.SenseData()
	if key != SenseNotReady || asc != ASCMediumNotPresent {
		t.Errorf("sense = %02X/%02X, want %02X/%02X",
			key, asc, SenseNotReady, ASCMediumNotPresent)
	}
}

func TestRequestSenseLifecycle(t *testing.T) {
	target, _ := newTestTarget(16)
	target.Lun(0).State = MediumNotPresent

	// provoke an error so sense data is populated
	if _, err := target.Command(0, []byte{CmdTestUnitReady, 0, 0, 0, 0, 0}); err == nil {
		t.Fatal("expected TEST UNIT READY to fail")
	}
	target.Complete()

	result, err := target.Command(0, []byte{CmdRequestSense, 0, 0, 0, 18, 0})
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if result != DataIn {
		t.Errorf("result = %v, want %v", result, DataIn)
	}

	sense := target.Response()
	if len(sense) != SenseSize {
		t.Fatalf("sense length = %d, want %d", len(sense), SenseSize)
	}
	if sense[0] != 0x70 {
		t.Errorf("response code = %02X, want 70", sense[0])
	}
	if sense[2]&0x0F != SenseNotReady {
		t.Errorf("sense key = %02X, want %02X", sense[2]&0x0F, SenseNotReady)
	}
	if sense[7] != 10 {
		t.Errorf("additional length = %d, want 10", sense[7])
	}
	if sense[12] != ASCMediumNotPresent {
		t.Errorf("ASC = %02X, want %02X", sense[12], ASCMediumNotPresent)
	}
	target.Complete()

	// a second REQUEST SENSE reports no error
	if _, err := target.Command(0, []byte{CmdRequestSense, 0, 0, 0, 18, 0}); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	sense = target.Response()
	if sense[2]&0x0F != 0 || sense[12] != 0 || sense[13] != 0 {
		t.Errorf("sense not cleared: key=%02X asc=%02X ascq=%02X",
			sense[2]&0x0F, sense[12], sense[13])
	}
}

func TestInquiryStandard(t *testing.T) {
	target, _ := newTestTarget(16)

	result, err := target.Command(0, []byte{CmdInquiry, 0, 0, 0, 36, 0})
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if result != DataIn {
		t.Errorf("result = %v, want %v", result, DataIn)
	}

	data := target.Response()
	if len(data) != 36 {
		t.Fatalf("INQUIRY length = %d, want 36", len(data))
	}
	if data[0] != 0x00 {
		t.Errorf("peripheral device type = %02X, want 00", data[0])
	}
	if data[1] != 0x80 {
		t.Errorf("RMB byte = %02X, want 80", data[1])
	}
	if data[4] != 32 {
		t.Errorf("additional length = %d, want 32", data[4])
	}
	if !bytes.Equal(data[8:16], []byte("AGILACK ")) {
		t.Errorf("vendor id = %q, want %q", data[8:16], "AGILACK ")
	}
	if !bytes.Equal(data[16:28], []byte("Cowstick-UMS")) {
		t.Errorf("product id = %q", data[16:28])
	}
}

func TestInquiryVPD(t *testing.T) {
	tests := []struct {
		name    string
		page    uint8
		length  int
		wantErr bool
	}{
		{"supported pages", 0x00, 7, false},
		{"serial number", 0x80, 20, false},
		{"device identification", 0x83, 28, false},
		{"unknown page", 0x42, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, _ := newTestTarget(16)

			_, err := target.Command(0, []byte{CmdInquiry, 0x01, tt.page, 0, 0xFF, 0})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Command() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				key, asc, _ := target.SenseData()
				if key != SenseIllegalRequest || asc != ASCInvalidFieldInCDB {
					t.Errorf("sense = %02X/%02X, want %02X/%02X",
						key, asc, SenseIllegalRequest, ASCInvalidFieldInCDB)
				}
				return
			}

			data := target.Response()
			if len(data) != tt.length {
				t.Fatalf("page length = %d, want %d", len(data), tt.length)
			}
			if data[1] != tt.page {
				t.Errorf("page code = %02X, want %02X", data[1], tt.page)
			}
		})
	}
}

func TestInquiryReservedBits(t *testing.T) {
	target, _ := newTestTarget(16)

	if _, err := target.Command(0, []byte{CmdInquiry, 0x02, 0, 0, 36, 0}); err == nil {
		t.Fatal("expected INQUIRY with reserved bits to fail")
	}
	key, asc, _ := target.SenseData()
	if key != SenseIllegalRequest || asc != ASCInvalidFieldInCDB {
		t.Errorf("sense = %02X/%02X", key, asc)
	}
}

func TestVPDSupportedPagesList(t *testing.T) {
	target, _ := newTestTarget(16)

	if _, err := target.Command(0, []byte{CmdInquiry, 0x01, 0x00, 0, 0xFF, 0}); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	data := target.Response()
	want := []byte{0, 0x00, 0x00, 3, 0x00, 0x80, 0x83}
	if !bytes.Equal(data, want) {
		t.Errorf("page 00 = % X, want % X", data, want)
	}
}

func TestModeSense(t *testing.T) {
	tests := []struct {
		name     string
		writable bool
		wantWP   uint8
		wantSWP  uint8
	}{
		{"writable", true, 0x00, 0x00},
		{"read-only", false, 0x80, 0x08},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, _ := newTestTarget(16)
			target.Lun(0).Writable = tt.writable

			result, err := target.Command(0, []byte{CmdModeSense6, 0, 0x3F, 0, 0xFF, 0})
			if err != nil {
				t.Fatalf("Command() error = %v", err)
			}
			if result != DataIn {
				t.Errorf("result = %v, want %v", result, DataIn)
			}

			data := target.Response()
			if len(data) != 36 {
				t.Fatalf("mode data length = %d, want 36", len(data))
			}
			if data[0] != 35 {
				t.Errorf("mode data length field = %d, want 35", data[0])
			}
			if data[1] != 0 || data[3] != 0 {
				t.Errorf("medium type/block descriptor = %02X/%02X, want 00/00",
					data[1], data[3])
			}
			if data[2] != tt.wantWP {
				t.Errorf("device-specific parameter = %02X, want %02X",
					data[2], tt.wantWP)
			}
			if data[4] != 0x08 || data[5] != 0x12 {
				t.Errorf("caching page header = %02X %02X", data[4], data[5])
			}
			if data[24] != 0x0A || data[25] != 0x0A {
				t.Errorf("control page header = %02X %02X", data[24], data[25])
			}
			if data[28]&0x08 != tt.wantSWP {
				t.Errorf("SWP bit = %02X, want %02X", data[28]&0x08, tt.wantSWP)
			}
		})
	}
}

func TestReadCapacity(t *testing.T) {
	target, _ := newTestTarget(64)

	result, err := target.Command(0, []byte{CmdReadCapacity10, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if result != DataIn {
		t.Errorf("result = %v, want %v", result, DataIn)
	}

	data := target.Response()
	if len(data) != 8 {
		t.Fatalf("response length = %d, want 8", len(data))
	}
	if lba := binary.BigEndian.Uint32(data[0:4]); lba != 63 {
		t.Errorf("highest LBA = %d, want 63", lba)
	}
	if bl := binary.BigEndian.Uint32(data[4:8]); bl != 512 {
		t.Errorf("block length = %d, want 512", bl)
	}
}

func TestReadFormatCapacities(t *testing.T) {
	target, _ := newTestTarget(64)

	if _, err := target.Command(0, []byte{CmdReadFormatCapacities, 0, 0, 0, 0, 0, 0, 0, 12, 0}); err != nil {
		t.Fatalf("Command() error = %v", err)
	}

	data := target.Response()
	if len(data) != 12 {
		t.Fatalf("response length = %d, want 12", len(data))
	}
	if data[3] != 8 {
		t.Errorf("capacity list length = %d, want 8", data[3])
	}
	if blocks := binary.BigEndian.Uint32(data[4:8]); blocks != 64 {
		t.Errorf("block count = %d, want 64", blocks)
	}
	if desc := binary.BigEndian.Uint32(data[8:12]); desc != 0x02<<24|512 {
		t.Errorf("descriptor = %08X, want %08X", desc, uint32(0x02<<24|512))
	}
}

func TestRead10Chunking(t *testing.T) {
	target, disk := newTestTarget(16)

	for i := range disk.data[:2*BlockSize] {
		disk.data[i] = byte(i)
	}

	// two blocks starting at LBA 0
	cb := []byte{CmdRead10, 0, 0, 0, 0, 0, 0, 0, 2, 0}

	result, err := target.Command(0, cb)
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if result != DataInMore {
		t.Fatalf("first result = %v, want %v", result, DataInMore)
	}
	if !bytes.Equal(target.Response(), disk.data[:BlockSize]) {
		t.Error("first block content mismatch")
	}

	result, err = target.Command(0, cb)
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if result != DataIn {
		t.Fatalf("second result = %v, want %v", result, DataIn)
	}
	if !bytes.Equal(target.Response(), disk.data[BlockSize:2*BlockSize]) {
		t.Error("second block content mismatch")
	}

	target.Complete()
	if target.Context() != 0 {
		t.Errorf("context = %d after Complete, want 0", target.Context())
	}
}

func TestRead10AtOffset(t *testing.T) {
	target, disk := newTestTarget(16)
	disk.data[5*BlockSize] = 0xAB

	cb := []byte{CmdRead10, 0, 0, 0, 0, 5, 0, 0, 1, 0}
	result, err := target.Command(0, cb)
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if result != DataIn {
		t.Errorf("result = %v, want %v", result, DataIn)
	}
	if target.Response()[0] != 0xAB {
		t.Errorf("block 5 byte 0 = %02X, want AB", target.Response()[0])
	}
}

func TestWrite10(t *testing.T) {
	target, disk := newTestTarget(16)

	var preloads, completes int
	unit := target.Lun(0)
	unit.WritePreload = func(addr uint32) error {
		preloads++
		if addr != 3*BlockSize {
			t.Errorf("preload addr = %d, want %d", addr, 3*BlockSize)
		}
		return nil
	}
	unit.WriteComplete = func() error {
		completes++
		return nil
	}

	// two blocks starting at LBA 3
	cb := []byte{CmdWrite10, 0, 0, 0, 0, 3, 0, 0, 2, 0}

	result, err := target.Command(0, cb)
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if result != DataOutMore {
		t.Fatalf("first result = %v, want %v", result, DataOutMore)
	}

	block := make([]byte, BlockSize)
	for i := range block {
		block[i] = 0x11
	}
	target.Fill(block)

	if result, err = target.Command(0, cb); err != nil || result != DataOutMore {
		t.Fatalf("second call = %v, %v", result, err)
	}

	for i := range block {
		block[i] = 0x22
	}
	target.Fill(block)

	if result, err = target.Command(0, cb); err != nil || result != Done {
		t.Fatalf("final call = %v, %v", result, err)
	}

	if preloads != 1 || completes != 1 {
		t.Errorf("preloads = %d, completes = %d, want 1, 1", preloads, completes)
	}
	if disk.data[3*BlockSize] != 0x11 {
		t.Errorf("block 3 = %02X, want 11", disk.data[3*BlockSize])
	}
	if disk.data[4*BlockSize] != 0x22 {
		t.Errorf("block 4 = %02X, want 22", disk.data[4*BlockSize])
	}
}

func TestWriteProtected(t *testing.T) {
	target, _ := newTestTarget(16)
	target.Lun(0).Writable = false

	_, err := target.Command(0, []byte{CmdWrite10, 0, 0, 0, 0, 0, 0, 0, 1, 0})
	if err != ErrRefused {
		t.Fatalf("Command() error = %v, want %v", err, ErrRefused)
	}

	key, asc, _ := target.SenseData()
	if key != SenseDataProtect || asc != ASCWriteProtected {
		t.Errorf("sense = %02X/%02X, want %02X/%02X",
			key, asc, SenseDataProtect, ASCWriteProtected)
	}
}

func TestUnsupportedGroups(t *testing.T) {
	tests := []struct {
		name string
		cb   []byte
	}{
		{"CDB-16", []byte{0x88, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
		{"CDB-12", []byte{0xA8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
		{"unknown CMD6", []byte{0x0B, 0, 0, 0, 0, 0}},
		{"unknown CMD10", []byte{0x3E, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, _ := newTestTarget(16)

			if _, err := target.Command(0, tt.cb); err == nil {
				t.Fatal("expected command to fail")
			}
			key, asc, _ := target.SenseData()
			if key != SenseIllegalRequest || asc != ASCInvalidCommand {
				t.Errorf("sense = %02X/%02X, want %02X/%02X",
					key, asc, SenseIllegalRequest, ASCInvalidCommand)
			}
		})
	}
}

func TestInvalidLun(t *testing.T) {
	target, _ := newTestTarget(16)

	if _, err := target.Command(2, []byte{CmdTestUnitReady, 0, 0, 0, 0, 0}); err != ErrRefused {
		t.Fatalf("Command() error = %v, want %v", err, ErrRefused)
	}
	key, asc, _ := target.SenseData()
	if key != SenseIllegalRequest || asc != ASCLunNotSupported {
		t.Errorf("sense = %02X/%02X", key, asc)
	}
}

func TestVendorCommand(t *testing.T) {
	target, _ := newTestTarget(16)

	// without a handler the command is rejected
	if _, err := target.Command(0, []byte{0xC0, 0, 0, 0, 0, 0}); err == nil {
		t.Fatal("expected vendor command to fail without handler")
	}

	var gotOp uint8
	target.Lun(0).CmdVendor = func(tg *Target, unit *Lun, cb []byte) (Result, error) {
		gotOp = cb[0]
		tg.SetResponse([]byte{0xDE, 0xAD})
		return DataIn, nil
	}

	result, err := target.Command(0, []byte{0xC1, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if result != DataIn {
		t.Errorf("result = %v, want %v", result, DataIn)
	}
	if gotOp != 0xC1 {
		t.Errorf("handler opcode = %02X, want C1", gotOp)
	}
	if !bytes.Equal(target.Response(), []byte{0xDE, 0xAD}) {
		t.Errorf("response = % X", target.Response())
	}
}
