package scsi

import (
	"encoding/binary"

	"github.com/agilack/cowstick-ums/pkg"
)

// cmd10 decodes and dispatches a ten-byte command. The LBA and length
// fields of these CDBs are big-endian while the surrounding transport
// wrappers are little-endian, all accesses go through explicit
// byte-order conversions.
func (t *Target) cmd10(unit *Lun, cb []byte) (Result, error) {
	if len(cb) < 10 {
		t.sense.Set(SenseIllegalRequest, ASCInvalidCommand, 0)
		return 0, ErrCheckCondition
	}

	switch cb[0] {
	case CmdReadFormatCapacities:
		return t.readFormatCapacities(unit)
	case CmdReadCapacity10:
		return t.readCapacity(unit)
	case CmdRead10:
		return t.read10(unit, cb)
	case CmdWrite10:
		return t.write10(unit, cb)
	case CmdReadBuffer:
		return t.readBuffer(unit, cb)
	case CmdWriteBuffer:
		return t.writeBuffer(unit, cb)
	}

	pkg.LogWarn(pkg.ComponentSCSI, "unknown CMD10 opcode", "opcode", cb[0])
	t.sense.Set(SenseIllegalRequest, ASCInvalidCommand, 0)
	return 0, ErrCheckCondition
}

// readCapacity returns the highest logical block address and the block
// length (SBC-3 5.12).
func (t *Target) readCapacity(unit *Lun) (Result, error) {
	pkg.LogDebug(pkg.ComponentSCSI, "read capacity",
		"blocks", unit.Capacity)

	binary.BigEndian.PutUint32(t.data[0:4], unit.Capacity-1)
	binary.BigEndian.PutUint32(t.data[4:8], BlockSize)
	t.dataLen = 8

	return DataIn, nil
}

// readFormatCapacities returns the capacity list with one descriptor
// for the current medium (UFI 4.10).
func (t *Target) readFormatCapacities(unit *Lun) (Result, error) {
	pkg.LogDebug(pkg.ComponentSCSI, "read format capacities")

	// capacity list header
	t.data[0] = 0
	t.data[1] = 0
	t.data[2] = 0
	t.data[3] = 8
	// current capacity descriptor: formatted media, block length
	binary.BigEndian.PutUint32(t.data[4:8], unit.Capacity)
	binary.BigEndian.PutUint32(t.data[8:12], 0x02<<24|BlockSize)
	t.dataLen = 12

	return DataIn, nil
}

// read10 transfers logical blocks from the medium, one block per
// invocation (SBC-3 5.8). The transaction context tracks the block
// offset within the command.
func (t *Target) read10(unit *Lun, cb []byte) (Result, error) {
	if unit.Read == nil {
		pkg.LogError(pkg.ComponentSCSI, "read error, no read callback")
		t.sense.Set(SenseHardwareError, ASCNoIndex, 0)
		return 0, ErrCheckCondition
	}

	lba := binary.BigEndian.Uint32(cb[2:6])
	length := uint32(binary.BigEndian.Uint16(cb[7:9]))

	if t.ctx == 0 {
		pkg.LogDebug(pkg.ComponentSCSI, "read blocks",
			"lba", lba, "count", length)
	}

	addr := (lba + t.ctx) * BlockSize
	n, err := unit.Read(addr, t.data[:BlockSize])
	if err != nil {
		pkg.LogError(pkg.ComponentSCSI, "read error",
			"addr", addr, "err", err)
		t.sense.Set(SenseMediumError, ASCNoIndex, 0)
		return 0, ErrCheckCondition
	}
	t.dataLen = n

	t.ctx++
	if t.ctx < length {
		return DataInMore, nil
	}
	return DataIn, nil
}

// write10 stores logical blocks to the medium (SBC-3 5.29). The first
// invocation runs the preload hook and requests payload, each later
// invocation stores one staged block. The completion hook runs after
// the last block.
func (t *Target) write10(unit *Lun, cb []byte) (Result, error) {
	lba := binary.BigEndian.Uint32(cb[2:6])
	length := uint32(binary.BigEndian.Uint16(cb[7:9]))

	if t.ctx == 0 {
		pkg.LogDebug(pkg.ComponentSCSI, "write blocks",
			"lba", lba, "count", length)
	}

	if !unit.Writable {
		pkg.LogWarn(pkg.ComponentSCSI, "write protected")
		t.sense.Set(SenseDataProtect, ASCWriteProtected, 0)
		return 0, ErrRefused
	}

	if t.ctx == 0 {
		addr := lba * BlockSize
		if unit.WritePreload != nil {
			if err := unit.WritePreload(addr); err != nil {
				pkg.LogError(pkg.ComponentSCSI, "write error, preload rejected",
					"addr", addr, "err", err)
				t.sense.Set(SenseMediumError, ASCWriteError, 0)
				return 0, ErrCheckCondition
			}
		}
	} else {
		addr := (lba + t.ctx - 1) * BlockSize
		if unit.Write != nil {
			if err := unit.Write(addr, t.data[:t.dataLen]); err != nil {
				pkg.LogError(pkg.ComponentSCSI, "write error",
					"addr", addr, "err", err)
				t.sense.Set(SenseMediumError, ASCWriteError, 0)
				return 0, ErrCheckCondition
			}
		}
	}
	t.dataLen = 0

	t.ctx++
	if t.ctx <= length {
		return DataOutMore, nil
	}

	if unit.WriteComplete != nil {
		if err := unit.WriteComplete(); err != nil {
			pkg.LogError(pkg.ComponentSCSI, "write error at completion",
				"err", err)
			t.sense.Set(SenseMediumError, ASCWriteError, 0)
			return 0, ErrCheckCondition
		}
	}
	return Done, nil
}
