package scsi

import "github.com/agilack/cowstick-ums/pkg"

// Buffer is a diagnostic memory region addressable through the READ
// BUFFER and WRITE BUFFER commands.
type Buffer struct {
	// Boundary is the offset alignment, as a power of two.
	Boundary uint8

	// Data is the backing region for read access.
	Data []byte

	// Size is the capacity reported when Data is nil.
	Size uint32

	// Erase, when set, is invoked once before a microcode
	// download begins.
	Erase func() error

	// Write, when set, stores downloaded bytes at the given
	// offset.
	Write func(off uint32, p []byte) error
}

// capacity returns the region capacity in bytes.
func (b *Buffer) capacity() uint32 {
	if b.Data != nil {
		return uint32(len(b.Data))
	}
	return b.Size
}

// be24 decodes a big-endian 24-bit field.
func be24(p []byte) uint32 {
	return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
}

// readBuffer gives the host diagnostic read access to device memory:
// raw regions, their descriptors and the echo buffer (SPC-4 6.35). The
// command is gated by the LUN permission mask.
func (t *Target) readBuffer(unit *Lun, cb []byte) (Result, error) {
	if unit.Perm&PermReadBuffer == 0 {
		t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return 0, ErrRefused
	}

	switch mode := cb[1]; mode {
	case BufferModeData:
		return t.bufferRead(cb)
	case BufferModeDescriptor:
		return t.bufferDescriptor(cb)
	case BufferModeEcho:
		return t.echoRead(cb)
	default:
		pkg.LogWarn(pkg.ComponentSCSI, "READ BUFFER unknown mode",
			"mode", mode, "id", cb[2],
			"offset", be24(cb[3:6]), "length", be24(cb[6:9]))
		t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return 0, ErrRefused
	}
}

// writeBuffer gives the host diagnostic write access to the echo
// buffer and the microcode region (SPC-4 6.50). The command is gated
// by the LUN permission mask.
func (t *Target) writeBuffer(unit *Lun, cb []byte) (Result, error) {
	if unit.Perm&PermWriteBuffer == 0 {
		t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return 0, ErrRefused
	}

	switch mode := cb[1]; mode {
	case BufferModeEcho:
		return t.echoWrite(cb)
	case BufferModeDownload, BufferModeDownloadSv:
		return t.microcodeWrite(cb)
	default:
		pkg.LogWarn(pkg.ComponentSCSI, "WRITE BUFFER unknown mode",
			"mode", mode)
		t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return 0, ErrRefused
	}
}

// echoRead transfers bytes from the echo buffer.
func (t *Target) echoRead(cb []byte) (Result, error) {
	offset := be24(cb[3:6])
	length := be24(cb[6:9])

	if t.ctx == 0 {
		pkg.LogDebug(pkg.ComponentSCSI, "READ BUFFER echo",
			"offset", offset, "length", length)
		if offset+length > EchoBufferSize {
			t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
			return 0, ErrRefused
		}
	}

	if t.ctx >= length {
		return Done, nil
	}

	chunk := length - t.ctx
	if chunk > BufferSize {
		chunk = BufferSize
	}

	addr := offset + t.ctx
	t.dataLen = copy(t.data[:chunk], t.echo[addr:addr+chunk])
	t.ctx += chunk

	return DataInMore, nil
}

// echoWrite stores bytes into the echo buffer. The context counter is
// offset by one so that a started transaction is distinguishable from
// a new one.
func (t *Target) echoWrite(cb []byte) (Result, error) {
	offset := be24(cb[3:6])
	length := be24(cb[6:9])

	if t.ctx == 0 {
		pkg.LogDebug(pkg.ComponentSCSI, "WRITE BUFFER echo",
			"offset", offset, "length", length)
		if offset+length > EchoBufferSize {
			t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
			return 0, ErrRefused
		}
		t.dataLen = 0
		t.ctx = 1
		return DataOutMore, nil
	}

	addr := offset + t.ctx - 1
	n := uint32(t.dataLen)
	if max := EchoBufferSize - addr; n > max {
		n = max
	}
	copy(t.echo[addr:], t.data[:n])

	t.ctx += uint32(t.dataLen)
	t.dataLen = 0
	if t.ctx-1 < length {
		return DataOutMore, nil
	}
	return Done, nil
}

// bufferRead transfers bytes from a registered memory region.
func (t *Target) bufferRead(cb []byte) (Result, error) {
	b, ok := t.buffers[cb[2]]
	if !ok || b.Data == nil {
		t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return 0, ErrRefused
	}

	offset := be24(cb[3:6])
	length := be24(cb[6:9])

	if t.ctx == 0 {
		pkg.LogDebug(pkg.ComponentSCSI, "READ BUFFER data",
			"id", cb[2], "offset", offset, "length", length)
		if offset+length > b.capacity() {
			t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
			return 0, ErrRefused
		}
	}

	if t.ctx >= length {
		return Done, nil
	}

	chunk := length - t.ctx
	if chunk > BufferSize {
		chunk = BufferSize
	}

	addr := offset + t.ctx
	t.dataLen = copy(t.data[:chunk], b.Data[addr:addr+chunk])
	t.ctx += chunk

	return DataInMore, nil
}

// bufferDescriptor returns the 4-byte descriptor of a registered
// region: offset boundary and capacity.
func (t *Target) bufferDescriptor(cb []byte) (Result, error) {
	b, ok := t.buffers[cb[2]]
	if !ok {
		pkg.LogDebug(pkg.ComponentSCSI, "READ BUFFER invalid buffer id",
			"id", cb[2])
		t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return 0, ErrRefused
	}

	pkg.LogDebug(pkg.ComponentSCSI, "READ BUFFER descriptor", "id", cb[2])

	capacity := b.capacity()
	t.data[0] = b.Boundary
	t.data[1] = uint8(capacity >> 16)
	t.data[2] = uint8(capacity >> 8)
	t.data[3] = uint8(capacity)
	t.dataLen = 4

	return DataIn, nil
}

// microcodeWrite downloads new microcode into the registered region:
// the region is erased once, then written chunk by chunk.
func (t *Target) microcodeWrite(cb []byte) (Result, error) {
	length := be24(cb[6:9])

	b := t.microcode
	if b == nil {
		t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return 0, ErrRefused
	}

	if t.ctx == 0 {
		pkg.LogDebug(pkg.ComponentSCSI, "WRITE BUFFER microcode",
			"length", length)
		if length > b.capacity() {
			t.sense.Set(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
			return 0, ErrRefused
		}
		if b.Erase != nil {
			if err := b.Erase(); err != nil {
				t.sense.Set(SenseMediumError, ASCWriteError, 0)
				return 0, ErrCheckCondition
			}
		}
		t.dataLen = 0
		t.ctx = 1
		return DataOutMore, nil
	}

	if b.Write != nil {
		if err := b.Write(t.ctx-1, t.data[:t.dataLen]); err != nil {
			t.sense.Set(SenseMediumError, ASCWriteError, 0)
			return 0, ErrCheckCondition
		}
	}

	t.ctx += uint32(t.dataLen)
	t.dataLen = 0
	if t.ctx-1 < length {
		return DataOutMore, nil
	}
	return Done, nil
}
