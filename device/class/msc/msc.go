package msc

import (
	"sync/atomic"

	"github.com/agilack/cowstick-ums/device"
	"github.com/agilack/cowstick-ums/pkg"
	"github.com/agilack/cowstick-ums/scsi"
)

// MSC implements the Mass Storage Class Bulk-Only Transport state
// machine over one bulk IN and one bulk OUT endpoint.
//
// The endpoint callbacks run in interrupt context and communicate with
// the Periodic state machine through the atomic flag words, as the
// single-core target does with volatile flags. The wrapper structures
// and data counters are only touched by the context that owns the
// current phase.
type MSC struct {
	dev    *device.Device
	target *scsi.Target

	// transport phase, one of the phase values
	fsm atomic.Uint32

	// interrupt to main loop signalling
	rxFlag  atomic.Uint32
	txFlag  atomic.Uint32
	errFlag atomic.Uint32
	rstFlag atomic.Uint32

	cbw CBW
	csw CSW

	// raw CBW bytes captured by the OUT endpoint handler
	cbwBuf [CBWSize]byte
	cbwLen int

	// data phase bookkeeping
	dataLen    uint32
	dataOffset uint32
	dataMore   bool
	truncated  bool

	cswBuf [CSWSize]byte
}

// New creates the class driver bound to a device and a SCSI target and
// registers it as the driver of interface 0.
func New(dev *device.Device, target *scsi.Target) (*MSC, error) {
	m := &MSC{
		dev:    dev,
		target: target,
	}
	if err := dev.RegisterInterface(0, m); err != nil {
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentMSC, "initialized")
	return m, nil
}

// Enable configures and activates the two bulk endpoints. Called by
// the device layer when the host selects a configuration.
func (m *MSC) Enable(cfg int) {
	m.dev.EndpointConfigure(BulkOutEP, device.EndpointBulk, device.EndpointCallbacks{
		Rx:      m.epRx,
		Release: m.epRelease,
	})
	m.dev.EndpointConfigure(BulkInEP, device.EndpointBulk, device.EndpointCallbacks{
		TxComplete: m.epTx,
		Release:    m.epRelease,
	})

	pkg.LogDebug(pkg.ComponentMSC, "enabled", "configuration", cfg)
}

// Reset aborts all transfers after a bus reset. The interface waits
// for the next Enable to resume communication.
func (m *MSC) Reset() {
	m.rstFlag.Store(2)
	m.target.Reset()

	pkg.LogDebug(pkg.ComponentMSC, "bus reset")
}

// ControlRequest handles the two class-specific requests of the
// Bulk-Only Transport.
func (m *MSC) ControlRequest(req *device.SetupPacket, data []byte) int {
	if data != nil {
		// no class request of this interface carries OUT data
		return 1
	}

	switch {
	case req.RequestType == 0xA1 && req.Request == RequestGetMaxLUN:
		count := m.target.LunCount()
		if count == 0 {
			return -1
		}
		m.dev.Send(0, []byte{uint8(count - 1)})
		pkg.LogDebug(pkg.ComponentMSC, "get max LUN", "luns", count)
		return 1

	case req.RequestType == 0x21 && req.Request == RequestBulkOnlyReset:
		// Reset Recovery: defer to the periodic handler so the
		// acknowledge is not raced by the state reset
		m.rstFlag.Store(1)
		pkg.LogInfo(pkg.ComponentMSC, "class reset")
		return 1
	}

	return -1
}

// Periodic advances the transport state machine. It runs on every pass
// of the firmware main loop.
func (m *MSC) Periodic() {
	// process a pending Reset Recovery or bus reset
	if rst := m.rstFlag.Load(); rst != 0 {
		m.fsm.Store(phaseCBW)
		m.dataMore = false
		m.truncated = false
		m.dataOffset = 0
		m.rxFlag.Store(0)
		m.txFlag.Store(0)
		m.errFlag.Store(0)
		m.rstFlag.Store(0)
		if rst == 1 {
			m.target.Reset()
			// delayed status stage of the class reset request
			m.dev.Send(0, nil)
		}
		pkg.LogInfo(pkg.ComponentMSC, "reset")
	}

	switch m.fsm.Load() {
	case phaseCBW:
		m.fsmCBW()
	case phaseDataIn:
		m.fsmDataIn()
	case phaseDataOut:
		m.fsmDataOut()
	case phaseCSW:
		m.fsmCSW()
	case phaseError:
		m.fsmError()
	default:
		m.fsm.Store(phaseCBW)
	}
}

// stallData stalls the data pipe the host expects to use.
func (m *MSC) stallData() {
	if m.cbw.IsDataIn() {
		m.dev.EndpointSetState(BulkInAddr, device.EndpointStall)
	} else {
		m.dev.EndpointSetState(BulkOutAddr, device.EndpointStall)
	}
}

// fail terminates the transaction after a command error or a phantom
// data phase. With no data phase expected the status wrapper is sent
// directly, otherwise the data pipe is stalled first and the wrapper
// follows once the host clears the halt.
func (m *MSC) fail(status uint8) {
	m.csw.Status = status

	if m.cbw.DataTransferLength == 0 {
		m.fsm.Store(phaseCSW)
		return
	}

	m.csw.DataResidue = m.cbw.DataTransferLength
	m.fsm.Store(phaseError)
	m.stallData()
}

// fsmCBW waits for a command wrapper and classifies the transaction
// against the intrinsic data transfer of the command (the Hn/Hi/Ho
// versus Dn/Di/Do matrix of the transport specification).
func (m *MSC) fsmCBW() {
	if m.rxFlag.Load() == 0 {
		return
	}
	m.rxFlag.Store(0)

	m.csw = CSW{}

	if !ParseCBW(m.cbwBuf[:m.cbwLen], &m.cbw) {
		// not a valid CBW: stall both pipes until Reset Recovery
		pkg.LogWarn(pkg.ComponentMSC, "invalid CBW", "len", m.cbwLen)
		m.csw.Status = CSWStatusPhaseError
		m.fsm.Store(phaseError)
		m.dev.EndpointSetState(BulkInAddr, device.EndpointStall)
		m.dev.EndpointSetState(BulkOutAddr, device.EndpointStall)
		return
	}

	pkg.LogDebug(pkg.ComponentMSC, "CBW received",
		"tag", m.cbw.Tag,
		"dataLen", m.cbw.DataTransferLength,
		"flags", m.cbw.Flags,
		"lun", m.cbw.LUN,
		"opcode", m.cbw.CB[0])

	host := m.cbw.DataTransferLength
	m.truncated = false

	result, err := m.target.Command(int(m.cbw.LUN), m.cbw.CB[:m.cbw.CBLength])
	if err != nil {
		m.fail(CSWStatusFailed)
		return
	}

	switch result {
	case scsi.Done:
		if host > 0 {
			// the host expects a data phase the command does
			// not have: stall the pipe, report the command
			// status with the full residue
			m.fail(m.csw.Status)
			return
		}
		m.fsm.Store(phaseCSW)

	case scsi.DataIn, scsi.DataInMore:
		if host == 0 {
			// Hn < Di: phase error, residue ignored
			m.csw.Status = CSWStatusPhaseError
			m.csw.DataResidue = 0
			m.fsm.Store(phaseCSW)
			return
		}
		if !m.cbw.IsDataIn() {
			// Ho <> Di: phase error, stall the OUT pipe
			m.csw.Status = CSWStatusPhaseError
			m.fsm.Store(phaseError)
			m.dev.EndpointSetState(BulkOutAddr, device.EndpointStall)
			return
		}

		data := m.target.Response()
		if len(data) == 0 {
			pkg.LogWarn(pkg.ComponentMSC, "data IN phase with no data")
			m.fail(CSWStatusFailed)
			return
		}

		m.csw.DataResidue = host
		m.dataMore = result == scsi.DataInMore
		m.dataLen = uint32(len(data))
		if m.dataLen > host {
			// the host asked for less than the command
			// returns, truncate the transfer
			m.dataLen = host
			m.truncated = true
		}
		m.dataOffset = m.sendChunk(data, 0)
		m.fsm.Store(phaseDataIn)

	case scsi.DataOutMore, scsi.DataOutLast:
		if host == 0 {
			// Hn < Do: phase error, residue ignored
			m.csw.Status = CSWStatusPhaseError
			m.csw.DataResidue = 0
			m.fsm.Store(phaseCSW)
			return
		}
		if m.cbw.IsDataIn() {
			// Hi <> Do: phase error, stall the IN pipe
			m.csw.Status = CSWStatusPhaseError
			m.fsm.Store(phaseError)
			m.dev.EndpointSetState(BulkInAddr, device.EndpointStall)
			return
		}

		m.csw.DataResidue = host
		m.dataLen = uint32(m.target.FillSpace())
		if host < m.dataLen {
			m.dataLen = host
		}
		m.dataOffset = 0
		m.fsm.Store(phaseDataOut)
		m.rxFlag.Store(0)
		m.dev.EndpointSetState(BulkOutAddr, device.EndpointValid)
	}
}

// sendChunk queues the next fragment of the staged response, bounded
// by the bulk packet size. It returns the new data offset.
func (m *MSC) sendChunk(data []byte, offset uint32) uint32 {
	n := m.dataLen - offset
	if n > device.BulkMaxPacketSize {
		n = device.BulkMaxPacketSize
	}
	m.dev.Send(BulkInEP, data[offset:offset+n])
	return offset + n
}

// fsmDataIn runs the device-to-host data phase. Payloads are staged in
// buffers of up to 512 bytes by the command layer and leave the device
// in packet-size fragments, the command is re-invoked for every
// further buffer.
func (m *MSC) fsmDataIn() {
	if m.txFlag.Load() == 0 {
		return
	}
	m.txFlag.Store(0)

	// account the bytes just sent
	if m.csw.DataResidue >= m.dataOffset {
		m.csw.DataResidue -= m.dataOffset
	} else {
		m.csw.DataResidue = 0
	}

	if m.csw.DataResidue == 0 && (m.dataMore || m.truncated) {
		// the host asked for less data than the command
		// produces: phase error after the truncated transfer
		m.csw.Status = CSWStatusPhaseError
		m.fsm.Store(phaseCSW)
		return
	}

	if !m.dataMore {
		if m.csw.DataResidue > 0 {
			// short device data: stall the IN pipe, the
			// wrapper follows after the halt is cleared
			m.fsm.Store(phaseError)
			m.dev.EndpointSetState(BulkInAddr, device.EndpointStall)
			return
		}
		m.fsm.Store(phaseCSW)
		return
	}

	result, err := m.target.Command(int(m.cbw.LUN), m.cbw.CB[:m.cbw.CBLength])
	if err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "command error during data IN", "err", err)
		m.csw.Status = CSWStatusFailed
		m.fsm.Store(phaseError)
		m.dev.EndpointSetState(BulkInAddr, device.EndpointStall)
		return
	}

	switch result {
	case scsi.Done:
		m.fsm.Store(phaseCSW)

	case scsi.DataIn, scsi.DataInMore:
		data := m.target.Response()
		if len(data) == 0 {
			pkg.LogWarn(pkg.ComponentMSC, "data IN phase ends early")
			m.csw.Status = CSWStatusFailed
			m.fsm.Store(phaseError)
			m.dev.EndpointSetState(BulkInAddr, device.EndpointStall)
			return
		}

		m.dataMore = result == scsi.DataInMore
		m.dataLen = uint32(len(data))
		if m.dataLen > m.csw.DataResidue {
			m.dataLen = m.csw.DataResidue
			m.truncated = true
		}
		m.dataOffset = m.sendChunk(data, 0)

	default:
		pkg.LogWarn(pkg.ComponentMSC, "unexpected result during data IN",
			"result", result.String())
		m.csw.Status = CSWStatusFailed
		m.fsm.Store(phaseError)
		m.dev.EndpointSetState(BulkInAddr, device.EndpointStall)
	}
}

// fsmDataOut runs the host-to-device data phase, feeding each staged
// buffer back into the command layer.
func (m *MSC) fsmDataOut() {
	if m.rxFlag.Load() == 0 {
		return
	}
	m.rxFlag.Store(0)

	m.csw.DataResidue -= m.dataOffset

	result, err := m.target.Command(int(m.cbw.LUN), m.cbw.CB[:m.cbw.CBLength])
	if err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "command error during data OUT", "err", err)
		m.csw.Status = CSWStatusFailed
		m.fsm.Store(phaseError)
		m.dev.EndpointSetState(BulkOutAddr, device.EndpointStall)
		return
	}

	switch result {
	case scsi.Done:
		if m.csw.DataResidue > 0 {
			// the host has more data than the command takes:
			// stall the OUT pipe, keep the command status
			m.fsm.Store(phaseError)
			m.dev.EndpointSetState(BulkOutAddr, device.EndpointStall)
			return
		}
		m.fsm.Store(phaseCSW)

	case scsi.DataOutMore, scsi.DataOutLast:
		m.dataLen = uint32(m.target.FillSpace())
		if m.csw.DataResidue < m.dataLen {
			m.dataLen = m.csw.DataResidue
		}
		if m.dataLen == 0 {
			// the host sent less than the command expects
			m.csw.Status = CSWStatusPhaseError
			m.fsm.Store(phaseCSW)
			return
		}
		m.dataOffset = 0
		m.rxFlag.Store(0)
		m.dev.EndpointSetState(BulkOutAddr, device.EndpointValid)

	default:
		pkg.LogWarn(pkg.ComponentMSC, "unexpected result during data OUT",
			"result", result.String())
		m.csw.Status = CSWStatusFailed
		m.fsm.Store(phaseError)
		m.dev.EndpointSetState(BulkOutAddr, device.EndpointStall)
	}
}

// fsmCSW completes the transaction by sending the status wrapper, then
// re-arms the OUT pipe for the next command.
func (m *MSC) fsmCSW() {
	if m.csw.Signature == 0 {
		pkg.LogDebug(pkg.ComponentMSC, "sending CSW",
			"tag", m.cbw.Tag,
			"status", m.csw.Status,
			"residue", m.csw.DataResidue)

		// notify the command layer the transaction is over
		m.target.Complete()

		m.csw.Signature = CSWSignature
		m.csw.Tag = m.cbw.Tag
		m.csw.MarshalTo(m.cswBuf[:])
		m.dev.Send(BulkInEP, m.cswBuf[:])
	}

	if m.txFlag.Load() != 0 {
		m.txFlag.Store(0)
		m.rxFlag.Store(0)
		m.errFlag.Store(0)
		m.fsm.Store(phaseCBW)
		m.dev.EndpointSetState(BulkOutAddr, device.EndpointValid)
	}
}

// fsmError waits for the host to clear the stalled pipe, then sends
// the deferred status wrapper.
func (m *MSC) fsmError() {
	if m.errFlag.Load() == 0 {
		return
	}
	m.errFlag.Store(0)
	m.fsm.Store(phaseCSW)
}

// epRelease decides the state of a bulk endpoint after the host clears
// a halt condition: the OUT pipe resumes VALID only when a fresh
// command can be accepted, anything else stays NAK while the periodic
// handler delivers the pending status wrapper.
func (m *MSC) epRelease(ep uint8) int {
	fsm := m.fsm.Load()

	if fsm == phaseError || fsm == phaseCSW {
		m.errFlag.Store(1)
	}

	if fsm == phaseCBW && ep&0x7F == BulkOutEP {
		return 0
	}
	return 1
}

// epRx handles packets received on the bulk OUT pipe: payload chunks
// during a data phase, a command wrapper otherwise. Returning 0 leaves
// the pipe NAKed until the state machine consumed the data.
func (m *MSC) epRx(data []byte) int {
	if m.fsm.Load() == phaseDataOut {
		n := m.target.Fill(data)
		m.dataOffset += uint32(n)
		if m.dataOffset >= m.dataLen {
			m.rxFlag.Store(1)
			return 0
		}
		return 1
	}

	m.cbwLen = copy(m.cbwBuf[:], data)
	m.rxFlag.Store(1)
	return 0
}

// epTx handles transmit-complete events on the bulk IN pipe, queueing
// the next fragment of the current buffer from interrupt context until
// the buffer is exhausted.
func (m *MSC) epTx() int {
	switch m.fsm.Load() {
	case phaseDataIn:
		if m.dataOffset == m.dataLen {
			m.txFlag.Store(1)
			return 0
		}
		m.dataOffset = m.sendChunk(m.target.Response(), m.dataOffset)
		return 1

	case phaseCSW:
		m.txFlag.Store(1)
	}
	return 0
}

var _ device.InterfaceDriver = (*MSC)(nil)
