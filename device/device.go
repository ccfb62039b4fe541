package device

import (
	"github.com/agilack/cowstick-ums/hal"
	"github.com/agilack/cowstick-ums/pkg"
)

// Device implements the USB 2.0 device framework (chapter 9) on top of
// an opaque controller. It owns the enumeration state machine, the EP0
// control pipe and the endpoint and interface driver tables.
//
// The Interrupt method is the ISR: it must run to completion and only
// performs short register and packet memory updates plus endpoint
// callbacks. Periodic is the main loop hook. The two never overlap on
// the single-threaded target, callers emulating this environment must
// preserve that property.
type Device struct {
	ctrl hal.Controller

	state       State
	pendingAddr uint8
	addrPending bool

	// last EP0 request, reused across its data phase
	setup SetupPacket

	interfaces [MaxInterfaces]InterfaceDriver
	endpoints  [MaxEndpoints]EndpointCallbacks

	// optional custom application reset hook
	resetHook func()

	setupBuf [SetupPacketSize]byte
	rxBuf    [BulkMaxPacketSize]byte
}

// New creates a device bound to a controller.
func New(ctrl hal.Controller) *Device {
	return &Device{
		ctrl:  ctrl,
		state: StatePowered,
	}
}

// State returns the current enumeration state.
func (d *Device) State() State {
	return d.state
}

// Address returns the committed device address.
func (d *Device) Address() uint8 {
	return uint8(d.ctrl.Read(hal.RegDADDR) & hal.DaddrAddrMask)
}

// SetResetHook installs an optional hook invoked on bus reset, after
// the interface drivers have been reset.
func (d *Device) SetResetHook(fn func()) {
	d.resetHook = fn
}

// RegisterInterface installs a driver for one USB interface.
func (d *Device) RegisterInterface(num int, drv InterfaceDriver) error {
	if num < 0 || num >= MaxInterfaces || drv == nil {
		return pkg.ErrInvalidRequest
	}
	d.interfaces[num] = drv
	return nil
}

// Start resets the enumeration state, configures EP0 and connects the
// device to the bus by enabling the D+ pull-up.
func (d *Device) Start() {
	d.state = StatePowered
	d.addrPending = false

	// device address 0
	d.ctrl.Write(hal.RegDADDR, hal.DaddrEnable)
	d.ep0Config()

	d.ctrl.Write(hal.RegISTR, 0)
	d.ctrl.Write(hal.RegCNTR, hal.CntrResetM|hal.CntrCTRM|hal.CntrErrM|hal.CntrPMAOvrM)

	// bus connect
	d.ctrl.Write(hal.RegBCDR, hal.BcdrDPPU)

	pkg.LogInfo(pkg.ComponentDevice, "started")
}

// Periodic runs the interface driver periodic hooks. It is called on
// every pass of the firmware main loop.
func (d *Device) Periodic() {
	for i := range d.interfaces {
		if d.interfaces[i] != nil {
			d.interfaces[i].Periodic()
		}
	}
}

// Interrupt services one pending controller event. It is the interrupt
// handler for the USB peripheral.
func (d *Device) Interrupt() {
	v := d.ctrl.Read(hal.RegISTR)
	ack := uint32(hal.IstrErr)

	switch {
	case v&hal.IstrReset != 0:
		d.busReset()
		ack = hal.IstrReset

	case v&hal.IstrCTR != 0:
		ep := int(v & hal.IstrEPMask)
		out := v&hal.IstrDir != 0

		if ep != 0 {
			if out {
				d.epRx(ep)
			} else {
				d.epTx(ep)
			}
		} else {
			if out {
				d.ep0Rx()
			} else {
				d.ep0TxDone()
			}
		}
		ack = hal.IstrCTR

	case v&hal.IstrErr != 0:
		pkg.LogWarn(pkg.ComponentDevice, "bus error")
		ack = hal.IstrErr

	case v&hal.IstrPMAOvr != 0:
		pkg.LogWarn(pkg.ComponentDevice, "packet memory overrun")
		ack = hal.IstrPMAOvr
	}

	d.ctrl.Write(hal.RegISTR, ^ack)
}

// busReset handles a bus reset event: back to the Default state,
// address 0, EP0 reconfigured, class layers notified.
func (d *Device) busReset() {
	d.state = StateDefault
	d.addrPending = false

	d.ctrl.Write(hal.RegDADDR, hal.DaddrEnable)
	d.ep0Config()

	for i := range d.interfaces {
		if d.interfaces[i] != nil {
			d.interfaces[i].Reset()
		}
	}
	if d.resetHook != nil {
		d.resetHook()
	}

	pkg.LogDebug(pkg.ComponentDevice, "bus reset")
}

// Send queues a packet for transmission on an endpoint. A nil buffer
// with zero length transmits a zero-length packet. The data is copied
// into packet memory and the endpoint marked VALID.
func (d *Device) Send(ep int, data []byte) {
	if ep < 0 || ep > MaxEndpoints {
		return
	}

	pma := d.ctrl.PMA()
	addr, _ := pma.TXDesc(ep)
	if len(data) > 0 {
		pma.CopyIn(addr, data)
	}
	pma.SetTXDesc(ep, addr, len(data))

	reg := hal.RegCHEP(ep)
	cur := d.ctrl.Read(reg)
	v := cur & (hal.ChepEAMask | hal.ChepKind | hal.ChepUTypeMask)
	v |= hal.ChepVTRX // keep, write 1 has no effect
	// VTTX written 0: cleared
	v |= statToggle(cur, hal.ChepStatTxPos, hal.StatValid)
	d.ctrl.Write(reg, v)
}

// EndpointConfigure allocates packet memory for an endpoint according
// to the static offset table and activates the directions that have
// callbacks: reception starts VALID, transmission starts NAK until the
// first Send.
func (d *Device) EndpointConfigure(ep int, typ EndpointType, def EndpointCallbacks) {
	if ep <= 0 || ep > MaxEndpoints {
		return
	}

	d.endpoints[ep-1] = def

	pma := d.ctrl.PMA()
	if def.TxComplete != nil {
		pma.SetTXDesc(ep, uint32(hal.EPOffsets[ep][0]), 0)
	} else {
		pma.SetWord(uint32(ep)<<3, 0)
	}
	if def.Rx != nil {
		pma.SetRXDesc(ep, uint32(hal.EPOffsets[ep][1]), 0)
	} else {
		pma.SetWord(uint32(ep)<<3+4, 0)
	}

	reg := hal.RegCHEP(ep)
	cur := d.ctrl.Read(reg)
	v := uint32(typ)<<hal.ChepUTypePos | uint32(ep)&hal.ChepEAMask
	v |= hal.ChepVTRX | hal.ChepVTTX // keep transfer flags

	if def.Rx != nil {
		v |= statToggle(cur, hal.ChepStatRxPos, hal.StatValid)
	} else {
		v |= statToggle(cur, hal.ChepStatRxPos, hal.StatDisabled)
	}
	if def.TxComplete != nil {
		v |= statToggle(cur, hal.ChepStatTxPos, hal.StatNAK)
	} else {
		v |= statToggle(cur, hal.ChepStatTxPos, hal.StatDisabled)
	}

	// reset both data toggles
	v |= cur & (hal.ChepDTogRx | hal.ChepDTogTx)

	d.ctrl.Write(reg, v)

	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint configured",
		"ep", ep, "type", uint32(typ))
}

// EndpointSetState forces one direction of an endpoint to a new state.
// The address carries the direction bit (0x80 = IN). Clearing a STALL
// condition resets the data toggle of that half endpoint, except on
// EP0 where toggles are implicit.
func (d *Device) EndpointSetState(addr uint8, state EndpointState) {
	in := addr&0x80 != 0
	ep := int(addr & 0x7F)
	if ep > MaxEndpoints {
		return
	}

	reg := hal.RegCHEP(ep)
	cur := d.ctrl.Read(reg)
	v := cur & (hal.ChepEAMask | hal.ChepKind | hal.ChepUTypeMask)
	v |= hal.ChepVTRX | hal.ChepVTTX // keep transfer flags

	var prev EndpointState
	if in {
		prev = EndpointState((cur & hal.ChepStatTxMask) >> hal.ChepStatTxPos)
		v |= statToggle(cur, hal.ChepStatTxPos, uint32(state))
		if prev == EndpointStall && ep != 0 {
			v |= cur & hal.ChepDTogTx
		}
	} else {
		prev = EndpointState((cur & hal.ChepStatRxMask) >> hal.ChepStatRxPos)
		v |= statToggle(cur, hal.ChepStatRxPos, uint32(state))
		if prev == EndpointStall && ep != 0 {
			v |= cur & hal.ChepDTogRx
		}
	}

	if state != prev {
		d.ctrl.Write(reg, v)
	}
}

// statToggle computes the toggle mask moving a STAT field from its
// current value to target. The controller flips written 1 bits, so the
// mask is the XOR of both values.
func statToggle(cur uint32, pos int, target uint32) uint32 {
	return (cur>>pos&3 ^ target) << pos
}

// epRx services a completed OUT transfer on a data endpoint.
func (d *Device) epRx(ep int) {
	pma := d.ctrl.PMA()
	addr, n := pma.RXDesc(ep)

	if n > len(d.rxBuf) {
		n = len(d.rxBuf)
	}
	pma.CopyOut(addr, d.rxBuf[:], n)

	result := 1
	if cb := d.endpoints[ep-1].Rx; cb != nil {
		result = cb(d.rxBuf[:n])
	}

	pma.ClearRXCount(ep)

	reg := hal.RegCHEP(ep)
	cur := d.ctrl.Read(reg)
	v := cur & (hal.ChepEAMask | hal.ChepKind | hal.ChepUTypeMask)
	v |= hal.ChepVTTX // keep
	// VTRX written 0: cleared
	if result != 0 {
		v |= statToggle(cur, hal.ChepStatRxPos, hal.StatValid)
	} else {
		v |= statToggle(cur, hal.ChepStatRxPos, hal.StatNAK)
	}
	d.ctrl.Write(reg, v)
}

// epTx services a transmit-complete event on a data endpoint.
func (d *Device) epTx(ep int) {
	// acknowledge the transfer
	reg := hal.RegCHEP(ep)
	cur := d.ctrl.Read(reg)
	v := cur & (hal.ChepEAMask | hal.ChepKind | hal.ChepUTypeMask)
	v |= hal.ChepVTRX // keep
	d.ctrl.Write(reg, v)

	result := 0
	if cb := d.endpoints[ep-1].TxComplete; cb != nil {
		result = cb()
	}
	if result == 0 {
		d.ctrl.PMA().ClearTXCount(ep)
	}
}

// ep0Config prepares and enables the control endpoint. Used on startup
// and after a bus reset.
func (d *Device) ep0Config() {
	pma := d.ctrl.PMA()
	pma.SetTXDesc(0, uint32(hal.EPOffsets[0][0]), 0)
	pma.SetRXDesc(0, uint32(hal.EPOffsets[0][1]), 0)

	reg := hal.RegCHEP(0)
	cur := d.ctrl.Read(reg)
	v := uint32(hal.TypeControl) << hal.ChepUTypePos
	v |= statToggle(cur, hal.ChepStatRxPos, hal.StatValid)
	v |= statToggle(cur, hal.ChepStatTxPos, hal.StatNAK)
	v |= cur & hal.ChepDTogRx // reset toggle
	v |= hal.ChepVTRX | hal.ChepVTTX
	d.ctrl.Write(reg, v)
}

// ep0Send queues a response on the control endpoint. A nil buffer
// sends the zero-length packet used as status stage.
func (d *Device) ep0Send(data []byte) {
	pma := d.ctrl.PMA()
	addr, _ := pma.TXDesc(0)
	if len(data) > 0 {
		pma.CopyIn(addr, data)
	}
	pma.SetTXDesc(0, addr, len(data))

	reg := hal.RegCHEP(0)
	cur := d.ctrl.Read(reg)
	v := cur & (hal.ChepEAMask | hal.ChepKind | hal.ChepUTypeMask)
	v |= hal.ChepVTRX // keep
	v |= statToggle(cur, hal.ChepStatTxPos, hal.StatValid)
	d.ctrl.Write(reg, v)
}

// ep0Stall rejects the current request by stalling the IN direction of
// the control pipe (USB 2.0 Spec 8.5.3.4, 9.2.7).
func (d *Device) ep0Stall() {
	pma := d.ctrl.PMA()
	addr, _ := pma.TXDesc(0)
	pma.SetTXDesc(0, addr, 0)

	reg := hal.RegCHEP(0)
	cur := d.ctrl.Read(reg)
	v := cur & (hal.ChepEAMask | hal.ChepKind | hal.ChepUTypeMask)
	v |= hal.ChepVTRX // keep
	v |= statToggle(cur, hal.ChepStatTxPos, hal.StatStall)
	d.ctrl.Write(reg, v)
}

// ep0TxDone services a transmit-complete event on EP0. A pending
// device address is committed here, once the status stage of the
// SET_ADDRESS transfer has been acknowledged by the host.
func (d *Device) ep0TxDone() {
	reg := hal.RegCHEP(0)

	if d.addrPending {
		d.addrPending = false
		d.ctrl.Write(hal.RegDADDR, hal.DaddrEnable|uint32(d.pendingAddr))
		pkg.LogDebug(pkg.ComponentDevice, "address committed",
			"address", d.pendingAddr)
	}

	cur := d.ctrl.Read(reg)
	v := cur & (hal.ChepEAMask | hal.ChepKind | hal.ChepUTypeMask)
	v |= hal.ChepVTRX // keep
	// VTTX written 0: cleared
	d.ctrl.Write(reg, v)
}

// ep0Rx processes an incoming packet on the control endpoint: a SETUP
// packet starts a new request, other packets belong to the data or
// status stage of the current one (USB 2.0 Spec 9.3).
func (d *Device) ep0Rx() {
	pma := d.ctrl.PMA()
	chep := d.ctrl.Read(hal.RegCHEP(0))
	addr, n := pma.RXDesc(0)

	var data []byte

	if chep&hal.ChepSetup != 0 {
		if n >= SetupPacketSize {
			pma.CopyOut(addr, d.setupBuf[:], SetupPacketSize)
			if pkt, err := DecodeSetup(d.setupBuf[:]); err == nil {
				d.setup = pkt
				d.dispatchEP0(nil)
			}
		}
	} else if n == 0 {
		// zero-length status OUT, nothing to do
	} else {
		if n > len(d.rxBuf) {
			n = len(d.rxBuf)
		}
		pma.CopyOut(addr, d.rxBuf[:], n)
		data = d.rxBuf[:n]
		d.dispatchEP0(data)
	}

	// re-arm reception
	pma.SetRXDesc(0, uint32(hal.EPOffsets[0][1]), 0)
	cur := d.ctrl.Read(hal.RegCHEP(0))
	v := cur & (hal.ChepEAMask | hal.ChepKind | hal.ChepUTypeMask)
	v |= hal.ChepVTTX // keep
	v |= statToggle(cur, hal.ChepStatRxPos, hal.StatValid)
	d.ctrl.Write(hal.RegCHEP(0), v)
}

// dispatchEP0 routes the current EP0 request. data is nil during the
// setup phase and holds the payload of an OUT data stage otherwise.
func (d *Device) dispatchEP0(data []byte) {
	req := &d.setup

	switch {
	// standard device-to-host requests
	case req.RequestType&(RequestTypeDirectionMask|RequestTypeTypeMask) == RequestDirectionDeviceToHost:
		switch req.Request {
		case RequestGetStatus:
			d.getStatus(req)
		case RequestGetDescriptor:
			d.getDescriptor(req)
		case RequestGetConfiguration:
			d.getConfiguration()
		case RequestGetInterface:
			d.getInterface()
		default:
			d.ep0Stall()
		}

	// standard host-to-device requests
	case req.RequestType&(RequestTypeDirectionMask|RequestTypeTypeMask) == RequestDirectionHostToDevice:
		switch req.Request {
		case RequestClearFeature:
			d.clearFeature(req)
		case RequestSetFeature:
			d.setFeature(req)
		case RequestSetAddress:
			d.setAddress(req)
		case RequestSetDescriptor:
			// not supported, respond with Request Error (9.4.8)
			d.ep0Stall()
		case RequestSetConfiguration:
			d.setConfiguration(req)
		case RequestSetInterface:
			d.ep0Send(nil)
		default:
			d.ep0Stall()
		}

	// class or vendor request for an interface
	case req.Recipient() == RequestRecipientInterface:
		num := int(req.Index & 0xFF)
		if num >= MaxInterfaces || d.interfaces[num] == nil {
			d.ep0Stall()
			return
		}
		switch result := d.interfaces[num].ControlRequest(req, data); {
		case result == 0:
			d.ep0Send(nil)
		case result > 0:
			// response already sent by the driver
		default:
			d.ep0Stall()
		}

	default:
		pkg.LogDebug(pkg.ComponentDevice, "unsupported request",
			"request", req.String())
		d.ep0Stall()
	}
}

// getStatus answers GET_STATUS for the device, an interface or an
// endpoint (USB 2.0 Spec 9.4.5).
func (d *Device) getStatus(req *SetupPacket) {
	var status [2]byte

	switch req.Recipient() {
	case RequestRecipientDevice:
		// bit 0 self powered, bit 1 remote wakeup: both zero

	case RequestRecipientInterface:
		if int(req.Index) >= MaxInterfaces {
			d.ep0Stall()
			return
		}
		// interface status is always zero

	case RequestRecipientEndpoint:
		epAddr := req.Endpoint()
		ep := int(epAddr & 0x7F)
		if ep > MaxEndpoints {
			d.ep0Stall()
			return
		}
		cur := d.ctrl.Read(hal.RegCHEP(ep))
		var stat uint32
		if epAddr&0x80 != 0 {
			stat = (cur & hal.ChepStatTxMask) >> hal.ChepStatTxPos
		} else {
			stat = (cur & hal.ChepStatRxMask) >> hal.ChepStatRxPos
		}
		if stat == hal.StatStall {
			status[0] = 1 // halted
		}

	default:
		d.ep0Stall()
		return
	}

	d.ep0Send(status[:])
}

// getDescriptor answers GET_DESCRIPTOR, truncating to wLength when the
// host requests less than the full block.
func (d *Device) getDescriptor(req *SetupPacket) {
	var desc []byte

	kind, index := req.Descriptor()

	switch kind {
	case DescriptorTypeDevice:
		desc = DeviceDescriptor()
	case DescriptorTypeConfiguration:
		desc = ConfigDescriptor()
	case DescriptorTypeDeviceQualifier:
		desc = QualifierDescriptor()
	case DescriptorTypeString:
		desc = StringDescriptor(index)
		if desc == nil {
			pkg.LogDebug(pkg.ComponentDevice, "unknown string descriptor",
				"index", index)
			d.ep0Stall()
			return
		}
	default:
		d.ep0Stall()
		return
	}

	if int(req.Length) < len(desc) {
		desc = desc[:req.Length]
	}
	d.ep0Send(desc)
}

// getConfiguration answers GET_CONFIGURATION with the selected
// configuration id.
func (d *Device) getConfiguration() {
	if d.state == StateConfigured {
		d.ep0Send([]byte{1})
	} else {
		d.ep0Send([]byte{0})
	}
}

// getInterface answers GET_INTERFACE. Only alternate setting zero
// exists (9.4.4).
func (d *Device) getInterface() {
	d.ep0Send([]byte{0})
}

// setAddress records the new device address. The address is committed
// to the controller only after the status stage completes, the request
// itself is still answered at address zero (9.4.6).
func (d *Device) setAddress(req *SetupPacket) {
	d.pendingAddr = uint8(req.Value & hal.DaddrAddrMask)
	d.addrPending = true
	d.state = StateAddress

	pkg.LogDebug(pkg.ComponentDevice, "set address",
		"address", d.pendingAddr)

	d.ep0Send(nil)
}

// setConfiguration enables the interface drivers for the selected
// configuration and completes enumeration.
func (d *Device) setConfiguration(req *SetupPacket) {
	for i := range d.interfaces {
		if d.interfaces[i] != nil {
			d.interfaces[i].Enable(int(req.Value))
		}
	}
	d.state = StateConfigured

	pkg.LogDebug(pkg.ComponentDevice, "configured",
		"configuration", req.Value)

	d.ep0Send(nil)
}

// clearFeature processes CLEAR_FEATURE. Clearing ENDPOINT_HALT invokes
// the endpoint release callback which decides whether the endpoint
// resumes as VALID or NAK.
func (d *Device) clearFeature(req *SetupPacket) {
	rcpt := req.Recipient()

	switch {
	case rcpt == RequestRecipientDevice && req.Value == FeatureDeviceRemoteWakeup:
		// remote wakeup not supported, acknowledged

	case rcpt == RequestRecipientDevice && req.Value == FeatureTestMode:
		// test mode not supported, acknowledged

	case rcpt == RequestRecipientEndpoint && req.Value == FeatureEndpointHalt:
		epAddr := req.Endpoint()
		ep := int(epAddr & 0x7F)
		if ep == 0 || ep > MaxEndpoints {
			d.ep0Stall()
			return
		}

		result := 0
		if cb := d.endpoints[ep-1].Release; cb != nil {
			result = cb(epAddr)
		}
		if result == 0 {
			d.EndpointSetState(epAddr, EndpointValid)
		} else {
			d.EndpointSetState(epAddr, EndpointNAK)
		}

	default:
		d.ep0Stall()
		return
	}

	d.ep0Send(nil)
}

// setFeature processes SET_FEATURE. Remote wakeup and test mode are
// acknowledged without effect; ENDPOINT_HALT stalls the addressed
// endpoint.
func (d *Device) setFeature(req *SetupPacket) {
	rcpt := req.Recipient()

	switch {
	case rcpt == RequestRecipientDevice && req.Value == FeatureDeviceRemoteWakeup:
	case rcpt == RequestRecipientDevice && req.Value == FeatureTestMode:
	case rcpt == RequestRecipientEndpoint && req.Value == FeatureEndpointHalt:
		epAddr := req.Endpoint()
		ep := int(epAddr & 0x7F)
		if ep == 0 || ep > MaxEndpoints {
			d.ep0Stall()
			return
		}
		d.EndpointSetState(epAddr, EndpointStall)

	default:
		d.ep0Stall()
		return
	}

	d.ep0Send(nil)
}
