package simg0

import (
	"github.com/agilack/cowstick-ums/hal"
	"github.com/agilack/cowstick-ums/pkg"
)

// maxRetries bounds the number of NAK polls before a host operation
// gives up. The USB host transaction timer is the only timeout in the
// system, this models it.
const maxRetries = 256

// Host drives the host side of the simulated bus. Pump must be set to
// a function running the device interrupt handler and periodic loop,
// it is invoked while polling a NAKed endpoint.
type Host struct {
	ctrl *Controller

	// Pump runs one pass of the device main loop.
	Pump func()
}

// NewHost returns a host attached to the given controller.
func NewHost(c *Controller) *Host {
	return &Host{ctrl: c}
}

func (h *Host) pump() {
	if h.Pump != nil {
		h.Pump()
	}
}

// BusReset raises a bus reset condition.
func (h *Host) BusReset() {
	h.ctrl.mu.Lock()
	h.ctrl.push(hal.IstrReset)
	h.ctrl.mu.Unlock()
	h.pump()
}

// completeOut finishes one OUT (or SETUP) transaction on an endpoint:
// the payload lands in packet memory, the RX descriptor count is
// updated and hardware moves STATRX to NAK before raising the transfer
// event.
func (h *Host) completeOut(ep int, data []byte, setup bool) error {
	c := h.ctrl
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.statRx(ep) {
	case hal.StatValid:
	case hal.StatStall:
		return pkg.ErrStall
	case hal.StatNAK:
		return pkg.ErrNAK
	default:
		return pkg.ErrTimeout
	}

	addr, _ := c.pma.RXDesc(ep)
	if len(data) > 0 {
		c.pma.CopyIn(addr, data)
	}
	d := c.pma.Word(uint32(ep)<<3+4) &^ uint32(hal.DescCountMask)
	c.pma.SetWord(uint32(ep)<<3+4, d|uint32(len(data))<<hal.DescCountPos)

	if setup {
		c.chep[ep] |= hal.ChepSetup
	} else {
		c.chep[ep] &^= hal.ChepSetup
	}
	c.chep[ep] |= hal.ChepVTRX
	c.hwSetStatRx(ep, hal.StatNAK)
	c.hwToggleDTogRx(ep)

	c.push(hal.IstrCTR | hal.IstrDir | uint32(ep))
	return nil
}

// completeIn finishes one IN transaction: the TX buffer is read out,
// hardware moves STATTX to NAK and raises the transfer event.
func (h *Host) completeIn(ep int) ([]byte, error) {
	c := h.ctrl
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.statTx(ep) {
	case hal.StatValid:
	case hal.StatStall:
		return nil, pkg.ErrStall
	case hal.StatNAK:
		return nil, pkg.ErrNAK
	default:
		return nil, pkg.ErrTimeout
	}

	addr, count := c.pma.TXDesc(ep)
	data := make([]byte, count)
	c.pma.CopyOut(addr, data, count)

	c.chep[ep] |= hal.ChepVTTX
	c.hwSetStatTx(ep, hal.StatNAK)
	c.hwToggleDTogTx(ep)

	c.push(hal.IstrCTR | uint32(ep))
	return data, nil
}

// out retries an OUT transaction while the endpoint NAKs.
func (h *Host) out(ep int, data []byte, setup bool) error {
	for i := 0; i < maxRetries; i++ {
		err := h.completeOut(ep, data, setup)
		if err == pkg.ErrNAK {
			h.pump()
			continue
		}
		if err == nil {
			h.pump()
		}
		return err
	}
	return pkg.ErrTimeout
}

// in retries an IN transaction while the endpoint NAKs.
func (h *Host) in(ep int) ([]byte, error) {
	for i := 0; i < maxRetries; i++ {
		data, err := h.completeIn(ep)
		if err == pkg.ErrNAK {
			h.pump()
			continue
		}
		if err == nil {
			h.pump()
		}
		return data, err
	}
	return nil, pkg.ErrTimeout
}

// Setup sends a SETUP packet on EP0.
func (h *Host) Setup(req [8]byte) error {
	return h.out(0, req[:], true)
}

// ControlIn performs a device-to-host control transfer: SETUP, IN data
// stage, zero-length OUT status stage. It returns the data stage bytes.
func (h *Host) ControlIn(req [8]byte) ([]byte, error) {
	if err := h.Setup(req); err != nil {
		return nil, err
	}

	wLength := int(req[6]) | int(req[7])<<8

	var data []byte
	for len(data) < wLength {
		pktData, err := h.in(0)
		if err != nil {
			return data, err
		}
		data = append(data, pktData...)
		if len(pktData) < 64 {
			break
		}
	}

	// status stage
	if err := h.out(0, nil, false); err != nil {
		return data, err
	}
	return data, nil
}

// ControlOut performs a host-to-device control transfer: SETUP, an
// optional OUT data stage and the zero-length IN status stage.
func (h *Host) ControlOut(req [8]byte, data []byte) error {
	if err := h.Setup(req); err != nil {
		return err
	}

	for off := 0; off < len(data); off += 64 {
		end := off + 64
		if end > len(data) {
			end = len(data)
		}
		if err := h.out(0, data[off:end], false); err != nil {
			return err
		}
	}

	// status stage
	_, err := h.in(0)
	return err
}

// BulkOut sends data on a bulk OUT endpoint in 64-byte packets.
func (h *Host) BulkOut(ep int, data []byte) error {
	if len(data) == 0 {
		return h.out(ep, nil, false)
	}
	for off := 0; off < len(data); off += 64 {
		end := off + 64
		if end > len(data) {
			end = len(data)
		}
		if err := h.out(ep, data[off:end], false); err != nil {
			return err
		}
	}
	return nil
}

// BulkInPacket reads a single packet from a bulk IN endpoint.
func (h *Host) BulkInPacket(ep int) ([]byte, error) {
	return h.in(ep)
}

// BulkIn reads up to n bytes from a bulk IN endpoint, stopping on a
// short packet. On a STALL the data collected so far is returned along
// with pkg.ErrStall.
func (h *Host) BulkIn(ep int, n int) ([]byte, error) {
	var data []byte
	for len(data) < n {
		pktData, err := h.in(ep)
		if err != nil {
			return data, err
		}
		data = append(data, pktData...)
		if len(pktData) < 64 {
			break
		}
	}
	return data, nil
}

// ClearHalt issues a CLEAR_FEATURE(ENDPOINT_HALT) request for the
// given endpoint address.
func (h *Host) ClearHalt(addr uint8) error {
	req := [8]byte{0x02, 0x01, 0x00, 0x00, addr, 0x00, 0x00, 0x00}
	return h.ControlOut(req, nil)
}

// EndpointStat returns the STATTX or STATRX field of an endpoint as
// seen on the bus, for IN (0x8n) or OUT (0x0n) addresses.
func (h *Host) EndpointStat(addr uint8) uint32 {
	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	ep := int(addr & 0x0F)
	if addr&0x80 != 0 {
		return h.ctrl.statTx(ep)
	}
	return h.ctrl.statRx(ep)
}

// DataToggle returns the DTOG bit of one endpoint half.
func (h *Host) DataToggle(addr uint8) bool {
	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	ep := int(addr & 0x0F)
	if addr&0x80 != 0 {
		return h.ctrl.chep[ep]&hal.ChepDTogTx != 0
	}
	return h.ctrl.chep[ep]&hal.ChepDTogRx != 0
}

// Address returns the device function address currently programmed.
func (h *Host) Address() uint8 {
	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	return uint8(h.ctrl.daddr & hal.DaddrAddrMask)
}

// Connected reports whether the device pull-up is active.
func (h *Host) Connected() bool {
	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	return h.ctrl.bcdr&hal.BcdrDPPU != 0
}
