// Package simg0 provides a software model of the STM32G0-style USB
// device controller consumed by the device layer. It implements the
// register semantics the firmware relies on (toggle-on-write STAT and
// DTOG fields, rc_w0 transfer flags, NAK-after-completion) together
// with the host side of the bus, so the full stack can be exercised
// without hardware.
package simg0

import (
	"sync"

	"github.com/agilack/cowstick-ums/hal"
)

// Controller is a software USB device controller. The device layer
// talks to it through the hal.Controller interface while a Host drives
// the other side of the bus.
type Controller struct {
	mu sync.Mutex

	chep  [8]uint32
	cntr  uint32
	daddr uint32
	bcdr  uint32

	// pending ISTR events, head is the visible ISTR value
	events []uint32

	pma *hal.PacketMemory
}

// New returns a powered controller with empty packet memory.
func New() *Controller {
	return &Controller{pma: hal.NewPacketMemory()}
}

// Read returns the value of a controller register.
func (c *Controller) Read(reg uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch reg {
	case hal.RegCNTR:
		return c.cntr
	case hal.RegISTR:
		if len(c.events) > 0 {
			return c.events[0]
		}
		return 0
	case hal.RegDADDR:
		return c.daddr
	case hal.RegBCDR:
		return c.bcdr
	}
	if reg < hal.RegCHEP(8) {
		return c.chep[reg>>2]
	}
	return 0
}

// Write stores a value to a controller register applying the hardware
// write semantics of each bit class.
func (c *Controller) Write(reg uint32, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch reg {
	case hal.RegCNTR:
		c.cntr = v
		return
	case hal.RegISTR:
		// rc_w0 event flags: writing 0 acknowledges. Pop the head
		// event when one of its bits is acknowledged.
		if len(c.events) > 0 && c.events[0]&^v != 0 {
			c.events = c.events[1:]
		}
		return
	case hal.RegDADDR:
		c.daddr = v
		return
	case hal.RegBCDR:
		c.bcdr = v
		return
	}
	if reg >= hal.RegCHEP(8) {
		return
	}

	n := reg >> 2
	cur := c.chep[n]
	next := v & (hal.ChepEAMask | hal.ChepKind | hal.ChepUTypeMask)

	// STAT and DTOG fields toggle on written 1 bits.
	next |= (cur ^ v) & (hal.ChepStatTxMask | hal.ChepStatRxMask)
	next |= (cur ^ v) & (hal.ChepDTogTx | hal.ChepDTogRx)

	// VTRX and VTTX are cleared by writing 0, unchanged by 1.
	next |= cur & v & (hal.ChepVTRX | hal.ChepVTTX)

	// SETUP is read-only.
	next |= cur & hal.ChepSetup

	c.chep[n] = next
}

// PMA returns the controller packet memory.
func (c *Controller) PMA() *hal.PacketMemory {
	return c.pma
}

// Pending reports whether an interrupt event is waiting.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events) > 0
}

// push queues an ISTR event.
func (c *Controller) push(ev uint32) {
	c.events = append(c.events, ev)
}

// statTx returns the STATTX field of an endpoint.
func (c *Controller) statTx(ep int) uint32 {
	return (c.chep[ep] & hal.ChepStatTxMask) >> hal.ChepStatTxPos
}

// statRx returns the STATRX field of an endpoint.
func (c *Controller) statRx(ep int) uint32 {
	return (c.chep[ep] & hal.ChepStatRxMask) >> hal.ChepStatRxPos
}

// hardware-side register mutation, bypassing the port write semantics

func (c *Controller) hwSetStatRx(ep int, stat uint32) {
	c.chep[ep] = c.chep[ep]&^uint32(hal.ChepStatRxMask) | stat<<hal.ChepStatRxPos
}

func (c *Controller) hwSetStatTx(ep int, stat uint32) {
	c.chep[ep] = c.chep[ep]&^uint32(hal.ChepStatTxMask) | stat<<hal.ChepStatTxPos
}

func (c *Controller) hwToggleDTogRx(ep int) {
	c.chep[ep] ^= hal.ChepDTogRx
}

func (c *Controller) hwToggleDTogTx(ep int) {
	c.chep[ep] ^= hal.ChepDTogTx
}

var _ hal.Controller = (*Controller)(nil)
