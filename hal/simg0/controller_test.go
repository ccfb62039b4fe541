package simg0

import (
	"testing"

	"github.com/agilack/cowstick-ums/hal"
)

func TestStatFieldsToggleOnWrite(t *testing.T) {
	c := New()

	// from Disabled, writing the target value toggles into it
	c.Write(hal.RegCHEP(1), hal.StatValid<<hal.ChepStatRxPos)
	if got := c.statRx(1); got != hal.StatValid {
		t.Fatalf("STATRX = %d, want %d", got, hal.StatValid)
	}

	// writing zero bits leaves the field alone
	c.Write(hal.RegCHEP(1), 0)
	if got := c.statRx(1); got != hal.StatValid {
		t.Fatalf("STATRX changed by zero write: %d", got)
	}

	// cur XOR target moves the field to the target value
	cur := c.Read(hal.RegCHEP(1))
	c.Write(hal.RegCHEP(1), (cur^hal.StatNAK<<hal.ChepStatRxPos)&hal.ChepStatRxMask)
	if got := c.statRx(1); got != hal.StatNAK {
		t.Fatalf("STATRX = %d, want %d", got, hal.StatNAK)
	}
}

func TestTransferFlagsClearOnZeroWrite(t *testing.T) {
	c := New()
	c.chep[1] |= hal.ChepVTRX | hal.ChepVTTX

	// writing 1 leaves the flags set
	c.Write(hal.RegCHEP(1), hal.ChepVTRX|hal.ChepVTTX)
	if c.Read(hal.RegCHEP(1))&(hal.ChepVTRX|hal.ChepVTTX) != hal.ChepVTRX|hal.ChepVTTX {
		t.Fatal("flags cleared by writing 1")
	}

	// writing 0 to VTRX clears it, VTTX stays
	c.Write(hal.RegCHEP(1), hal.ChepVTTX)
	got := c.Read(hal.RegCHEP(1))
	if got&hal.ChepVTRX != 0 {
		t.Error("VTRX not cleared by writing 0")
	}
	if got&hal.ChepVTTX == 0 {
		t.Error("VTTX cleared by writing 1")
	}
}

func TestDataToggleBits(t *testing.T) {
	c := New()

	c.Write(hal.RegCHEP(1), hal.ChepDTogTx)
	if c.Read(hal.RegCHEP(1))&hal.ChepDTogTx == 0 {
		t.Fatal("DTOGTX not toggled")
	}

	// writing the current value toggles it back to zero
	cur := c.Read(hal.RegCHEP(1))
	c.Write(hal.RegCHEP(1), cur&hal.ChepDTogTx)
	if c.Read(hal.RegCHEP(1))&hal.ChepDTogTx != 0 {
		t.Fatal("DTOGTX not reset")
	}
}

func TestEventQueue(t *testing.T) {
	c := New()

	if c.Pending() {
		t.Fatal("fresh controller has pending events")
	}

	c.mu.Lock()
	c.push(hal.IstrCTR | hal.IstrDir | 2)
	c.push(hal.IstrReset)
	c.mu.Unlock()

	if !c.Pending() {
		t.Fatal("events not pending")
	}
	if got := c.Read(hal.RegISTR); got != hal.IstrCTR|hal.IstrDir|2 {
		t.Fatalf("ISTR = %#x", got)
	}

	// acknowledging pops the head event
	c.Write(hal.RegISTR, ^uint32(hal.IstrCTR))
	if got := c.Read(hal.RegISTR); got != hal.IstrReset {
		t.Fatalf("ISTR after ack = %#x", got)
	}

	c.Write(hal.RegISTR, ^uint32(hal.IstrReset))
	if c.Pending() {
		t.Fatal("events still pending after acks")
	}
}

func TestSetupFlagReadOnly(t *testing.T) {
	c := New()
	c.chep[0] |= hal.ChepSetup

	c.Write(hal.RegCHEP(0), 0)
	if c.Read(hal.RegCHEP(0))&hal.ChepSetup == 0 {
		t.Error("SETUP flag cleared by port write")
	}
}
