package device

import (
	"bytes"
	"testing"

	"github.com/agilack/cowstick-ums/hal"
	"github.com/agilack/cowstick-ums/hal/simg0"
	"github.com/agilack/cowstick-ums/pkg"
)

// stubDriver is a minimal interface driver recording the events the
// device layer delivers.
type stubDriver struct {
	dev *Device

	enabled  int
	resets   int
	requests []SetupPacket

	ctrlResult    int
	releaseResult int
	releases      []uint8
}

func (s *stubDriver) Periodic() {}

func (s *stubDriver) Reset() {
	s.resets++
}

func (s *stubDriver) Enable(cfg int) {
	s.enabled = cfg

	s.dev.EndpointConfigure(2, EndpointBulk, EndpointCallbacks{
		Rx:      func(data []byte) int { return 1 },
		Release: s.release,
	})
	s.dev.EndpointConfigure(1, EndpointBulk, EndpointCallbacks{
		TxComplete: func() int { return 0 },
		Release:    s.release,
	})
}

func (s *stubDriver) release(ep uint8) int {
	s.releases = append(s.releases, ep)
	return s.releaseResult
}

func (s *stubDriver) ControlRequest(req *SetupPacket, data []byte) int {
	s.requests = append(s.requests, *req)
	return s.ctrlResult
}

func newTestBus(t *testing.T) (*simg0.Host, *Device, *stubDriver) {
	t.Helper()

	ctrl := simg0.New()
	dev := New(ctrl)

	drv := &stubDriver{dev: dev}
	if err := dev.RegisterInterface(0, drv); err != nil {
		t.Fatalf("RegisterInterface() error = %v", err)
	}

	host := simg0.NewHost(ctrl)
	host.Pump = func() {
		for ctrl.Pending() {
			dev.Interrupt()
		}
		dev.Periodic()
	}

	dev.Start()
	host.BusReset()

	return host, dev, drv
}

// configure drives the device to the Configured state.
func configure(t *testing.T, host *simg0.Host) {
	t.Helper()

	if err := host.ControlOut([8]byte{0x00, 0x09, 0x01, 0, 0, 0, 0, 0}, nil); err != nil {
		t.Fatalf("SET_CONFIGURATION error = %v", err)
	}
}

func TestEnumeration(t *testing.T) {
	host, dev, drv := newTestBus(t)

	if dev.State() != StateDefault {
		t.Fatalf("state after reset = %v, want %v", dev.State(), StateDefault)
	}

	desc, err := host.ControlIn([8]byte{0x80, 0x06, 0x00, 0x01, 0, 0, 18, 0})
	if err != nil {
		t.Fatalf("GET_DESCRIPTOR error = %v", err)
	}
	if !bytes.Equal(desc, DeviceDescriptor()) {
		t.Errorf("device descriptor = % X", desc)
	}

	if err := host.ControlOut([8]byte{0x00, 0x05, 42, 0, 0, 0, 0, 0}, nil); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}
	if host.Address() != 42 {
		t.Errorf("committed address = %d, want 42", host.Address())
	}
	if dev.State() != StateAddress {
		t.Errorf("state = %v, want %v", dev.State(), StateAddress)
	}

	configure(t, host)
	if dev.State() != StateConfigured {
		t.Errorf("state = %v, want %v", dev.State(), StateConfigured)
	}
	if drv.enabled != 1 {
		t.Errorf("driver enabled with cfg %d, want 1", drv.enabled)
	}

	cfg, err := host.ControlIn([8]byte{0x80, 0x08, 0, 0, 0, 0, 1, 0})
	if err != nil {
		t.Fatalf("GET_CONFIGURATION error = %v", err)
	}
	if len(cfg) != 1 || cfg[0] != 1 {
		t.Errorf("GET_CONFIGURATION = % X, want 01", cfg)
	}
}

func TestAddressCommitAfterStatusStage(t *testing.T) {
	host, dev, _ := newTestBus(t)

	// the SETUP and its processing must not change the address yet
	if err := host.Setup([8]byte{0x00, 0x05, 42, 0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if host.Address() != 0 {
		t.Fatalf("address committed before status stage: %d", host.Address())
	}
	if dev.State() != StateAddress {
		t.Errorf("state = %v, want %v", dev.State(), StateAddress)
	}

	// reading the status ZLP commits the address
	if _, err := host.BulkInPacket(0); err != nil {
		t.Fatalf("status stage error = %v", err)
	}
	host.Pump()
	if host.Address() != 42 {
		t.Errorf("address = %d, want 42", host.Address())
	}
}

func TestConfigDescriptorTruncation(t *testing.T) {
	host, _, _ := newTestBus(t)

	full, err := host.ControlIn([8]byte{0x80, 0x06, 0x00, 0x02, 0, 0, 32, 0})
	if err != nil {
		t.Fatalf("GET_DESCRIPTOR error = %v", err)
	}
	if len(full) != 32 {
		t.Fatalf("full descriptor length = %d, want 32", len(full))
	}

	head, err := host.ControlIn([8]byte{0x80, 0x06, 0x00, 0x02, 0, 0, 9, 0})
	if err != nil {
		t.Fatalf("GET_DESCRIPTOR error = %v", err)
	}
	if len(head) != 9 {
		t.Fatalf("truncated descriptor length = %d, want 9", len(head))
	}
	if !bytes.Equal(head, full[:9]) {
		t.Error("truncated descriptor is not a prefix of the full one")
	}
}

func TestStallOnUnsupportedRequests(t *testing.T) {
	tests := []struct {
		name string
		req  [8]byte
		in   bool
	}{
		{"vendor device request", [8]byte{0xC0, 0x00, 0, 0, 0, 0, 2, 0}, true},
		{"class device request", [8]byte{0xA0, 0x00, 0, 0, 0, 0, 2, 0}, true},
		{"SET_DESCRIPTOR", [8]byte{0x00, 0x07, 0, 0x01, 0, 0, 0, 0}, false},
		{"unknown descriptor type", [8]byte{0x80, 0x06, 0x00, 0x21, 0, 0, 8, 0}, true},
		{"string index out of range", [8]byte{0x80, 0x06, 0x05, 0x03, 0, 0, 8, 0}, true},
		{"reserved recipient", [8]byte{0x83, 0x00, 0, 0, 0, 0, 2, 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, _, _ := newTestBus(t)

			var err error
			if tt.in {
				_, err = host.ControlIn(tt.req)
			} else {
				err = host.ControlOut(tt.req, nil)
			}
			if err != pkg.ErrStall {
				t.Errorf("error = %v, want %v", err, pkg.ErrStall)
			}
		})
	}
}

func TestGetStatus(t *testing.T) {
	host, _, _ := newTestBus(t)
	configure(t, host)

	status, err := host.ControlIn([8]byte{0x80, 0x00, 0, 0, 0, 0, 2, 0})
	if err != nil {
		t.Fatalf("GET_STATUS(device) error = %v", err)
	}
	if !bytes.Equal(status, []byte{0, 0}) {
		t.Errorf("device status = % X, want 00 00", status)
	}

	status, err = host.ControlIn([8]byte{0x81, 0x00, 0, 0, 0, 0, 2, 0})
	if err != nil {
		t.Fatalf("GET_STATUS(interface) error = %v", err)
	}
	if !bytes.Equal(status, []byte{0, 0}) {
		t.Errorf("interface status = % X, want 00 00", status)
	}

	// halt the IN endpoint, the status must report it
	if err = host.ControlOut([8]byte{0x02, 0x03, 0x00, 0, 0x81, 0, 0, 0}, nil); err != nil {
		t.Fatalf("SET_FEATURE(HALT) error = %v", err)
	}
	status, err = host.ControlIn([8]byte{0x82, 0x00, 0, 0, 0x81, 0, 2, 0})
	if err != nil {
		t.Fatalf("GET_STATUS(endpoint) error = %v", err)
	}
	if !bytes.Equal(status, []byte{1, 0}) {
		t.Errorf("halted endpoint status = % X, want 01 00", status)
	}

	if err = host.ClearHalt(0x81); err != nil {
		t.Fatalf("ClearHalt() error = %v", err)
	}
	status, _ = host.ControlIn([8]byte{0x82, 0x00, 0, 0, 0x81, 0, 2, 0})
	if !bytes.Equal(status, []byte{0, 0}) {
		t.Errorf("cleared endpoint status = % X, want 00 00", status)
	}
}

func TestClearHaltReleaseCallback(t *testing.T) {
	tests := []struct {
		name          string
		releaseResult int
		wantStat      uint32
	}{
		{"release to valid", 0, hal.StatValid},
		{"release to nak", 1, hal.StatNAK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, _, drv := newTestBus(t)
			configure(t, host)
			drv.releaseResult = tt.releaseResult

			if err := host.ControlOut([8]byte{0x02, 0x03, 0x00, 0, 0x81, 0, 0, 0}, nil); err != nil {
				t.Fatalf("SET_FEATURE(HALT) error = %v", err)
			}
			if got := host.EndpointStat(0x81); got != hal.StatStall {
				t.Fatalf("stat after halt = %d, want %d", got, hal.StatStall)
			}

			if err := host.ClearHalt(0x81); err != nil {
				t.Fatalf("ClearHalt() error = %v", err)
			}
			if len(drv.releases) == 0 || drv.releases[len(drv.releases)-1] != 0x81 {
				t.Errorf("release callback endpoints = %v", drv.releases)
			}
			if got := host.EndpointStat(0x81); got != tt.wantStat {
				t.Errorf("stat after clear = %d, want %d", got, tt.wantStat)
			}
			if host.DataToggle(0x81) {
				t.Error("data toggle not reset after halt clear")
			}
		})
	}
}

func TestBusResetNotifiesDrivers(t *testing.T) {
	host, dev, drv := newTestBus(t)
	configure(t, host)

	var hookRuns int
	dev.SetResetHook(func() { hookRuns++ })

	resets := drv.resets
	host.BusReset()

	if dev.State() != StateDefault {
		t.Errorf("state = %v, want %v", dev.State(), StateDefault)
	}
	if host.Address() != 0 {
		t.Errorf("address = %d, want 0", host.Address())
	}
	if drv.resets != resets+1 {
		t.Errorf("driver resets = %d, want %d", drv.resets, resets+1)
	}
	if hookRuns != 1 {
		t.Errorf("reset hook runs = %d, want 1", hookRuns)
	}
}

func TestClassRequestRouting(t *testing.T) {
	host, _, drv := newTestBus(t)
	configure(t, host)

	// result 0 asks the device layer for the status stage
	drv.ctrlResult = 0
	if err := host.ControlOut([8]byte{0x21, 0xFF, 0, 0, 0, 0, 0, 0}, nil); err != nil {
		t.Fatalf("class request error = %v", err)
	}
	if len(drv.requests) != 1 || drv.requests[0].Request != 0xFF {
		t.Fatalf("requests = %+v", drv.requests)
	}

	// negative result stalls EP0
	drv.ctrlResult = -1
	if err := host.ControlOut([8]byte{0x21, 0xFF, 0, 0, 0, 0, 0, 0}, nil); err != pkg.ErrStall {
		t.Errorf("error = %v, want %v", err, pkg.ErrStall)
	}

	// requests for an unknown interface stall
	if _, err := host.ControlIn([8]byte{0xA1, 0xFE, 0, 0, 5, 0, 1, 0}); err != pkg.ErrStall {
		t.Errorf("error = %v, want %v", err, pkg.ErrStall)
	}
}
