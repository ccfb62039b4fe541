package device

import (
	"fmt"

	"github.com/agilack/cowstick-ums/pkg"
)

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// SetupPacket mirrors the 8-byte packet opening every control
// transfer (USB 2.0 Spec 9.3). bmRequestType stays packed, the
// decomposed views come from In, Kind and Recipient.
type SetupPacket struct {
	RequestType uint8  // bmRequestType: direction, type, recipient
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength
}

// DecodeSetup unpacks a setup packet from the first 8 bytes of raw.
func DecodeSetup(raw []byte) (SetupPacket, error) {
	if len(raw) < SetupPacketSize {
		return SetupPacket{}, pkg.ErrSetupPacketTooShort
	}

	le := func(lo, hi byte) uint16 {
		return uint16(lo) | uint16(hi)<<8
	}

	return SetupPacket{
		RequestType: raw[0],
		Request:     raw[1],
		Value:       le(raw[2], raw[3]),
		Index:       le(raw[4], raw[5]),
		Length:      le(raw[6], raw[7]),
	}, nil
}

// Encode returns the wire image of the packet.
func (s SetupPacket) Encode() [SetupPacketSize]byte {
	return [SetupPacketSize]byte{
		s.RequestType,
		s.Request,
		byte(s.Value), byte(s.Value >> 8),
		byte(s.Index), byte(s.Index >> 8),
		byte(s.Length), byte(s.Length >> 8),
	}
}

// In reports whether the data stage, if any, runs device to host.
func (s SetupPacket) In() bool {
	return s.RequestType&RequestTypeDirectionMask != 0
}

// Kind returns the request class bits: standard, class or vendor.
func (s SetupPacket) Kind() uint8 {
	return s.RequestType & RequestTypeTypeMask
}

// Recipient returns the addressed recipient: device, interface,
// endpoint or other.
func (s SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestTypeRecipientMask
}

// Descriptor splits the wValue of a GET_DESCRIPTOR request into the
// descriptor type (high byte) and index (low byte).
func (s SetupPacket) Descriptor() (kind, index uint8) {
	return uint8(s.Value >> 8), uint8(s.Value)
}

// Endpoint returns the endpoint address carried in wIndex.
func (s SetupPacket) Endpoint() uint8 {
	return uint8(s.Index)
}

// request decomposition names, indexed by the Kind and Recipient bits
var (
	kindNames      = [4]string{"standard", "class", "vendor", "reserved"}
	recipientNames = [32]string{"device", "interface", "endpoint", "other"}
)

// String renders the packet the way it reads in a bus trace.
func (s SetupPacket) String() string {
	dir := "out"
	if s.In() {
		dir = "in"
	}
	rcpt := recipientNames[s.Recipient()]
	if rcpt == "" {
		rcpt = "reserved"
	}

	return fmt.Sprintf("%s %s %s bRequest=%#02x wValue=%#04x wIndex=%#04x wLength=%d",
		kindNames[s.Kind()>>5], dir, rcpt,
		s.Request, s.Value, s.Index, s.Length)
}
