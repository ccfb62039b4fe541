package device

// Device and configuration descriptors, kept as fixed byte assemblies
// so the wire image is the authoritative form.

// descDevice is the 18-byte device descriptor: bcdUSB 2.00, class 0,
// EP0 max packet 64, idVendor 0x3608, idProduct 0xC720, bcdDevice
// 1.01, iManufacturer 1, iProduct 2, no serial, one configuration.
var descDevice = []byte{
	18, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 64,
	0x08, 0x36, 0x20, 0xC7, 0x01, 0x01, 0x01, 0x02,
	0x00, 0x01,
}

// descQualifier is the 10-byte device qualifier.
var descQualifier = []byte{
	10, 0x06, 0x00, 0x02, 0x00, 0x00, 0x00, 64,
	0x00, 0x00,
}

// descConfig is the fixed assembly of the configuration descriptor and
// its interface and endpoint descriptors: one Mass Storage interface
// (class 0x08, SCSI transparent 0x06, Bulk-Only 0x50) with bulk IN
// 0x81 and bulk OUT 0x02, both max packet 64. Total length 32,
// bus-powered, maxPower 500 mA.
var descConfig = []byte{
	// Configuration
	0x09, 0x02, 32, 0x00, 0x01, 0x01, 0x00, 0x80,
	0xFA,
	// Interface
	0x09, 0x04, 0x00, 0x00, 0x02, 0x08, 0x06, 0x50,
	0x00,
	// Endpoint 0x81 (Bulk IN)
	0x07, 0x05, 0x81, 0x02, 0x40, 0x00, 0x01,
	// Endpoint 0x02 (Bulk OUT)
	0x07, 0x05, 0x02, 0x02, 0x40, 0x00, 0x01,
}

// strLang is string descriptor zero: supported language en-US.
var strLang = []byte{
	4, 0x03,
	0x09, 0x04,
}

var strManufacturer = []byte{
	16, 0x03,
	'A', 0x00, 'g', 0x00, 'i', 0x00, 'l', 0x00,
	'a', 0x00, 'c', 0x00, 'k', 0x00,
}

var strProduct = []byte{
	26, 0x03,
	'C', 0x00, 'o', 0x00, 'w', 0x00, 's', 0x00,
	't', 0x00, 'i', 0x00, 'c', 0x00, 'k', 0x00,
	'-', 0x00, 'u', 0x00, 'm', 0x00, 's', 0x00,
}

// stringTable is the string descriptor table, indexed by wValue low byte.
var stringTable = [][]byte{
	strLang,
	strManufacturer,
	strProduct,
}

// DeviceDescriptor returns the 18-byte device descriptor.
func DeviceDescriptor() []byte {
	return descDevice
}

// ConfigDescriptor returns the full configuration descriptor assembly.
func ConfigDescriptor() []byte {
	return descConfig
}

// QualifierDescriptor returns the 10-byte device qualifier descriptor.
func QualifierDescriptor() []byte {
	return descQualifier
}

// StringDescriptor returns the string descriptor at index, or nil when
// the index is out of range.
func StringDescriptor(index uint8) []byte {
	if int(index) >= len(stringTable) {
		return nil
	}
	return stringTable[index]
}
