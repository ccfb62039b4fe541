package device

// EndpointCallbacks defines the upper-layer hooks attached to one
// endpoint. The direction of the endpoint is derived from which
// callbacks are present: an Rx callback enables reception (OUT), a
// TxComplete callback enables transmission (IN).
type EndpointCallbacks struct {
	// Rx is invoked when a packet has been received. Returning a
	// non-zero value re-arms the endpoint (VALID), returning zero
	// leaves it NAKed until the upper layer re-enables it.
	Rx func(data []byte) int

	// TxComplete is invoked when a queued packet has been sent.
	// Returning a non-zero value indicates another packet was
	// queued from within the callback.
	TxComplete func() int

	// Release is invoked when the host clears a halt condition on
	// the endpoint. Returning 0 re-enables the endpoint as VALID,
	// returning 1 re-enables it as NAK. The argument carries the
	// endpoint number with the direction bit.
	Release func(ep uint8) int
}

// InterfaceDriver is the contract between the device layer and a class
// driver bound to one USB interface.
type InterfaceDriver interface {
	// Periodic is invoked on every pass of the main loop. It must
	// not block.
	Periodic()

	// Reset is invoked on a bus reset. All transfers are aborted
	// and the interface waits for the next Enable.
	Reset()

	// Enable is invoked when the host selects a configuration.
	// Interface endpoints are configured here.
	Enable(cfg int)

	// ControlRequest handles a class or vendor control request
	// addressed to the interface. During the setup phase data is
	// nil, during an OUT data phase it holds the received payload.
	// The return value selects the status handling: 0 sends a
	// zero-length status packet, 1 means the response has already
	// been sent, negative values stall EP0.
	ControlRequest(req *SetupPacket, data []byte) int
}
