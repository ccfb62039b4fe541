// Package device implements the USB 2.0 device framework (chapter 9)
// for the cowstick-ums firmware: enumeration, endpoint management and
// the EP0 control state machine, on top of an opaque controller
// described by the hal package.
//
// The layer is driven by two entry points mirroring the firmware
// execution model: Interrupt services controller events and runs to
// completion, Periodic is invoked from the main loop and dispatches to
// the registered interface drivers. Class drivers implement the
// InterfaceDriver contract and attach endpoint callbacks through
// EndpointConfigure.
package device
