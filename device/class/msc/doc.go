// Package msc implements the USB Mass Storage Class Bulk-Only
// Transport (BBB) over one bulk IN and one bulk OUT endpoint.
//
// The transport frames every transaction as a Command Block Wrapper,
// an optional data phase and a Command Status Wrapper. The state
// machine covers the thirteen host/device disagreement cases of the
// class specification, including the stall-then-status recovery paths
// and the class-specific Reset Recovery sequence.
//
// SCSI command semantics live in the scsi package, this package only
// moves bytes and classifies data phases.
package msc
