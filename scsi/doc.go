// Package scsi implements the SCSI target answering the command set a
// host uses on a removable disk: the SPC-4 primary commands, the SBC-3
// block commands over 512-byte sectors and the diagnostic buffer
// commands, behind logical units served by block device callbacks.
//
// The target stages data chunks of at most 512 bytes. Commands moving
// more data are re-invoked by the transport with the same command
// block, a per-transaction context counter tracking progress until
// Complete is called.
package scsi
