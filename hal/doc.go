// Package hal describes the USB controller consumed by the device
// layer: the register file of an STM32G0-style USB peripheral and its
// packet memory aperture. The register semantics (toggle-on-write STAT
// and DTOG fields, rc_w0 transfer flags) are part of the contract, the
// simg0 subpackage provides a software implementation.
package hal
