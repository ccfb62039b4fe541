// Package pkg provides shared utilities for the cowstick-ums firmware core.
//
// This package contains common functionality used across the protocol
// layers, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for USB protocol and medium errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with firmware-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDevice, "device configured", "config", 1)
//
// # Errors
//
// Common errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrStall) {
//	    // Handle endpoint stall
//	}
package pkg
