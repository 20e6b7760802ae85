// SPDX-License-Identifier: Apache-2.0

// Package portenum enumerates serial-capable USB devices currently
// exposed by the OS, per spec.md section 4.D.
package portenum

// PortInfo is one entry yielded by the port enumerator.
type PortInfo struct {
	// Identifier is the chip MAC/serial visible to the OS.
	Identifier string
	// DevicePath is the OS device node, e.g. /dev/cu.usbmodem101 or
	// COM3.
	DevicePath string
	// Location is the full OS USB topology string, e.g. "20-2.2.1",
	// potentially with more segments than the controllable hub path
	// (a sub-hub is interposed). Empty when the platform cannot
	// resolve it (see enumerator_other.go).
	Location string
}
