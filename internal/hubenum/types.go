// SPDX-License-Identifier: Apache-2.0

// Package hubenum invokes the external power-controllable-hub tool and
// parses its textual tree output into hub/port/identifier tuples, per
// spec.md section 4.C.
package hubenum

// PortState classifies a port when no identifier could be extracted
// from its descriptor text.
type PortState string

const (
	// PortHub means a sub-hub sits at this port (no directly
	// identifiable leaf device).
	PortHub PortState = "hub"
	// PortEmpty means the port is powered but nothing is attached.
	PortEmpty PortState = "empty"
	// PortUnknown means something is attached but its descriptor could
	// not be parsed into an identifier.
	PortUnknown PortState = "unknown"
	// PortDevice means a leaf device with a recognizable identifier
	// was found; Identifier is set and State is empty.
	PortDevice PortState = ""
)

// Entry is one (hub-id, port) record from the hub tool's tree output.
type Entry struct {
	// HubID has the form H-P[.P]* matching the OS topology string,
	// e.g. "20-2".
	HubID string
	// Port is the 1-based port number on HubID.
	Port string
	// Identifier is the chip MAC/serial visible in the port's
	// descriptor text, if any.
	Identifier string
	// Descriptor is the raw descriptor text for this port, kept for
	// diagnostics.
	Descriptor string
	// State classifies the port when Identifier is empty.
	State PortState
}
