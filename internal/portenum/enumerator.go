// SPDX-License-Identifier: Apache-2.0

package portenum

import (
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.bug.st/serial/enumerator"
)

// Enumerator lists the serial-capable USB devices the OS currently
// exposes, using go.bug.st/serial/enumerator for the cross-platform
// port list and a platform-specific topology lookup (see
// enumerator_linux.go / enumerator_other.go) for the location string.
type Enumerator struct {
	Logger log.Logger
}

// New returns a ready-to-use Enumerator.
func New(logger log.Logger) *Enumerator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Enumerator{Logger: logger}
}

// Enumerate returns one PortInfo per serial-capable USB device.
func (e *Enumerator) Enumerate() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	raw := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if !d.IsUSB {
			continue
		}
		id := strings.TrimSpace(d.SerialNumber)
		if id == "" {
			continue
		}
		raw = append(raw, PortInfo{
			Identifier: id,
			DevicePath: d.Name,
			Location:   locationFor(d.Name),
		})
	}
	return dedupe(raw, e.Logger), nil
}

// dedupe drops later entries sharing an already-seen identifier.
//
// Behavior when the same identifier appears twice (a dual-CDC device
// exposing two ports under one serial number) is not specified by
// spec.md; per the conservative choice recorded in section 9, the
// first occurrence wins and a diagnostic is logged.
func dedupe(ports []PortInfo, logger log.Logger) []PortInfo {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	seen := make(map[string]bool, len(ports))
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		if seen[p.Identifier] {
			_ = level.Warn(logger).Log("msg", "duplicate identifier seen twice in port enumerator; keeping first occurrence", "identifier", p.Identifier, "port", p.DevicePath)
			continue
		}
		seen[p.Identifier] = true
		out = append(out, p)
	}
	return out
}
