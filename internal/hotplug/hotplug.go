// SPDX-License-Identifier: Apache-2.0

// Package hotplug exposes OS USB arrival/departure events as a single
// coalesced signal, per spec.md section 4.J. Individual event
// identities are never surfaced; consumers re-scan on every wake.
package hotplug

import "time"

// KeepaliveInterval is the cadence the display-hub agent's main loop
// waits on the signal with, and the polling period the fallback
// source uses on platforms without a native hotplug facility
// (spec.md section 4.K: must stay below the hub's 4.5 s watchdog).
const KeepaliveInterval = 2 * time.Second

// Source is a long-lived subscription to hotplug events.
type Source interface {
	// Signal returns a channel that receives a value whenever
	// something changed since the last receive. It is never closed
	// while the source is open.
	Signal() <-chan struct{}
	Close() error
}
