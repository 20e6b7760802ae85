// SPDX-License-Identifier: Apache-2.0

package hubagent

import (
	"strconv"
	"strings"
)

// truncate returns s cut to at most max printable (rune) characters,
// implementing invariant I4 / property P8.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// DisplayNameWidth is the fixed text width of the T1 display slot
// (spec.md invariant I4 / property P8).
const DisplayNameWidth = 14

// DefaultChannels is the display-channel count of the current hub
// generation (spec.md section 4.K), used when a hub's registry section
// doesn't override it with channels=.
const DefaultChannels = 3

// HubTopologyPrefix derives a hub's own topology path from the
// location of its controller. The controller sits at the hub's last
// port (spec.md section 4.K), so "20-3.3" denotes hub topology "20-3".
func HubTopologyPrefix(controllerLocation string) string {
	idx := strings.LastIndex(controllerLocation, ".")
	if idx < 0 {
		return ""
	}
	return controllerLocation[:idx]
}

// channelFor maps a device's OS topology location to a 1-based display
// channel, per spec.md section 4.K: location must begin with
// "hubTopology.c" for some c in [1, channels].
func channelFor(hubTopology, location string, channels int) (int, bool) {
	if hubTopology == "" || location == "" {
		return 0, false
	}
	prefix := hubTopology + "."
	if !strings.HasPrefix(location, prefix) {
		return 0, false
	}
	rest := strings.TrimPrefix(location, prefix)
	if idx := strings.Index(rest, "."); idx >= 0 {
		rest = rest[:idx]
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || n > channels {
		return 0, false
	}
	return n, true
}
