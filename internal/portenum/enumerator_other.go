// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package portenum

// locationFor has no sysfs-style topology string to walk on
// non-Linux platforms. Windows exposes a "LocationInformation" device
// property via SetupAPI, but its format ("Port_#0002.Hub_#0003") is
// not the dot-separated path spec.md's indirect-link inference
// depends on, so indirect-link resolution is Linux-only; on other
// platforms devices are reported as no-hub unless a power-controllable
// hub enumerator directly sees them (link=direct).
func locationFor(devicePath string) string {
	return ""
}
