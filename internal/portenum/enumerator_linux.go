// SPDX-License-Identifier: Apache-2.0

//go:build linux

package portenum

import (
	"path/filepath"
	"regexp"
)

// topologyRe matches a USB device directory name under /sys/bus/usb,
// e.g. "20-2" or "20-2.2.1" (a sub-hub port chain).
var topologyRe = regexp.MustCompile(`^\d+-[0-9.]+$`)

// locationFor resolves the USB topology string for the tty device at
// devicePath by walking up from /sys/class/tty/<name>/device, in the
// same style as the sysfs-walk technique used by other tty-backed
// serial discovery code in the wild: follow the device symlink, then
// climb parent directories until one has a name shaped like a USB
// topology path.
func locationFor(devicePath string) string {
	name := filepath.Base(devicePath)
	resolved, err := filepath.EvalSymlinks(filepath.Join("/sys/class/tty", name, "device"))
	if err != nil {
		return ""
	}

	dir := resolved
	for dir != "/" && dir != "." {
		base := filepath.Base(dir)
		if topologyRe.MatchString(base) {
			return base
		}
		dir = filepath.Dir(dir)
	}
	return ""
}
