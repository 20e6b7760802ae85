// SPDX-License-Identifier: Apache-2.0

//go:build windows

package lockmgr

import "golang.org/x/sys/windows"

// isAlive opens the process and checks its exit code; STILL_ACTIVE
// means it has not yet terminated.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	const stillActive = 259
	var exitCode uint32
	if err := windows.GetExitCodeProcess(h, &exitCode); err != nil {
		return false
	}
	return exitCode == stillActive
}
