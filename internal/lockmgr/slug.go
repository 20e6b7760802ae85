// SPDX-License-Identifier: Apache-2.0

package lockmgr

import "strings"

// Slug computes the lock directory name for a device name: lowercased,
// with every run of characters other than ASCII letters and digits
// replaced by a single underscore, and leading/trailing underscores
// trimmed (spec.md section 4.H). Locks are keyed by this slug (not
// the registered name) across Checkout/Checkin/List, resolving the
// open question in spec.md section 9.
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
