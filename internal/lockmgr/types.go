// SPDX-License-Identifier: Apache-2.0

// Package lockmgr implements the per-device advisory exclusive-access
// lock described in spec.md section 4.H: a directory per lock, an
// `info` document inside it, and PID/TTL-based staleness reclamation.
package lockmgr

import "time"

// DefaultTTL is used by Checkout when no TTL is supplied, per spec.md
// section 4.H.
const DefaultTTL = 1800 * time.Second

// Info is the content of a lock's `info` document.
type Info struct {
	PID       int
	Owner     string
	Timestamp time.Time
	Purpose   string
	TTL       time.Duration
}

// Status is one row of lockmgr.List's output.
type Status struct {
	Name  string
	Slug  string
	Info  Info
	Stale bool
}
