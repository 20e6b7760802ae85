// SPDX-License-Identifier: Apache-2.0

// Package scanner implements the single-pass registry/hub/port
// cross-join that produces a new location-cache snapshot, per
// spec.md section 4.F.
package scanner

import (
	"context"
	"strings"
	"time"

	"github.com/mvalvekens/usb-device/internal/cache"
	"github.com/mvalvekens/usb-device/internal/hubenum"
	"github.com/mvalvekens/usb-device/internal/portenum"
	"github.com/mvalvekens/usb-device/internal/registry"
)

// Result is the per-device outcome of one scan pass, used by the CLI
// to render "[found]"/status lines (spec.md section 6).
type Result struct {
	Device registry.Device
	// Found is true for direct/indirect/no-hub/static outcomes. It is
	// false when the device was not seen by any evidence source this
	// pass (it stays "cached"/offline), and also when it was seen but
	// lost the same-pass tie-break for its (hub, port) to a device
	// declared earlier; either way Record is its previous cache entry.
	Found  bool
	Record cache.Record
}

// HubEnumerator is the subset of *hubenum.Enumerator that Scan needs,
// narrowed so tests can supply a fake hub tree without shelling out.
type HubEnumerator interface {
	Enumerate(ctx context.Context) []hubenum.Entry
}

// PortEnumerator is the subset of *portenum.Enumerator that Scan needs.
type PortEnumerator interface {
	Enumerate() ([]portenum.PortInfo, error)
}

// Scan performs one pass: it snapshots the hub and port enumerators,
// cross-joins them against the registry, applies invariant I1
// eviction, stamps last_seen, and persists the result via c.
func Scan(ctx context.Context, reg *registry.Registry, c *cache.Cache, hubEnum HubEnumerator, portEnum PortEnumerator, now time.Time) ([]Result, error) {
	hubEntries := hubEnum.Enumerate(ctx)
	portEntries, err := portEnum.Enumerate()
	if err != nil {
		return nil, err
	}

	hubByIdentifier := make(map[string]hubenum.Entry, len(hubEntries))
	for _, h := range hubEntries {
		if h.Identifier == "" {
			continue
		}
		key := strings.ToUpper(h.Identifier)
		if _, dup := hubByIdentifier[key]; !dup {
			hubByIdentifier[key] = h
		}
	}
	portByIdentifier := make(map[string]portenum.PortInfo, len(portEntries))
	for _, p := range portEntries {
		portByIdentifier[strings.ToUpper(p.Identifier)] = p
	}

	next := c.List()
	claimed := make(map[[2]string]string)

	results := make([]Result, 0, len(reg.Devices))
	for _, dev := range reg.Devices {
		if dev.IsStatic() {
			hub, port := splitLocation(dev.Location)
			results = append(results, Result{
				Device: dev,
				Found:  true,
				Record: cache.Record{Hub: hub, Port: port, Link: cache.LinkStatic, LastSeen: now},
			})
			continue
		}

		key := strings.ToUpper(dev.Identifier)
		rec, found := classify(key, hubByIdentifier, hubEntries, portByIdentifier)
		if !found {
			// Missing: leave the previous cache record untouched.
			if prev, ok := next[dev.Name]; ok {
				results = append(results, Result{Device: dev, Found: false, Record: prev})
			} else {
				results = append(results, Result{Device: dev, Found: false})
			}
			continue
		}

		if rec.Hub != "-" {
			slot := [2]string{rec.Hub, rec.Port}
			if winner, taken := claimed[slot]; taken && winner != dev.Name {
				// Tie-break (section 4.F): the device declared earlier
				// in the registry already claimed this port; this
				// device keeps whatever it had before.
				if prev, ok := next[dev.Name]; ok {
					results = append(results, Result{Device: dev, Found: false, Record: prev})
				} else {
					results = append(results, Result{Device: dev, Found: false})
				}
				continue
			}
			claimed[slot] = dev.Name

			// Invariant I1: evict whoever else currently holds this
			// (hub, port) in the cache.
			for otherName, otherRec := range next {
				if otherName != dev.Name && otherRec.Hub == rec.Hub && otherRec.Port == rec.Port {
					delete(next, otherName)
				}
			}
		}

		rec.LastSeen = now
		next[dev.Name] = rec
		results = append(results, Result{Device: dev, Found: true, Record: rec})
	}

	if err := c.ReplaceAll(next); err != nil {
		return nil, err
	}
	return results, nil
}

// classify implements steps 3a-3c of spec.md section 4.F for a single
// registered identifier.
func classify(identifier string, hubByIdentifier map[string]hubenum.Entry, hubEntries []hubenum.Entry, portByIdentifier map[string]portenum.PortInfo) (cache.Record, bool) {
	if h, ok := hubByIdentifier[identifier]; ok {
		dev := ""
		if p, ok := portByIdentifier[identifier]; ok {
			dev = p.DevicePath
		}
		return cache.Record{Hub: h.HubID, Port: h.Port, Link: cache.LinkDirect, Identifier: identifier, Dev: dev}, true
	}

	p, ok := portByIdentifier[identifier]
	if !ok {
		return cache.Record{}, false
	}

	// Indirect classification must check every hub in the enumerator
	// snapshot (spec.md section 4.F/3b, property P4), not just the
	// subset with a directly-identified leaf device: a sub-hub may sit
	// behind a governing hub whose own port exposes no identifier at
	// all (hubByIdentifier drops those entries).
	if hub, port, ok := nearestHub(p.Location, hubEntries); ok {
		return cache.Record{Hub: hub, Port: port, Link: cache.LinkIndirect, Identifier: identifier, Dev: p.DevicePath}, true
	}

	return cache.Record{Hub: "-", Port: "-", Link: cache.LinkNoHub, Identifier: identifier, Dev: p.DevicePath}, true
}

// nearestHub finds a controllable hub h (from hubEntries) such that
// location begins with "h.", and returns h plus the first path segment
// after it — mirrors internal/resolver's indirectHub, which iterates
// the same full hubEntries slice rather than an identifier-keyed map.
func nearestHub(location string, hubEntries []hubenum.Entry) (hub, port string, ok bool) {
	if location == "" {
		return "", "", false
	}
	seen := make(map[string]bool)
	for _, h := range hubEntries {
		if seen[h.HubID] {
			continue
		}
		seen[h.HubID] = true
		prefix := h.HubID + "."
		if strings.HasPrefix(location, prefix) {
			rest := strings.TrimPrefix(location, prefix)
			if idx := strings.Index(rest, "."); idx >= 0 {
				rest = rest[:idx]
			}
			return h.HubID, rest, true
		}
	}
	return "", "", false
}

func splitLocation(location string) (hub, port string) {
	idx := strings.LastIndex(location, ".")
	if idx < 0 {
		return location, ""
	}
	return location[:idx], location[idx+1:]
}
