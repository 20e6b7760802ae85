// SPDX-License-Identifier: Apache-2.0

// Package resolver maps user-provided fuzzy names to physical USB
// locations, fusing the registry, the location cache, and (optionally)
// live hub/port enumerator evidence into a single ResolvedDevice, per
// spec.md section 4.E.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mvalvekens/usb-device/internal/cache"
	"github.com/mvalvekens/usb-device/internal/hubenum"
	"github.com/mvalvekens/usb-device/internal/portenum"
	"github.com/mvalvekens/usb-device/internal/registry"
)

// MaxCandidates caps the number of registered names listed in a
// NotFoundError, per spec.md section 4.E ("up to some cap").
const MaxCandidates = 50

// ResolvedDevice is the fused view of a device's identity and current
// (or last-known) topology.
type ResolvedDevice struct {
	Device     registry.Device
	Hub        string
	Port       string
	Link       cache.Link
	Identifier string
	Dev        string // resolved serial device path, if known
}

// NotFoundError is returned when no registered device matches a query
// at any tier.
type NotFoundError struct {
	Query      string
	Candidates []string
}

func (e *NotFoundError) Error() string {
	list := e.Candidates
	truncated := false
	if len(list) > MaxCandidates {
		list = list[:MaxCandidates]
		truncated = true
	}
	msg := fmt.Sprintf("no registered device matches %q; known devices: %s", e.Query, strings.Join(list, ", "))
	if truncated {
		msg += ", ..."
	}
	return msg
}

// TopologyUnavailableError is returned when a device's identity is
// resolved but neither live evidence nor a cache entry can supply its
// topology (it has no cache entry, and either no live pass was run or
// the live pass did not see it).
type TopologyUnavailableError struct {
	Name string
}

func (e *TopologyUnavailableError) Error() string {
	return fmt.Sprintf("no location data available for %q (no cached location, and no live evidence for it)", e.Name)
}

// Options controls how topology is resolved once a device has been
// matched. HubEnum/PortEnum are only consulted when Live is true.
type Options struct {
	Live     bool
	HubEnum  *hubenum.Enumerator
	PortEnum *portenum.Enumerator
	Logger   log.Logger
}

// Resolve implements spec.md section 4.E's three-tier fuzzy match
// followed by topology resolution.
func Resolve(ctx context.Context, query string, reg *registry.Registry, c *cache.Cache, opts Options) (ResolvedDevice, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	dev, err := match(query, reg, logger)
	if err != nil {
		return ResolvedDevice{}, err
	}

	return resolveTopology(ctx, dev, c, opts)
}

// match runs the three name-matching tiers in order; the first
// non-empty tier wins.
func match(query string, reg *registry.Registry, logger log.Logger) (registry.Device, error) {
	lowerQuery := strings.ToLower(query)

	var exact, substr []registry.Device
	for _, d := range reg.Devices {
		lowerName := strings.ToLower(d.Name)
		if lowerName == lowerQuery {
			exact = append(exact, d)
		}
		if strings.Contains(lowerName, lowerQuery) {
			substr = append(substr, d)
		}
	}
	if len(exact) > 0 {
		return pick(exact, logger, query)
	}
	if len(substr) > 0 {
		return pick(substr, logger, query)
	}

	re, err := regexp.Compile("(?i)" + query)
	if err == nil {
		var regexMatches []registry.Device
		for _, d := range reg.Devices {
			if re.MatchString(d.Name) {
				regexMatches = append(regexMatches, d)
			}
		}
		if len(regexMatches) > 0 {
			return pick(regexMatches, logger, query)
		}
	}

	return registry.Device{}, &NotFoundError{Query: query, Candidates: reg.Names()}
}

// pick returns the first match in registry order, emitting a
// diagnostic if more than one device matched at this tier.
func pick(matches []registry.Device, logger log.Logger, query string) (registry.Device, error) {
	if len(matches) > 1 {
		names := make([]string, len(matches))
		for i, d := range matches {
			names[i] = d.Name
		}
		_ = level.Warn(logger).Log("msg", "ambiguous device name; using first match in registry order", "query", query, "matches", strings.Join(names, ", "))
	}
	return matches[0], nil
}

// resolveTopology fills in Hub/Port/Link/Dev for a matched device.
func resolveTopology(ctx context.Context, dev registry.Device, c *cache.Cache, opts Options) (ResolvedDevice, error) {
	if dev.IsStatic() {
		hub, port, err := splitLocation(dev.Location)
		if err != nil {
			return ResolvedDevice{}, err
		}
		return ResolvedDevice{Device: dev, Hub: hub, Port: port, Link: cache.LinkStatic}, nil
	}

	if opts.Live && opts.PortEnum != nil {
		if resolved, ok, err := resolveLive(ctx, dev, opts); err != nil {
			return ResolvedDevice{}, err
		} else if ok {
			return resolved, nil
		}
		// Fall through to cache: live evidence found nothing, but a
		// prior scan may still know where the device last was.
	}

	if c != nil {
		if rec, ok := c.Get(dev.Name); ok {
			return ResolvedDevice{
				Device:     dev,
				Hub:        rec.Hub,
				Port:       rec.Port,
				Link:       cache.LinkCached,
				Identifier: rec.Identifier,
				Dev:        rec.Dev,
			}, nil
		}
	}

	return ResolvedDevice{}, &TopologyUnavailableError{Name: dev.Name}
}

func resolveLive(ctx context.Context, dev registry.Device, opts Options) (ResolvedDevice, bool, error) {
	ports, err := opts.PortEnum.Enumerate()
	if err != nil {
		return ResolvedDevice{}, false, err
	}

	var portEntry *portenum.PortInfo
	for i := range ports {
		if strings.EqualFold(ports[i].Identifier, dev.Identifier) {
			portEntry = &ports[i]
			break
		}
	}

	var hubEntries []hubenum.Entry
	if opts.HubEnum != nil {
		hubEntries = opts.HubEnum.Enumerate(ctx)
	}
	for _, h := range hubEntries {
		if h.Identifier != "" && strings.EqualFold(h.Identifier, dev.Identifier) {
			devPath := ""
			if portEntry != nil {
				devPath = portEntry.DevicePath
			}
			return ResolvedDevice{
				Device:     dev,
				Hub:        h.HubID,
				Port:       h.Port,
				Link:       cache.LinkDirect,
				Identifier: dev.Identifier,
				Dev:        devPath,
			}, true, nil
		}
	}

	if portEntry == nil {
		return ResolvedDevice{}, false, nil
	}

	if hub, port, ok := indirectHub(portEntry.Location, hubEntries); ok {
		return ResolvedDevice{
			Device:     dev,
			Hub:        hub,
			Port:       port,
			Link:       cache.LinkIndirect,
			Identifier: dev.Identifier,
			Dev:        portEntry.DevicePath,
		}, true, nil
	}

	return ResolvedDevice{
		Device:     dev,
		Hub:        "-",
		Port:       "-",
		Link:       cache.LinkNoHub,
		Identifier: dev.Identifier,
		Dev:        portEntry.DevicePath,
	}, true, nil
}

// indirectHub finds a hub h (from hubEntries) such that location
// begins with "h.", and returns h plus the first path segment after
// it — the nearest controllable port, per spec.md section 4.E/4.F.
func indirectHub(location string, hubEntries []hubenum.Entry) (hub, port string, ok bool) {
	if location == "" {
		return "", "", false
	}
	seenHubs := make(map[string]bool)
	for _, h := range hubEntries {
		if seenHubs[h.HubID] {
			continue
		}
		seenHubs[h.HubID] = true
		prefix := h.HubID + "."
		if strings.HasPrefix(location, prefix) {
			rest := strings.TrimPrefix(location, prefix)
			segment := rest
			if idx := strings.Index(rest, "."); idx >= 0 {
				segment = rest[:idx]
			}
			return h.HubID, segment, true
		}
	}
	return "", "", false
}

// splitLocation implements the location=H-P[.P]* -> (hub, port) split
// at the last dot, per spec.md section 4.E ("20-2.3" -> hub "20-2",
// port "3").
func splitLocation(location string) (hub, port string, err error) {
	idx := strings.LastIndex(location, ".")
	if idx < 0 {
		return "", "", fmt.Errorf("malformed location %q: expected hub-port.port form", location)
	}
	return location[:idx], location[idx+1:], nil
}
