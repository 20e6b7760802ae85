// SPDX-License-Identifier: Apache-2.0

// Package power implements the port/hub power-cycle engine described
// in spec.md section 4.G: on/off, and reset's escalation from
// port-level cycle to hub-level cycle with re-enumeration confirmation.
package power

import (
	"context"
	"os/exec"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mvalvekens/usb-device/internal/cache"
	"github.com/mvalvekens/usb-device/internal/hubenum"
	"github.com/mvalvekens/usb-device/internal/lockmgr"
	"github.com/mvalvekens/usb-device/internal/portenum"
	"github.com/mvalvekens/usb-device/internal/resolver"
)

// ReenumerationTimeout is how long Reset waits for a device to
// reappear after a port-level cycle before escalating, per spec.md
// section 4.G.
const ReenumerationTimeout = 10 * time.Second

const pollInterval = 500 * time.Millisecond

// PortEnumerator is the subset of *portenum.Enumerator Reset needs to
// confirm re-enumeration.
type PortEnumerator interface {
	Enumerate() ([]portenum.PortInfo, error)
}

// Engine drives the external power-control tool and consults the lock
// manager (advisory only) before any mutating operation.
type Engine struct {
	Tool     string
	PortEnum PortEnumerator
	Cache    *cache.Cache
	Locks    *lockmgr.Manager
	Logger   log.Logger
}

// New returns a ready-to-use Engine. tool defaults to
// hubenum.DefaultTool when empty.
func New(tool string, portEnum PortEnumerator, c *cache.Cache, locks *lockmgr.Manager, logger log.Logger) *Engine {
	if tool == "" {
		tool = hubenum.DefaultTool
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Engine{Tool: tool, PortEnum: portEnum, Cache: c, Locks: locks, Logger: logger}
}

// Off cuts power to dev's port.
func (e *Engine) Off(ctx context.Context, dev resolver.ResolvedDevice) error {
	e.warnIfLocked(dev.Device.Name)
	return e.run(ctx, "off", dev.Hub, dev.Port)
}

// On restores power to dev's port.
func (e *Engine) On(ctx context.Context, dev resolver.ResolvedDevice) error {
	e.warnIfLocked(dev.Device.Name)
	return e.run(ctx, "on", dev.Hub, dev.Port)
}

// Confirm is consulted by Reset before escalating to a whole-hub
// cycle; it is given the names of other devices sharing dev.Hub
// (drawn from the cache) and returns whether to proceed.
type Confirm func(siblings []string) bool

// Reset implements spec.md section 4.G's escalation: cycle the port,
// wait for re-enumeration; if that fails and force is false, ask
// confirm (listing devices sharing the hub); on confirmation (or
// force), cycle the whole hub and wait once more. A second failure is
// reported but not fatal.
func (e *Engine) Reset(ctx context.Context, dev resolver.ResolvedDevice, force bool, confirm Confirm) error {
	e.warnIfLocked(dev.Device.Name)

	if err := e.run(ctx, "cycle", dev.Hub, dev.Port); err != nil {
		return err
	}
	if e.awaitReenumeration(ctx, dev) {
		return nil
	}

	if !force {
		siblings := e.siblings(dev)
		if confirm != nil && !confirm(siblings) {
			return errors.Newf("reset of %q aborted: device did not reappear and hub-level cycle was not confirmed", dev.Device.Name)
		}
		if confirm == nil {
			return errors.Newf("device %q did not reappear after a port cycle; re-run with --force to cycle the whole hub", dev.Device.Name)
		}
	}

	if err := e.run(ctx, "cycle", dev.Hub, ""); err != nil {
		return err
	}
	if !e.awaitReenumeration(ctx, dev) {
		_ = level.Warn(e.Logger).Log("msg", "device did not reappear after hub-level cycle", "device", dev.Device.Name)
	}
	return nil
}

// awaitReenumeration polls the port enumerator for dev's identifier to
// reappear. Static (location-identified) devices have no serial
// identity to watch for, so the wait is a no-op success.
func (e *Engine) awaitReenumeration(ctx context.Context, dev resolver.ResolvedDevice) bool {
	if dev.Device.IsStatic() || dev.Device.Identifier == "" || e.PortEnum == nil {
		return true
	}

	deadline := time.Now().Add(ReenumerationTimeout)
	for {
		ports, err := e.PortEnum.Enumerate()
		if err == nil {
			for _, p := range ports {
				if p.Identifier == dev.Device.Identifier {
					return true
				}
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

// siblings lists other device names currently recorded in the cache
// as sharing dev.Hub.
func (e *Engine) siblings(dev resolver.ResolvedDevice) []string {
	if e.Cache == nil {
		return nil
	}
	var names []string
	for name, rec := range e.Cache.List() {
		if name != dev.Device.Name && rec.Hub == dev.Hub {
			names = append(names, name)
		}
	}
	return names
}

func (e *Engine) warnIfLocked(name string) {
	if e.Locks == nil {
		return
	}
	locks, err := e.Locks.List()
	if err != nil {
		return
	}
	slug := lockmgr.Slug(name)
	for _, l := range locks {
		if l.Slug == slug && !l.Stale {
			_ = level.Warn(e.Logger).Log("msg", "mutating a device held by another live owner", "device", name, "owner", l.Info.Owner, "purpose", l.Info.Purpose)
		}
	}
}

// run invokes the external power-control tool. An empty port cycles
// the whole hub rather than a single port.
func (e *Engine) run(ctx context.Context, action, hub, port string) error {
	args := []string{"-a", action, "-l", hub}
	if port != "" {
		args = append(args, "-p", port)
	}
	cmd := exec.CommandContext(ctx, e.Tool, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "power %s on hub %s failed: %s", action, hub, string(out))
	}
	return nil
}
