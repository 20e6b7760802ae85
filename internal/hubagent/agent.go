// SPDX-License-Identifier: Apache-2.0

package hubagent

import (
	"context"
	"strings"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.bug.st/serial"

	"github.com/mvalvekens/usb-device/internal/hotplug"
	"github.com/mvalvekens/usb-device/internal/portenum"
	"github.com/mvalvekens/usb-device/internal/probe"
	"github.com/mvalvekens/usb-device/internal/registry"
)

// probeType is the registry "type" tag that gates the bootloader
// handshake (spec.md section 4.K: only devices known to run the
// project's own firmware are ever probed).
const probeType = "esp32"

// settleDelay is how long Run waits after a hotplug signal before
// re-scanning, giving the OS time to finish enumerating a device that
// just appeared (spec.md section 4.K).
const settleDelay = 500 * time.Millisecond

const controllerBaud = 115200

// PortEnumerator is the subset of *portenum.Enumerator the agent
// needs, narrowed for testability.
type PortEnumerator interface {
	Enumerate() ([]portenum.PortInfo, error)
}

// Prober is the subset of *probe.Prober the agent needs.
type Prober interface {
	Probe(identifier, path string) probe.State
	Forget(identifier string)
}

// conn is the minimal serial surface the agent needs to push a
// message to the hub controller, narrowed like probe's transport so
// tests can supply a fake instead of opening real hardware.
type conn interface {
	Write([]byte) (int, error)
	Close() error
}

// Config carries the parts of a hub's "[hub:NAME]" registry section
// the agent needs beyond the lookup fields resolveControllerPath
// already consumes.
type Config struct {
	// Name is the hub: section name.
	Name string
	// Topology is the OS USB topology prefix of the physical hub
	// enclosure housing the display channels (e.g. "20-2"), so
	// channelFor can map a device's full topology path to a channel.
	// Derived from the hub section's location= field (see
	// HubTopologyPrefix); there is no way to auto-detect this path
	// component directly, since it describes the physical port the hub
	// itself is plugged into, not any single device on it.
	Topology string
	// Channels is the hub's total channel count.
	Channels int
}

// Agent is the display-hub main loop: it merges hotplug events and a
// keepalive timer, classifies every registered device currently
// visible against its display channel, and pushes the result to the
// hub controller as JSON-over-serial (spec.md section 4.K).
type Agent struct {
	Config   Config
	Registry *registry.Registry
	PortEnum PortEnumerator
	Prober   Prober
	Hotplug  hotplug.Source
	Logger   log.Logger
	Metrics  *Metrics

	dial    func(path string) (conn, error)
	resolve func() (string, error)

	channelOf map[string]int
	c         conn
}

// New builds an Agent for the given hub configuration. hubCfg must be
// the registry's "[hub:Config.Name]" section; its port/mac/serial
// fields are used to locate the controller's serial port (see
// resolveControllerPath).
func New(cfg Config, reg *registry.Registry, hubCfg registry.HubConfig, portEnum PortEnumerator, prober Prober, source hotplug.Source, logger log.Logger, metrics *Metrics) *Agent {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Agent{
		Config:    cfg,
		Registry:  reg,
		PortEnum:  portEnum,
		Prober:    prober,
		Hotplug:   source,
		Logger:    logger,
		Metrics:   metrics,
		channelOf: make(map[string]int),
		dial: func(path string) (conn, error) {
			return serial.Open(path, &serial.Mode{BaudRate: controllerBaud})
		},
		resolve: func() (string, error) {
			return resolveControllerPath(hubCfg, portEnum)
		},
	}
}

// resolveControllerPath finds the OS device path of the hub controller
// itself. spec.md section 4.K calls for "auto-detect by USB product
// string", but go.bug.st/serial/enumerator does not expose a product
// string field to match against; this treats the controller as an
// ordinary device addressed by the hub section's mac=/serial= field
// (resolved via the same port enumerator identifier match used for
// every other device), with an explicit port= field as a direct
// override for hosts where no such identifier is available.
func resolveControllerPath(hubCfg registry.HubConfig, portEnum PortEnumerator) (string, error) {
	if p := hubCfg.Fields["port"]; p != "" {
		return p, nil
	}

	id := hubCfg.Fields["mac"]
	if id == "" {
		id = hubCfg.Fields["serial"]
	}
	if id == "" {
		return "", errors.Newf("hub %q has neither port= nor mac=/serial= set; cannot locate its controller", hubCfg.Name)
	}

	ports, err := portEnum.Enumerate()
	if err != nil {
		return "", errors.Wrapf(err, "failed to enumerate ports while locating hub %q controller", hubCfg.Name)
	}
	want := strings.ToUpper(id)
	for _, p := range ports {
		if strings.ToUpper(p.Identifier) == want {
			return p.DevicePath, nil
		}
	}
	return "", errors.Newf("hub %q controller (identifier %s) is not currently connected", hubCfg.Name, id)
}

// Run drives the agent until ctx is cancelled, syncing once
// immediately and again on every hotplug signal or keepalive tick,
// per spec.md section 4.K.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(hotplug.KeepaliveInterval)
	defer ticker.Stop()

	for {
		if err := a.SyncOnce(ctx); err != nil {
			a.Metrics.syncErrorsTotal.Inc()
			_ = level.Warn(a.Logger).Log("msg", "sync pass failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-a.Hotplug.Signal():
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(settleDelay):
			}
		}
	}
}

// Snapshot classifies every registered device against its display
// channel without pushing anything to the controller, so callers like
// "usb-device-hub status" can report the agent's view without
// disturbing the display.
func (a *Agent) Snapshot(ctx context.Context) (map[int]ChannelState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ports, err := a.PortEnum.Enumerate()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate ports")
	}
	byIdentifier := make(map[string]portenum.PortInfo, len(ports))
	for _, p := range ports {
		byIdentifier[strings.ToUpper(p.Identifier)] = p
	}

	states := make(map[int]ChannelState)
	for _, dev := range a.Registry.Devices {
		if dev.IsStatic() || dev.Identifier == "" {
			continue
		}
		ch, cs, ok := a.classify(dev, byIdentifier)
		if !ok {
			continue
		}
		states[ch] = cs
	}
	return states, nil
}

// SyncOnce performs a single classify-and-push cycle, exported so
// "usb-device-hub sync" can trigger one pass without running the full
// Run loop.
func (a *Agent) SyncOnce(ctx context.Context) error {
	a.Metrics.syncsTotal.Inc()

	states, err := a.Snapshot(ctx)
	if err != nil {
		return err
	}
	a.Metrics.channelsInUse.Set(float64(len(states)))

	msg, err := buildPush(states, a.Config.Channels)
	if err != nil {
		return errors.Wrap(err, "failed to build push message")
	}
	if err := a.send(msg); err != nil {
		a.Metrics.pushErrorsTotal.Inc()
		return errors.Wrap(err, "failed to push to hub controller")
	}
	a.Metrics.pushesTotal.Inc()
	a.Metrics.lastSyncUnix.Set(float64(time.Now().Unix()))
	return nil
}

// classify resolves one device's current channel and display state.
// ok is false when the device cannot currently be mapped to a channel
// on this hub at all (never seen, and not presently connected).
func (a *Agent) classify(dev registry.Device, byIdentifier map[string]portenum.PortInfo) (int, ChannelState, bool) {
	id := strings.ToUpper(dev.Identifier)
	name := displayName(dev)

	p, present := byIdentifier[id]
	if !present {
		ch, known := a.channelOf[dev.Name]
		if !known {
			return 0, ChannelState{}, false
		}
		a.Prober.Forget(id)
		return ch, ChannelState{
			Identifier:  dev.Identifier,
			DisplayName: name,
			Detail:      "unplugged",
			State:       Disconnected,
		}, true
	}

	ch, ok := channelFor(a.Config.Topology, p.Location, a.Config.Channels)
	if !ok {
		return 0, ChannelState{}, false
	}
	a.channelOf[dev.Name] = ch

	state := Connected
	detail := p.DevicePath
	if dev.Type == probeType {
		switch a.Prober.Probe(id, p.DevicePath) {
		case probe.Bootloader:
			state = RunningBoot
			detail = "bootloader"
		case probe.Unknown:
			state = UnknownState
			detail = "no response"
		}
	}

	return ch, ChannelState{
		Identifier:  dev.Identifier,
		DevicePath:  p.DevicePath,
		DisplayName: name,
		Detail:      detail,
		State:       state,
	}, true
}

// send writes msg to the hub controller, lazily (re)dialing on first
// use or after a previous write failed.
func (a *Agent) send(msg []byte) error {
	if a.c == nil {
		path, err := a.resolve()
		if err != nil {
			return err
		}
		c, err := a.dial(path)
		if err != nil {
			return errors.Wrapf(err, "failed to open hub controller at %s", path)
		}
		a.c = c
	}

	if _, err := a.c.Write(msg); err != nil {
		_ = a.c.Close()
		a.c = nil
		return err
	}
	return nil
}

func displayName(dev registry.Device) string {
	name := dev.DisplayName
	if name == "" {
		name = dev.Name
	}
	return truncate(name, DisplayNameWidth)
}
