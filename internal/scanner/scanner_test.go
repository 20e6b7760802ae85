// SPDX-License-Identifier: Apache-2.0

package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/mvalvekens/usb-device/internal/cache"
	"github.com/mvalvekens/usb-device/internal/hubenum"
	"github.com/mvalvekens/usb-device/internal/portenum"
	"github.com/mvalvekens/usb-device/internal/registry"
)

type fakeHubEnumerator []hubenum.Entry

func (f fakeHubEnumerator) Enumerate(ctx context.Context) []hubenum.Entry { return f }

type fakePortEnumerator []portenum.PortInfo

func (f fakePortEnumerator) Enumerate() ([]portenum.PortInfo, error) { return f, nil }

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Load(t.TempDir() + "/locations.json")
	if err != nil {
		t.Fatalf("cache.Load: %v", err)
	}
	return c
}

func TestScanDirectLink(t *testing.T) {
	// Scenario 1 from spec.md section 8: the device's identifier shows
	// up directly on a hub port.
	reg := &registry.Registry{Devices: []registry.Device{
		{Name: "Device A", Identity: registry.IdentityMAC, Identifier: "AA:AA:AA:AA:AA:AA"},
	}}
	hubs := fakeHubEnumerator{{HubID: "20-2", Port: "1", Identifier: "AA:AA:AA:AA:AA:AA"}}
	ports := fakePortEnumerator{{Identifier: "AA:AA:AA:AA:AA:AA", DevicePath: "/dev/ttyACM0"}}
	c := newTestCache(t)

	results, err := Scan(context.Background(), reg, c, hubs, ports, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 || !results[0].Found {
		t.Fatalf("expected one found result, got %+v", results)
	}
	if results[0].Record.Link != cache.LinkDirect || results[0].Record.Hub != "20-2" || results[0].Record.Port != "1" {
		t.Errorf("unexpected record: %+v", results[0].Record)
	}

	rec, ok := c.Get("Device A")
	if !ok || rec.Link != cache.LinkDirect {
		t.Errorf("expected persisted direct record, got %+v ok=%v", rec, ok)
	}
}

func TestScanNoHub(t *testing.T) {
	// Scenario 2 from spec.md section 8: port evidence exists but no
	// hub governs it.
	reg := &registry.Registry{Devices: []registry.Device{
		{Name: "Lone Device", Identity: registry.IdentitySerial, Identifier: "BB:BB:BB:BB:BB:BB"},
	}}
	ports := fakePortEnumerator{{Identifier: "BB:BB:BB:BB:BB:BB", DevicePath: "/dev/ttyUSB0", Location: "3-1"}}
	c := newTestCache(t)

	results, err := Scan(context.Background(), reg, c, fakeHubEnumerator(nil), ports, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !results[0].Found || results[0].Record.Link != cache.LinkNoHub {
		t.Errorf("expected no-hub found result, got %+v", results[0])
	}
}

func TestScanIndirectThroughSubHubWithNoLeafIdentifier(t *testing.T) {
	// Section 4.F/3b and P4: a device behind a sub-hub must still
	// classify indirect even when the governing hub's own port exposes
	// no identifier (e.g. an unpopulated "hub"/"empty" port) — the hub
	// in question never makes it into hubByIdentifier.
	reg := &registry.Registry{Devices: []registry.Device{
		{Name: "Behind Sub-Hub", Identity: registry.IdentityMAC, Identifier: "DD:DD:DD:DD:DD:DD"},
	}}
	hubs := fakeHubEnumerator{{HubID: "20-2", Port: "2", State: hubenum.PortHub}}
	ports := fakePortEnumerator{{Identifier: "DD:DD:DD:DD:DD:DD", DevicePath: "/dev/ttyACM2", Location: "20-2.2.1"}}
	c := newTestCache(t)

	results, err := Scan(context.Background(), reg, c, hubs, ports, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !results[0].Found || results[0].Record.Link != cache.LinkIndirect {
		t.Fatalf("expected indirect found result, got %+v", results[0])
	}
	if results[0].Record.Hub != "20-2" || results[0].Record.Port != "2" {
		t.Errorf("expected hub=20-2 port=2, got %+v", results[0].Record)
	}
}

func TestScanMissingKeepsStaleCacheEntry(t *testing.T) {
	// P3/P1: a device with no evidence this pass stays at its last
	// known (stale) location rather than being dropped.
	reg := &registry.Registry{Devices: []registry.Device{
		{Name: "Ghost", Identity: registry.IdentityMAC, Identifier: "CC:CC:CC:CC:CC:CC"},
	}}
	c := newTestCache(t)
	stale := cache.Record{Hub: "20-2", Port: "4", Link: cache.LinkDirect, Identifier: "CC:CC:CC:CC:CC:CC", LastSeen: time.Unix(1, 0)}
	if err := c.Put("Ghost", stale); err != nil {
		t.Fatalf("Put: %v", err)
	}

	results, err := Scan(context.Background(), reg, c, fakeHubEnumerator(nil), fakePortEnumerator(nil), time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if results[0].Found {
		t.Errorf("expected Found=false for a device with no evidence this pass")
	}

	rec, ok := c.Get("Ghost")
	if !ok || rec.LastSeen != stale.LastSeen {
		t.Errorf("expected stale record to survive untouched, got %+v ok=%v", rec, ok)
	}
}

func TestScanEvictsPreviousOccupant(t *testing.T) {
	// Scenario 3 from spec.md section 8: Device B now claims the port
	// Device A was last recorded at; A's stale record is evicted.
	reg := &registry.Registry{Devices: []registry.Device{
		{Name: "Device A", Identity: registry.IdentityMAC, Identifier: "AA:AA:AA:AA:AA:AA"},
		{Name: "Device B", Identity: registry.IdentityMAC, Identifier: "BB:BB:BB:BB:BB:BB"},
	}}
	c := newTestCache(t)
	if err := c.Put("Device A", cache.Record{Hub: "20-2", Port: "1", Link: cache.LinkDirect, Identifier: "AA:AA:AA:AA:AA:AA"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	hubs := fakeHubEnumerator{{HubID: "20-2", Port: "1", Identifier: "BB:BB:BB:BB:BB:BB"}}
	ports := fakePortEnumerator{{Identifier: "BB:BB:BB:BB:BB:BB", DevicePath: "/dev/ttyACM1"}}

	if _, err := Scan(context.Background(), reg, c, hubs, ports, time.Unix(2000, 0)); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if _, ok := c.Get("Device A"); ok {
		t.Error("expected Device A's stale record to be evicted once Device B claims 20-2/1")
	}
	rec, ok := c.Get("Device B")
	if !ok || rec.Hub != "20-2" || rec.Port != "1" {
		t.Errorf("expected Device B to hold 20-2/1, got %+v ok=%v", rec, ok)
	}
}

func TestScanStaticDeviceNeverTouchesCache(t *testing.T) {
	// I3: a power/static device's topology comes purely from the
	// registry and never participates in cache writes.
	reg := &registry.Registry{Devices: []registry.Device{
		{Name: "Charger A", Identity: registry.IdentityLocation, Location: "20-2.3", Type: "power"},
	}}
	c := newTestCache(t)

	results, err := Scan(context.Background(), reg, c, fakeHubEnumerator(nil), fakePortEnumerator(nil), time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !results[0].Found || results[0].Record.Link != cache.LinkStatic || results[0].Record.Hub != "20-2" || results[0].Record.Port != "3" {
		t.Errorf("unexpected static result: %+v", results[0])
	}
	if _, ok := c.Get("Charger A"); ok {
		t.Error("expected static device to never be written to the cache")
	}
}

func TestScanTieBreakFavorsEarlierDevice(t *testing.T) {
	// Section 4.F ordering rule: when two registered devices would
	// both claim the same (hub, port) in one pass, the one declared
	// earlier in the registry wins; the other keeps its prior record.
	reg := &registry.Registry{Devices: []registry.Device{
		{Name: "First", Identity: registry.IdentityMAC, Identifier: "AA:AA:AA:AA:AA:AA"},
		{Name: "Second", Identity: registry.IdentityMAC, Identifier: "BB:BB:BB:BB:BB:BB"},
	}}
	c := newTestCache(t)
	// Contrive both identifiers to resolve to the same indirect port by
	// sharing a location prefix, simulating a misconfigured registry.
	hubs := fakeHubEnumerator{{HubID: "20-2", Port: "2", State: hubenum.PortHub}}
	ports := fakePortEnumerator{
		{Identifier: "AA:AA:AA:AA:AA:AA", DevicePath: "/dev/ttyACM0", Location: "20-2.2.1"},
		{Identifier: "BB:BB:BB:BB:BB:BB", DevicePath: "/dev/ttyACM1", Location: "20-2.2.1"},
	}

	results, err := Scan(context.Background(), reg, c, hubs, ports, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !results[0].Found {
		t.Errorf("expected First (declared earlier) to win the tie")
	}
	if results[1].Found {
		t.Errorf("expected Second to lose the tie and retain its prior (empty) record")
	}
}
