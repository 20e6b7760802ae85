// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEmptyIsZeroState(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "locations.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.List()) != 0 {
		t.Errorf("expected empty cache, got %v", c.List())
	}
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.json")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rec := Record{Hub: "20-2", Port: "1", Link: LinkDirect, Identifier: "AA:AA:AA:AA:AA:AA", LastSeen: time.Now().UTC()}
	if err := c.Put("Device A", rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Reload from disk to make sure the write was persisted.
	c2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := c2.Get("Device A")
	if !ok {
		t.Fatal("expected record after reload")
	}
	if got.Hub != "20-2" || got.Port != "1" || got.Link != LinkDirect {
		t.Errorf("unexpected record: %+v", got)
	}

	if err := c2.Delete("Device A"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := c2.Get("Device A"); ok {
		t.Error("expected record to be gone after Delete")
	}

	// Deleting something absent must succeed silently.
	if err := c2.Delete("Nonexistent"); err != nil {
		t.Errorf("Delete of absent record should succeed silently: %v", err)
	}
}

func TestByHubPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.json")
	c, _ := Load(path)
	_ = c.Put("Device A", Record{Hub: "20-2", Port: "1", Link: LinkDirect})

	name, ok := c.ByHubPort("20-2", "1")
	if !ok || name != "Device A" {
		t.Errorf("expected Device A at (20-2, 1), got %q, %v", name, ok)
	}

	if _, ok := c.ByHubPort("20-2", "2"); ok {
		t.Error("expected no match at (20-2, 2)")
	}
}

func TestReplaceAllEnforcesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.json")
	c, _ := Load(path)
	_ = c.Put("Device A", Record{Hub: "20-2", Port: "1", Link: LinkDirect})

	// Scenario 3 from spec.md section 8: a rescan that no longer sees
	// Device A but now sees Device B at the same port replaces the
	// whole snapshot; Device A must vanish.
	next := map[string]Record{
		"Device B": {Hub: "20-2", Port: "1", Link: LinkDirect, Identifier: "BB:BB:BB:BB:BB:BB"},
	}
	if err := c.ReplaceAll(next); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	if _, ok := c.Get("Device A"); ok {
		t.Error("Device A should have been evicted")
	}
	if _, ok := c.Get("Device B"); !ok {
		t.Error("Device B should be present")
	}
}
