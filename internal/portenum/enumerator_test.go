// SPDX-License-Identifier: Apache-2.0

package portenum

import "testing"

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	in := []PortInfo{
		{Identifier: "AA:AA:AA:AA:AA:AA", DevicePath: "/dev/cu.usbmodem101"},
		{Identifier: "AA:AA:AA:AA:AA:AA", DevicePath: "/dev/cu.usbmodem102"},
		{Identifier: "BB:BB:BB:BB:BB:BB", DevicePath: "/dev/cu.usbmodem103"},
	}
	out := dedupe(in, nil)
	if len(out) != 2 {
		t.Fatalf("expected 2 entries after dedupe, got %d: %+v", len(out), out)
	}
	if out[0].DevicePath != "/dev/cu.usbmodem101" {
		t.Errorf("expected first occurrence to survive, got %+v", out[0])
	}
	if out[1].Identifier != "BB:BB:BB:BB:BB:BB" {
		t.Errorf("expected second unique identifier to survive, got %+v", out[1])
	}
}
