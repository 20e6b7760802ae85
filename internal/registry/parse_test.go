// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"strings"
	"testing"
)

func TestParseFlatAndSectionEquivalence(t *testing.T) {
	// P7: flat N=V and [N]\nmac=V\n must produce equivalent device
	// records for the generic type.
	flat := "Device A=AA:AA:AA:AA:AA:AA\n"
	section := "[Device A]\nmac=AA:AA:AA:AA:AA:AA\n"

	regFlat, err := Parse(strings.NewReader(flat), "flat.conf")
	if err != nil {
		t.Fatalf("flat parse: %v", err)
	}
	regSection, err := Parse(strings.NewReader(section), "section.conf")
	if err != nil {
		t.Fatalf("section parse: %v", err)
	}

	df, _ := regFlat.ByName("Device A")
	ds, _ := regSection.ByName("Device A")
	df.line, ds.line = 0, 0
	if df != ds {
		t.Errorf("flat and section forms diverged: %+v vs %+v", df, ds)
	}
}

func TestParseSectionForm(t *testing.T) {
	input := `
# a leading comment
[MPCB 1.9 Development]
mac=B8:F8:62:D2:2A:FC
type=esp32
chip=esp32s3

; another comment
[Charger A]
location=20-2.3
type=power

[hub:insight]
port=/dev/cu.usbmodemXXXX
location=20-3.3
`
	reg, err := Parse(strings.NewReader(input), "devices.conf")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(reg.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %d: %+v", len(reg.Devices), reg.Devices)
	}
	dev, ok := reg.ByName("MPCB 1.9 Development")
	if !ok {
		t.Fatal("expected MPCB device")
	}
	if dev.Identity != IdentityMAC || dev.Identifier != "B8:F8:62:D2:2A:FC" || dev.Type != "esp32" || dev.Chip != "esp32s3" {
		t.Errorf("unexpected device: %+v", dev)
	}

	charger, ok := reg.ByName("Charger A")
	if !ok {
		t.Fatal("expected Charger A")
	}
	if !charger.IsStatic() || charger.Location != "20-2.3" || charger.Type != "power" {
		t.Errorf("unexpected charger device: %+v", charger)
	}

	if len(reg.Hubs) != 1 {
		t.Fatalf("expected 1 hub config, got %d", len(reg.Hubs))
	}
	hub, ok := reg.Hubs["insight"]
	if !ok {
		t.Fatal("expected hub:insight config")
	}
	if hub.Fields["location"] != "20-3.3" {
		t.Errorf("unexpected hub fields: %+v", hub.Fields)
	}

	// hub: sections must never surface as devices.
	if _, ok := reg.ByName("insight"); ok {
		t.Error("hub config leaked into device table")
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "duplicate device name",
			input: "Device A=AA:AA:AA:AA:AA:AA\nDevice A=BB:BB:BB:BB:BB:BB\n",
			want:  "duplicate device name",
		},
		{
			name:  "both mac and location",
			input: "[Bad]\nmac=AA:AA:AA:AA:AA:AA\nlocation=20-2.3\n",
			want:  "declares both a serial identifier and a location",
		},
		{
			name:  "unknown key",
			input: "[Bad]\nmac=AA:AA:AA:AA:AA:AA\nbogus=1\n",
			want:  "unknown key",
		},
		{
			name:  "neither identifier",
			input: "[Bad]\ntype=generic\n",
			want:  "declares neither mac/serial nor location",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.input), "devices.conf")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.want)
			}
			if !strings.Contains(err.Error(), "devices.conf:") {
				t.Errorf("error %q missing file:line context", err.Error())
			}
		})
	}
}
