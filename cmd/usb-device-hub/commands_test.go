// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mvalvekens/usb-device/internal/hubagent"
)

func TestDecodeHubSettingsConvertsStringChannels(t *testing.T) {
	settings, err := decodeHubSettings(map[string]string{"location": "20-3.3", "channels": "4"})
	if err != nil {
		t.Fatalf("decodeHubSettings: %v", err)
	}
	if settings.Location != "20-3.3" || settings.Channels != 4 {
		t.Errorf("settings = %+v", settings)
	}
}

func TestDecodeHubSettingsRejectsNonNumericChannels(t *testing.T) {
	if _, err := decodeHubSettings(map[string]string{"channels": "abc"}); err == nil {
		t.Error("expected an error for a non-numeric channels= value")
	}
}

func TestDecodeHubSettingsDefaultsChannelsWhenAbsent(t *testing.T) {
	settings, err := decodeHubSettings(map[string]string{"location": "20-3.3"})
	if err != nil {
		t.Fatalf("decodeHubSettings: %v", err)
	}
	if settings.Channels != 0 {
		t.Errorf("expected zero-value Channels when absent, got %d", settings.Channels)
	}
}

func TestAutostartHintNamesTheAction(t *testing.T) {
	install := autostartHint("install")
	uninstall := autostartHint("uninstall")
	if install == uninstall {
		t.Error("expected install and uninstall hints to differ")
	}
}

func TestTailLogCopiesLinesAndStopsAtEOFWithoutFollow(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("first\nsecond\n")
	if err := tailLog(&out, in, false); err != nil {
		t.Fatalf("tailLog: %v", err)
	}
	if out.String() != "first\nsecond\n" {
		t.Errorf("out = %q", out.String())
	}
}

func TestPrintChannelsOrdersByChannelNumber(t *testing.T) {
	var out bytes.Buffer
	states := map[int]hubagent.ChannelState{
		3: {DisplayName: "third", State: hubagent.Connected},
		1: {DisplayName: "first", State: hubagent.Disconnected},
	}
	printChannels(&out, states)
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "first") || !strings.Contains(lines[1], "third") {
		t.Errorf("expected channel 1 before channel 3, got %v", lines)
	}
}
