// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDispatchBuiltinWinsOverExternal(t *testing.T) {
	bundled := t.TempDir()
	writeScript(t, bundled, "esp32", "echo external")

	d := New(bundled)
	d.Register("esp32", "boot", func(ctx context.Context, req Request) (string, error) {
		return "builtin", nil
	})

	out, err := d.Dispatch(context.Background(), "esp32", Request{Action: "boot"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out != "builtin" {
		t.Errorf("expected built-in to win, got %q", out)
	}
}

func TestDispatchFallsBackToBundledExecutable(t *testing.T) {
	bundled := t.TempDir()
	writeScript(t, bundled, "esp32", `echo "action=$1 port=$2 name=$3 chip=$4"`)

	d := New(bundled)
	out, err := d.Dispatch(context.Background(), "esp32", Request{Action: "boot", Port: "/dev/ttyACM0", DeviceName: "Dev", Chip: "esp32s3"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want := "action=boot port=/dev/ttyACM0 name=Dev chip=esp32s3"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestDispatchSearchOrderBundledBeforeUser(t *testing.T) {
	bundled, user := t.TempDir(), t.TempDir()
	writeScript(t, bundled, "esp32", "echo bundled")
	writeScript(t, user, "esp32", "echo user")

	d := New(bundled, user)
	out, err := d.Dispatch(context.Background(), "esp32", Request{Action: "boot"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out != "bundled" {
		t.Errorf("expected bundled dir to win, got %q", out)
	}
}

func TestDispatchUnknownActionNamesBoth(t *testing.T) {
	d := New()
	_, err := d.Dispatch(context.Background(), "esp32", Request{Action: "frobnicate"})
	uaErr, ok := err.(*UnknownActionError)
	if !ok {
		t.Fatalf("expected *UnknownActionError, got %T", err)
	}
	if uaErr.Type != "esp32" || uaErr.Action != "frobnicate" {
		t.Errorf("unexpected error fields: %+v", uaErr)
	}
}

func TestCheckReportsNoCheckAction(t *testing.T) {
	d := New()
	_, ok, err := d.Check(context.Background(), "generic")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if ok {
		t.Error("expected ok=false when no check action is declared")
	}
}

func TestCommandsUnionsBuiltinAndExternal(t *testing.T) {
	bundled := t.TempDir()
	writeScript(t, bundled, "esp32", `echo "monitor"`)

	d := New(bundled)
	d.Register("esp32", "boot", func(ctx context.Context, req Request) (string, error) { return "", nil })

	cmds := d.Commands(context.Background(), "esp32")
	found := map[string]bool{}
	for _, c := range cmds {
		found[c] = true
	}
	if !found["boot"] || !found["monitor"] {
		t.Errorf("expected both boot and monitor in %v", cmds)
	}
}
