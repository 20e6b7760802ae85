// SPDX-License-Identifier: Apache-2.0

// Package plugin implements the per-type action dispatcher described
// in spec.md section 4.I: built-in Go implementations take precedence
// over bundled, then user, external executables.
package plugin

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/efficientgo/core/errors"
)

// Request is what the dispatcher hands to any plugin implementation,
// built-in or external.
type Request struct {
	Action     string
	Port       string
	DeviceName string
	Chip       string
}

// BuiltinFunc is a bundled, compiled-in plugin action.
type BuiltinFunc func(ctx context.Context, req Request) (string, error)

// UnknownActionError names both the type and the action that could not
// be dispatched, per spec.md section 4.I.
type UnknownActionError struct {
	Type   string
	Action string
}

func (e *UnknownActionError) Error() string {
	return "no plugin implements action \"" + e.Action + "\" for type \"" + e.Type + "\""
}

// Dispatcher resolves (type, action) pairs, first against compiled-in
// Builtins, then against an external executable named after the type
// found in Dirs, searched in order (bundled directory first, then the
// user plugin directory).
type Dispatcher struct {
	Builtins map[string]map[string]BuiltinFunc
	Dirs     []string
}

// New returns a Dispatcher searching dirs in order (bundled, then
// user) for external plugin executables.
func New(dirs ...string) *Dispatcher {
	return &Dispatcher{Builtins: make(map[string]map[string]BuiltinFunc), Dirs: dirs}
}

// Register adds a built-in action for typ. Built-ins always win over
// an external executable of the same name.
func (d *Dispatcher) Register(typ, action string, fn BuiltinFunc) {
	if d.Builtins[typ] == nil {
		d.Builtins[typ] = make(map[string]BuiltinFunc)
	}
	d.Builtins[typ][action] = fn
}

// Dispatch runs action for a device of type typ. Positional arguments
// to an external plugin are (action, port-path, device-name, chip),
// per the open-question resolution in spec.md section 9: this keeps
// built-in and external plugins symmetric, both taking the same
// ordered parameter list.
func (d *Dispatcher) Dispatch(ctx context.Context, typ string, req Request) (string, error) {
	if fn, ok := d.Builtins[typ][req.Action]; ok {
		return fn(ctx, req)
	}

	path, ok := d.findExecutable(typ)
	if !ok {
		return "", &UnknownActionError{Type: typ, Action: req.Action}
	}
	return runExternal(ctx, path, req)
}

// Commands reports the extra actions a type contributes beyond the
// built-in generic action set: the union of compiled-in action names
// and whatever the external plugin's own "commands" action reports.
func (d *Dispatcher) Commands(ctx context.Context, typ string) []string {
	var out []string
	for action := range d.Builtins[typ] {
		out = append(out, action)
	}
	if path, ok := d.findExecutable(typ); ok {
		if text, err := runExternal(ctx, path, Request{Action: "commands"}); err == nil {
			out = append(out, strings.Fields(text)...)
		}
	}
	return out
}

// Check runs the type's optional dependency-check action, if any, for
// "usb-device check". ok is false when the type declares no check
// action at all (as opposed to declaring one that failed).
func (d *Dispatcher) Check(ctx context.Context, typ string) (output string, ok bool, err error) {
	if fn, has := d.Builtins[typ]["check"]; has {
		out, err := fn(ctx, Request{Action: "check"})
		return out, true, err
	}
	path, has := d.findExecutable(typ)
	if !has {
		return "", false, nil
	}
	out, err := runExternal(ctx, path, Request{Action: "check"})
	return out, true, err
}

func (d *Dispatcher) findExecutable(typ string) (string, bool) {
	for _, dir := range d.Dirs {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, typ)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode()&0o111 != 0 {
			return path, true
		}
	}
	return "", false
}

func runExternal(ctx context.Context, path string, req Request) (string, error) {
	cmd := exec.CommandContext(ctx, path, req.Action, req.Port, req.DeviceName, req.Chip)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "plugin %s failed: %s", path, out.String())
	}
	return strings.TrimSpace(out.String()), nil
}
