// SPDX-License-Identifier: Apache-2.0

package hubenum

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DefaultTool is the external power-controllable-hub tool invoked when
// no override is configured.
const DefaultTool = "uhubctl"

// Enumerator snapshots the power-controllable hubs visible to the
// host by shelling out to an external tool (spec.md section 4.C).
type Enumerator struct {
	// Tool is the path (or bare name, resolved via PATH) of the
	// external hub tool.
	Tool string
	// Args are extra arguments appended to every invocation.
	Args []string

	Logger log.Logger
}

// New returns an Enumerator that invokes tool (DefaultTool if empty).
func New(tool string, logger log.Logger) *Enumerator {
	if tool == "" {
		tool = DefaultTool
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Enumerator{Tool: tool, Logger: logger}
}

// Enumerate snapshots every power-controllable hub currently visible.
// Failure is deliberately silent (spec.md section 4.C): workstations
// without power-switchable hubs must still work for serial-only tasks,
// so a missing tool or a non-zero exit just yields an empty sequence.
func (e *Enumerator) Enumerate(ctx context.Context) []Entry {
	cmd := exec.CommandContext(ctx, e.Tool, e.Args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		_ = level.Debug(e.Logger).Log("msg", "hub enumerator tool unavailable or failed; continuing without power-controllable hubs", "tool", e.Tool, "err", err)
		return nil
	}
	return Parse(stdout.String())
}
