// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvalvekens/usb-device/internal/cache"
	"github.com/mvalvekens/usb-device/internal/lockmgr"
	"github.com/mvalvekens/usb-device/internal/power"
	"github.com/mvalvekens/usb-device/internal/resolver"
	"github.com/mvalvekens/usb-device/internal/scanner"
)

// resolveOpts builds resolver.Options from the app's --live setting.
func (a *app) resolveOpts() resolver.Options {
	return resolver.Options{Live: a.live, HubEnum: a.hubEnum, PortEnum: a.portEnum, Logger: a.log}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered device and its current status",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, dev := range theApp.reg.Devices {
				resolved, err := resolver.Resolve(cmd.Context(), dev.Name, theApp.reg, theApp.cache, theApp.resolveOpts())
				status := "unknown"
				if err == nil {
					status = fmt.Sprintf("%s %s (%s)", resolved.Hub, resolved.Port, resolved.Link)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-10s %s\n", dev.Name, dev.Type, status)
			}
			return nil
		},
	}
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Cross-join the registry against live hub/port evidence and refresh the location cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := scanner.Scan(cmd.Context(), theApp.reg, theApp.cache, theApp.hubEnum, theApp.portEnum, time.Now())
			if err != nil {
				return err
			}
			found := 0
			for _, r := range results {
				tag := "[missing]"
				if r.Found {
					tag = "[found]"
					found++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s %s (%s)\n", tag, r.Device.Name, r.Record.Hub, r.Record.Port, r.Record.Link)
				if r.Found && r.Record.Link == cache.LinkNoHub {
					fmt.Fprintln(cmd.OutOrStdout(), "no power-switchable hub")
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scan complete: %d device(s) found\n", found)
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that every dependency this fleet needs is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			ok := true

			if _, err := exec.LookPath(theApp.hubEnum.Tool); err != nil {
				fmt.Fprintf(out, "[FAIL] hub tool %q not found on PATH\n", theApp.hubEnum.Tool)
				ok = false
			} else {
				fmt.Fprintf(out, "[ok] hub tool %q\n", theApp.hubEnum.Tool)
			}

			types := make(map[string]bool)
			for _, dev := range theApp.reg.Devices {
				types[dev.Type] = true
			}
			typeNames := make([]string, 0, len(types))
			for t := range types {
				typeNames = append(typeNames, t)
			}
			sort.Strings(typeNames)

			for _, t := range typeNames {
				output, has, err := theApp.dispatcher.Check(ctx, t)
				switch {
				case !has:
					fmt.Fprintf(out, "[skip] type %q declares no check\n", t)
				case err != nil:
					fmt.Fprintf(out, "[FAIL] type %q: %v\n", t, err)
					ok = false
				default:
					fmt.Fprintf(out, "[ok] type %q: %s\n", t, output)
				}
			}

			if !ok {
				return fmt.Errorf("one or more dependency checks failed")
			}
			return nil
		},
	}
}

func newFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find NAME",
		Short: "Print the resolved hub/port/link/type/id/dev for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolver.Resolve(cmd.Context(), args[0], theApp.reg, theApp.cache, theApp.resolveOpts())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hub: %s\n", resolved.Hub)
			fmt.Fprintf(out, "port: %s\n", resolved.Port)
			fmt.Fprintf(out, "link: %s\n", resolved.Link)
			fmt.Fprintf(out, "type: %s\n", resolved.Device.Type)
			fmt.Fprintf(out, "id: %s\n", resolved.Identifier)
			fmt.Fprintf(out, "dev: %s\n", resolved.Dev)
			return nil
		},
	}
}

func newTypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "type NAME",
		Short: "Print a device's plugin type tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolver.Resolve(cmd.Context(), args[0], theApp.reg, theApp.cache, theApp.resolveOpts())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resolved.Device.Type)
			return nil
		},
	}
}

func newPortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "port NAME",
		Short: "Print a device's current OS device path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolver.Resolve(cmd.Context(), args[0], theApp.reg, theApp.cache, theApp.resolveOpts())
			if err != nil {
				return err
			}
			if resolved.Dev == "" {
				return fmt.Errorf("no current device path known for %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), resolved.Dev)
			return nil
		},
	}
}

func (a *app) powerEngine() *power.Engine {
	return power.New(a.cfg.HubTool, a.portEnum, a.cache, a.locks, a.log)
}

func newResetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset NAME",
		Short: "Power-cycle a device's port, escalating to the whole hub if it doesn't reappear",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolver.Resolve(cmd.Context(), args[0], theApp.reg, theApp.cache, theApp.resolveOpts())
			if err != nil {
				return err
			}
			return theApp.powerEngine().Reset(cmd.Context(), resolved, force, confirmOnStdin(cmd))
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt and cycle the whole hub immediately if needed.")
	return cmd
}

func confirmOnStdin(cmd *cobra.Command) power.Confirm {
	return func(siblings []string) bool {
		fmt.Fprintf(cmd.OutOrStdout(), "Device did not reappear after a port cycle. Cycling the whole hub also affects: %s\nProceed? [y/N] ", strings.Join(siblings, ", "))
		reader := bufio.NewReader(cmd.InOrStdin())
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(strings.ToLower(line))
		return line == "y" || line == "yes"
	}
}

func newOnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "on NAME",
		Short: "Power on a device's port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolver.Resolve(cmd.Context(), args[0], theApp.reg, theApp.cache, theApp.resolveOpts())
			if err != nil {
				return err
			}
			return theApp.powerEngine().On(cmd.Context(), resolved)
		},
	}
}

func newOffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "off NAME",
		Short: "Power off a device's port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolver.Resolve(cmd.Context(), args[0], theApp.reg, theApp.cache, theApp.resolveOpts())
			if err != nil {
				return err
			}
			return theApp.powerEngine().Off(cmd.Context(), resolved)
		},
	}
}

func newCheckoutCmd() *cobra.Command {
	var (
		owner   string
		purpose string
		ttl     time.Duration
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "checkout NAME",
		Short: "Take an advisory lock on a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := lockmgr.CheckoutOptions{Owner: owner, Purpose: purpose, TTL: ttl, Wait: wait, WaitTimeout: timeout}
			if err := theApp.locks.Checkout(cmd.Context(), args[0], opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Checked out")
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Lock owner (defaults to user@host).")
	cmd.Flags().StringVar(&purpose, "purpose", "", "Human-readable reason for the lock.")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Lock lifetime before it's considered stale (default 30m).")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for a conflicting lock to be released instead of failing immediately.")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Maximum time to wait when --wait is set.")
	return cmd
}

func newCheckinCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "checkin NAME",
		Short: "Release an advisory lock on a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := theApp.locks.Checkin(args[0], force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Checked in")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Release the lock even if it's held live by someone else.")
	return cmd
}

func newLocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locks",
		Short: "List every held lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := theApp.locks.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range statuses {
				stale := ""
				if s.Stale {
					stale = " (stale)"
				}
				fmt.Fprintf(out, "%-24s pid=%d owner=%s purpose=%q%s\n", s.Slug, s.Info.PID, s.Info.Owner, s.Info.Purpose, stale)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "usb-device %s\n", theApp.cfg.Version)
			return nil
		},
	}
}

// chainActions are the subset of subcommands valid in the device-first
// chain form ("NAME cmd [cmd...]"), per spec.md section 6.
var chainActions = map[string]func(ctx context.Context, cmd *cobra.Command, resolved resolver.ResolvedDevice) error{
	"on": func(ctx context.Context, cmd *cobra.Command, resolved resolver.ResolvedDevice) error {
		return theApp.powerEngine().On(ctx, resolved)
	},
	"off": func(ctx context.Context, cmd *cobra.Command, resolved resolver.ResolvedDevice) error {
		return theApp.powerEngine().Off(ctx, resolved)
	},
	"reset": func(ctx context.Context, cmd *cobra.Command, resolved resolver.ResolvedDevice) error {
		return theApp.powerEngine().Reset(ctx, resolved, false, confirmOnStdin(cmd))
	},
	"find": func(ctx context.Context, cmd *cobra.Command, resolved resolver.ResolvedDevice) error {
		fmt.Fprintf(cmd.OutOrStdout(), "hub=%s port=%s link=%s type=%s id=%s dev=%s\n",
			resolved.Hub, resolved.Port, resolved.Link, resolved.Device.Type, resolved.Identifier, resolved.Dev)
		return nil
	},
	"type": func(ctx context.Context, cmd *cobra.Command, resolved resolver.ResolvedDevice) error {
		fmt.Fprintln(cmd.OutOrStdout(), resolved.Device.Type)
		return nil
	},
	"port": func(ctx context.Context, cmd *cobra.Command, resolved resolver.ResolvedDevice) error {
		fmt.Fprintln(cmd.OutOrStdout(), resolved.Dev)
		return nil
	},
}

// runChain implements the "NAME cmd [cmd...]" invocation form: args[0]
// names a device, resolved once; every following word is run against
// it in order, stopping at the first failure.
func runChain(cmd *cobra.Command, args []string) error {
	name := args[0]
	if len(args) < 2 {
		return fmt.Errorf("unknown command %q (and no chained commands were given)", name)
	}

	resolved, err := resolver.Resolve(cmd.Context(), name, theApp.reg, theApp.cache, theApp.resolveOpts())
	if err != nil {
		return err
	}

	for _, word := range args[1:] {
		action, ok := chainActions[word]
		if !ok {
			return fmt.Errorf("unknown chained command %q", word)
		}
		if err := action(cmd.Context(), cmd, resolved); err != nil {
			return err
		}
	}
	return nil
}
