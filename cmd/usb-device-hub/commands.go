// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mvalvekens/usb-device/internal/hubagent"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current channel classification without pushing it to the hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := theApp.agent.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			printChannels(cmd.OutOrStdout(), states)
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Classify devices once and push the result to the hub controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return theApp.agent.SyncOnce(cmd.Context())
		},
	}
}

func newWatchCmd(listen *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the agent's main loop until interrupted, serving /health and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var g run.Group
			{
				mux := http.NewServeMux()
				mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusOK)
				})
				mux.Handle("/metrics", promhttp.HandlerFor(theApp.registry, promhttp.HandlerOpts{}))
				l, err := net.Listen("tcp", *listen)
				if err != nil {
					return fmt.Errorf("failed to listen on %s: %v", *listen, err)
				}
				g.Add(func() error {
					if err := http.Serve(l, mux); err != nil && err != http.ErrServerClosed {
						return fmt.Errorf("server exited unexpectedly: %v", err)
					}
					return nil
				}, func(error) {
					_ = l.Close()
				})
			}
			{
				term := make(chan os.Signal, 1)
				signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)
				cancel := make(chan struct{})
				g.Add(func() error {
					select {
					case <-term:
						_ = theApp.log.Log("msg", "caught interrupt; shutting down")
						return nil
					case <-cancel:
						return nil
					}
				}, func(error) {
					close(cancel)
				})
			}
			{
				ctx, cancel := context.WithCancel(cmd.Context())
				g.Add(func() error {
					return theApp.agent.Run(ctx)
				}, func(error) {
					cancel()
				})
			}
			return g.Run()
		},
	}
}

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Print the platform-specific command to register this agent as an autostart service",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), autostartHint("install"))
			return nil
		},
	}
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Print the platform-specific command to remove this agent's autostart registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), autostartHint("uninstall"))
			return nil
		},
	}
}

// autostartHint names the command a human would run to wire the agent
// into the platform's service manager. Writing launchd plists or
// systemd units is out of scope (spec.md section 1 carves out
// platform service-management wiring as an external collaborator);
// this only tells the operator what to run.
func autostartHint(action string) string {
	exe, err := os.Executable()
	if err != nil {
		exe = "usb-device-hub"
	}
	switch runtime.GOOS {
	case "darwin":
		if action == "install" {
			return fmt.Sprintf("launchctl bootstrap gui/$(id -u) <plist referencing %q watch --hub NAME>", exe)
		}
		return "launchctl bootout gui/$(id -u)/com.usb-device.hub"
	case "linux":
		if action == "install" {
			return fmt.Sprintf("systemctl --user enable --now <unit referencing %q watch --hub NAME>", exe)
		}
		return "systemctl --user disable --now usb-device-hub"
	default:
		return fmt.Sprintf("no known autostart mechanism for GOOS=%s; run %q watch --hub NAME directly", runtime.GOOS, exe)
	}
}

func newLogCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Tail the agent's log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tailLog(cmd.OutOrStdout(), os.Stdin, follow)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep reading as new lines are appended.")
	return cmd
}

// tailLog copies r (the agent's log stream, normally redirected from
// its supervisor) to w a line at a time. follow only affects how EOF
// is handled: without it, EOF ends the command; with it, the reader
// is polled until the command is interrupted.
func tailLog(w io.Writer, r io.Reader, follow bool) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			fmt.Fprint(w, line)
		}
		if err != nil {
			if err != io.EOF {
				return err
			}
			if !follow {
				return nil
			}
			time.Sleep(500 * time.Millisecond)
		}
	}
}

func printChannels(w io.Writer, states map[int]hubagent.ChannelState) {
	channels := make([]int, 0, len(states))
	for ch := range states {
		channels = append(channels, ch)
	}
	sort.Ints(channels)
	for _, ch := range channels {
		s := states[ch]
		fmt.Fprintf(w, "%2d  %-14s  %-12s  %s\n", ch, s.DisplayName, s.State, s.Detail)
	}
}
