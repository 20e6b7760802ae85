// SPDX-License-Identifier: Apache-2.0

// Command usb-device is the CLI front end for the device-fleet
// manager (spec.md section 6 / SPEC_FULL.md component Q).
package main

import (
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/spf13/cobra"

	"github.com/mvalvekens/usb-device/internal/applog"
	"github.com/mvalvekens/usb-device/internal/cache"
	"github.com/mvalvekens/usb-device/internal/config"
	"github.com/mvalvekens/usb-device/internal/hubenum"
	"github.com/mvalvekens/usb-device/internal/lockmgr"
	"github.com/mvalvekens/usb-device/internal/plugin"
	"github.com/mvalvekens/usb-device/internal/portenum"
	"github.com/mvalvekens/usb-device/internal/registry"
)

// app bundles the resolved configuration and every component a
// subcommand might need, built once in the root command's
// PersistentPreRunE, mirroring the teacher's Main() wiring everything
// together up front before handing off to per-concern code.
type app struct {
	cfg   config.Config
	live  bool
	log   log.Logger
	reg   *registry.Registry
	cache *cache.Cache
	locks *lockmgr.Manager

	hubEnum    *hubenum.Enumerator
	portEnum   *portenum.Enumerator
	dispatcher *plugin.Dispatcher
}

func newApp(cfg config.Config, logger log.Logger, live bool) (*app, error) {
	f, err := os.Open(cfg.ConfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry %s: %w", cfg.ConfPath, err)
	}
	defer f.Close()

	reg, err := registry.Parse(f, cfg.ConfPath)
	if err != nil {
		return nil, err
	}

	c, err := cache.Load(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	bundledPluginDir := pluginDirNextToExecutable()
	dispatcher := plugin.New(bundledPluginDir, cfg.PluginDir)

	return &app{
		cfg:        cfg,
		live:       live,
		log:        logger,
		reg:        reg,
		cache:      c,
		locks:      lockmgr.New(cfg.LockDir),
		hubEnum:    hubenum.New(cfg.HubTool, logger),
		portEnum:   portenum.New(logger),
		dispatcher: dispatcher,
	}, nil
}

func pluginDirNextToExecutable() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return exe + "-plugins"
}

var theApp *app

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "usb-device: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
		live     bool
	)

	root := &cobra.Command{
		Use:           "usb-device [NAME cmd [cmd...]]",
		Short:         "Inspect and control the registered USB device fleet",
		SilenceUsage:  true,
		SilenceErrors: true,
		// ArbitraryArgs lets the device-first chain form ("NAME cmd
		// [cmd...]") fall through to RunE when args[0] doesn't match
		// any of the subcommands registered below.
		Args: cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), cfgFile)
			if err != nil {
				return err
			}
			logger, err := applog.New(os.Stderr, logLevel)
			if err != nil {
				return err
			}
			theApp, err = newApp(cfg, logger, live)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runChain(cmd, args)
		},
	}

	fs := root.PersistentFlags()
	fs.StringVar(&cfgFile, "config", "", "Path to a YAML config file.")
	fs.StringVar(&logLevel, "log-level", applog.LevelInfo, fmt.Sprintf("Log level. Possible values: %s.", applog.AvailableLevels))
	fs.BoolVar(&live, "live", true, "Consult live hub/port enumeration instead of only the location cache.")
	config.RegisterFlags(fs)

	root.AddCommand(
		newListCmd(),
		newScanCmd(),
		newCheckCmd(),
		newFindCmd(),
		newTypeCmd(),
		newPortCmd(),
		newResetCmd(),
		newOnCmd(),
		newOffCmd(),
		newCheckoutCmd(),
		newCheckinCmd(),
		newLocksCmd(),
		newVersionCmd(),
	)
	return root
}

