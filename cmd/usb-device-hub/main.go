// SPDX-License-Identifier: Apache-2.0

// Command usb-device-hub is the display-hub agent process (spec.md
// section 6 / SPEC_FULL.md component K): it runs the classify-and-push
// main loop against one "[hub:NAME]" registry section, or inspects
// that loop's state one-shot via status/sync.
package main

import (
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mvalvekens/usb-device/internal/applog"
	"github.com/mvalvekens/usb-device/internal/config"
	"github.com/mvalvekens/usb-device/internal/hotplug"
	"github.com/mvalvekens/usb-device/internal/hubagent"
	"github.com/mvalvekens/usb-device/internal/portenum"
	"github.com/mvalvekens/usb-device/internal/probe"
	"github.com/mvalvekens/usb-device/internal/registry"
)

// app bundles the resolved configuration and agent wiring shared by
// every subcommand, built once in the root command's
// PersistentPreRunE, mirroring cmd/usb-device's theApp.
type app struct {
	cfg config.Config
	log log.Logger

	reg      *registry.Registry
	hubCfg   registry.HubConfig
	agent    *hubagent.Agent
	registry *prometheus.Registry
}

func newApp(cfg config.Config, logger log.Logger, hubName string) (*app, error) {
	f, err := os.Open(cfg.ConfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry %s: %w", cfg.ConfPath, err)
	}
	defer f.Close()

	reg, err := registry.Parse(f, cfg.ConfPath)
	if err != nil {
		return nil, err
	}

	hubCfg, ok := reg.Hubs[hubName]
	if !ok {
		return nil, fmt.Errorf("registry %s has no [hub:%s] section", cfg.ConfPath, hubName)
	}

	settings, err := decodeHubSettings(hubCfg.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode [hub:%s] settings: %w", hubName, err)
	}
	topology := hubagent.HubTopologyPrefix(settings.Location)
	if topology == "" {
		return nil, fmt.Errorf("[hub:%s] is missing location= (needed to derive its topology prefix)", hubName)
	}
	channels := settings.Channels
	if channels == 0 {
		channels = hubagent.DefaultChannels
	}

	portEnum := portenum.New(logger)
	prober := probe.New(logger)
	source, err := hotplug.New(logger)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	agentCfg := hubagent.Config{Name: hubName, Topology: topology, Channels: channels}
	a := hubagent.New(agentCfg, reg, hubCfg, portEnum, prober, source, logger, hubagent.NewMetrics(promReg))

	return &app{cfg: cfg, log: logger, reg: reg, hubCfg: hubCfg, agent: a, registry: promReg}, nil
}

// hubSettings is the typed view of a "[hub:NAME]" section's raw
// string fields that this agent cares about beyond the controller
// lookup fields resolveControllerPath reads directly.
type hubSettings struct {
	Location string `mapstructure:"location"`
	Channels int    `mapstructure:"channels"`
}

// decodeHubSettings mirrors the teacher's device-spec decoding
// (config.go's getConfiguredDevices): a mapstructure.Decoder built
// with WeaklyTypedInput so the registry's plain strings (e.g.
// channels="4") convert straight into typed fields.
func decodeHubSettings(fields map[string]string) (hubSettings, error) {
	var settings hubSettings
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &settings,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return settings, err
	}
	if err := decoder.Decode(fields); err != nil {
		return settings, err
	}
	return settings, nil
}

var theApp *app

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "usb-device-hub: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
		hubName  string
		listen   string
	)

	root := &cobra.Command{
		Use:           "usb-device-hub",
		Short:         "Run or inspect the display-hub agent for one configured hub",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), cfgFile)
			if err != nil {
				return err
			}
			logger, err := applog.New(os.Stderr, logLevel)
			if err != nil {
				return err
			}
			if hubName == "" {
				return fmt.Errorf("--hub is required")
			}
			theApp, err = newApp(cfg, logger, hubName)
			return err
		},
	}

	fs := root.PersistentFlags()
	fs.StringVar(&cfgFile, "config", "", "Path to a YAML config file.")
	fs.StringVar(&logLevel, "log-level", applog.LevelInfo, fmt.Sprintf("Log level. Possible values: %s.", applog.AvailableLevels))
	fs.StringVar(&hubName, "hub", "", "Name of the [hub:NAME] registry section this agent serves.")
	fs.StringVar(&listen, "listen", "127.0.0.1:9110", "Address for the /health and /metrics HTTP endpoints (watch only).")
	config.RegisterFlags(fs)

	root.AddCommand(
		newStatusCmd(),
		newSyncCmd(),
		newWatchCmd(&listen),
		newInstallCmd(),
		newUninstallCmd(),
		newLogCmd(),
	)
	return root
}
