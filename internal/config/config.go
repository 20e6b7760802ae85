// SPDX-License-Identifier: Apache-2.0

// Package config loads the paths and daemon tuning shared by both
// binaries (spec.md section 6 / SPEC_FULL.md component O), binding an
// optional YAML config file, flags, and environment variables through
// spf13/viper the same way the teacher's config.go does.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/efficientgo/core/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Env var names, unchanged from spec.md section 6.
const (
	EnvConf    = "USB_DEVICE_CONF"
	EnvDB      = "USB_DEVICE_DB"
	EnvLockDir = "USB_DEVICE_LOCK_DIR"
	EnvPython  = "USB_DEVICE_PYTHON"
	EnvDir     = "USB_DEVICE_DIR"
	EnvBin     = "USB_DEVICE_BIN"
	EnvVersion = "USB_DEVICE_VERSION"
)

// Version is overridden at link time by release builds; the
// USB_DEVICE_VERSION environment variable overrides it again at
// runtime, for packaging environments that stamp it post-build.
var Version = "0.1.0"

// Config is the resolved set of paths and tool overrides every
// subcommand needs.
type Config struct {
	// ConfPath is the devices.conf registry file.
	ConfPath string
	// DBPath is the locations.json location cache.
	DBPath string
	// LockDir is the lock root directory (spec.md section 4.H).
	LockDir string
	// PythonOverride names an external port-enumerator helper to shell
	// out to instead of the native go.bug.st/serial listing. Accepted
	// for compatibility with the variable name the original tool used;
	// the native enumerator never shells out, so this is recorded but
	// otherwise unused.
	PythonOverride string
	// PluginDir is the user plugin search directory (internal/plugin's
	// second search location, after the bundled directory).
	PluginDir string
	// HubTool overrides the external power-controllable-hub tool name
	// or path (default internal/hubenum.DefaultTool / uhubctl).
	HubTool string
	// Version overrides the reported CLI version string.
	Version string
}

// Defaults returns the baseline paths, rooted under the user's config
// directory, used when no flag/env/config-file value is supplied.
func Defaults() Config {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = "."
	}
	root := filepath.Join(base, "usb-device")
	return Config{
		ConfPath: filepath.Join(root, "devices.conf"),
		DBPath:   filepath.Join(root, "locations.json"),
		LockDir:  filepath.Join(root, "locks"),
		Version:  Version,
	}
}

// Load binds flags already registered on fs, environment variables,
// and (if present) a YAML config file, following the teacher's
// initConfig: viper.BindPFlags + AutomaticEnv + SetEnvKeyReplacer, then
// a best-effort ReadInConfig that tolerates a missing file.
func Load(fs *pflag.FlagSet, cfgFile string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return cfg, errors.Wrap(err, "failed to bind flags")
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Dir(cfg.ConfPath))
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, errors.Wrap(err, "failed to read config file")
		}
	}

	if s := v.GetString("conf"); s != "" {
		cfg.ConfPath = s
	}
	if s := v.GetString("db"); s != "" {
		cfg.DBPath = s
	}
	if s := v.GetString("lock-dir"); s != "" {
		cfg.LockDir = s
	}
	if s := v.GetString("python"); s != "" {
		cfg.PythonOverride = s
	}
	if s := v.GetString("dir"); s != "" {
		cfg.PluginDir = s
	}
	if s := v.GetString("bin"); s != "" {
		cfg.HubTool = s
	}
	if s := v.GetString("version-override"); s != "" {
		cfg.Version = s
	}
	return cfg, nil
}

// bindEnv wires each USB_DEVICE_* variable to its viper key
// explicitly: the flag names (conf/db/lock-dir/...) don't match the
// env var names closely enough for SetEnvKeyReplacer alone to bridge
// them the way it does for the teacher's dotted "log-level" flag.
func bindEnv(v *viper.Viper) {
	binds := map[string]string{
		"conf":             EnvConf,
		"db":               EnvDB,
		"lock-dir":         EnvLockDir,
		"python":           EnvPython,
		"dir":              EnvDir,
		"bin":              EnvBin,
		"version-override": EnvVersion,
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
	}
}

// RegisterFlags adds the shared path-override flags to fs, so callers
// in both cmd/usb-device and cmd/usb-device-hub expose the same
// surface.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("conf", "", fmt.Sprintf("Path to the device registry file (env %s).", EnvConf))
	fs.String("db", "", fmt.Sprintf("Path to the location cache file (env %s).", EnvDB))
	fs.String("lock-dir", "", fmt.Sprintf("Path to the lock root directory (env %s).", EnvLockDir))
	fs.String("python", "", fmt.Sprintf("External port-enumerator helper override (env %s).", EnvPython))
	fs.String("dir", "", fmt.Sprintf("User plugin search directory (env %s).", EnvDir))
	fs.String("bin", "", fmt.Sprintf("Power-controllable-hub tool override (env %s).", EnvBin))
}
