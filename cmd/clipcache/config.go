package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipcache/internal/clip"
	"go.klb.dev/clipcache/internal/clipboard"
	"go.klb.dev/clipcache/internal/locale"
	"go.klb.dev/clipcache/internal/logging"
)

const (
	defaultAddr   = "0.0.0.0:8753"
	defaultServer = "localhost:8753"
)

// envReplacer maps flag names to env names: no-local -> CLIPCACHE_NO_LOCAL.
var envReplacer = strings.NewReplacer("-", "_")

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPCACHE_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → CLIPCACHE_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clipcache")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/clipcache/")
		if dir, err := userConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPCACHE")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "clipcache"), nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addLocaleFlags adds the codepage and render settings every clipboard user needs.
func addLocaleFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Uint32("ansi-codepage", locale.Default.ANSI, "codepage of CF_TEXT")
	f.Uint32("oem-codepage", locale.Default.OEM, "codepage of CF_OEMTEXT")
	f.Duration("render-timeout", clipboard.DefaultRenderTimeout, "how long to wait for another process to render a delayed format")
}

// addClientFlags adds the flags of commands that talk to a server.
func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("server", defaultServer, "server address (used when no local server is running)")
	f.String("token", "", "shared secret (must match server)")
	f.String("source", defaultSource(), "name for this host in the server's process list")
	f.Bool("no-tls", false, "connect without TLS")
	addLocaleFlags(cmd)
	addConfigFlag(cmd)
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	logging.Setup(logging.Resolve(interactive, v.GetString("log-format"), v.GetString("log-level")))
}

// clipboardConfig returns the clipboard settings shared by all commands.
func clipboardConfig(v *viper.Viper) clipboard.Config {
	return clipboard.Config{
		Locale:        locale.Static{ANSI: v.GetUint32("ansi-codepage"), OEM: v.GetUint32("oem-codepage")},
		RenderTimeout: readDuration(v, "render-timeout", clipboard.DefaultRenderTimeout),
	}
}

// fileConfig is the on-disk layout written by "config init". Keys match the
// flag names.
type fileConfig struct {
	Addr          string `toml:"addr"`
	Server        string `toml:"server"`
	Token         string `toml:"token"`
	Source        string `toml:"source,omitempty"`
	NoLocal       bool   `toml:"no-local"`
	NoTLS         bool   `toml:"no-tls"`
	RenderTimeout string `toml:"render-timeout"`
	ANSICodePage  uint32 `toml:"ansi-codepage"`
	OEMCodePage   uint32 `toml:"oem-codepage"`
	PollInterval  string `toml:"poll-interval"`
	LogFormat     string `toml:"log-format"`
	LogLevel      string `toml:"log-level,omitempty"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Addr:          defaultAddr,
		Server:        defaultServer,
		RenderTimeout: clipboard.DefaultRenderTimeout.String(),
		ANSICodePage:  locale.Default.ANSI,
		OEMCodePage:   locale.Default.OEM,
		PollInterval:  clip.DefaultPollInterval.String(),
		LogFormat:     string(logging.FormatAuto),
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with the default settings",
		Long: `Writes the defaults as TOML. Without a path the file goes to
$HOME/.config/clipcache/clipcache.toml. An existing file is kept unless
--force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				dir, err := userConfigDir()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, "clipcache.toml")
			}
			if err := writeConfig(path, defaultFileConfig(), force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func writeConfig(path string, cfg fileConfig, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// readDuration parses a duration key, falling back to def when unset or invalid.
func readDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	return def
}
