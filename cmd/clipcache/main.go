// clipcache: a shared clipboard store with cross-format synthesis.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clipcache",
		Short: "Shared clipboard store with format synthesis",
		Long: `clipcache keeps one clipboard shared between processes and hosts. Every
format put on it is stored once; formats nobody supplied (CF_UNICODETEXT from
CF_TEXT, CF_DIB from CF_BITMAP, ...) are synthesized on first request.

Run "clipcache server" on the host that holds the store. Use "clipcache put",
"get", "formats", "empty", "status" and "register" as CLI tools; they use the
local IPC socket when a server runs on this host and gRPC over TLS otherwise.
"clipcache mirror" keeps another host's OS clipboard in step with a server.

Config file search order (first found wins):
  /etc/clipcache/clipcache.toml
  $HOME/.config/clipcache/clipcache.toml
  path supplied via --config

All flags can be set via CLIPCACHE_<FLAG> env vars or config-file keys.
"clipcache config init" writes a config file with the defaults.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServerCmd(),
		newMirrorCmd(),
		newPutCmd(),
		newGetCmd(),
		newFormatsCmd(),
		newEmptyCmd(),
		newRegisterCmd(),
		newStatusCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clipcache %s\n", Version)
		},
	}
}
