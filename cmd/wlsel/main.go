// wlsel: clipboard and primary selection exchange between local and remote
// clients.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/wlsel/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "wlsel",
		Short: "Clipboard and primary selection server",
		Long: `wlsel keeps two selections, the clipboard and the primary selection,
and moves their contents between clients through pipes the way a Wayland
compositor does. Each selection remembers every MIME type its owner offered;
readers ask for the one they want.

Run "wlsel server" once per host. Use "wlsel copy/paste/clear/status/watch"
from any shell on that host (via the local socket) or from elsewhere (over
TLS with --server and --token).

Config file search order (first found wins):
  /etc/wlsel/wlsel.toml
  $HOME/.config/wlsel/wlsel.toml
  path supplied via --config

All flags can be set via WLSEL_<FLAG> env vars or config-file keys.
See "wlsel server --help" for the full flag reference.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServerCmd(),
		newCopyCmd(),
		newPasteCmd(),
		newClearCmd(),
		newStatusCmd(),
		newWatchCmd(),
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
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("wlsel %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
