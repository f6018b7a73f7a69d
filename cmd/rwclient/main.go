package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/fentz26/rwclient/internal/config"
	"github.com/fentz26/rwclient/internal/controlplane"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rwclient",
	Short: "rwclient - Roundware session client",
	Long: `rwclient keeps a session with a Roundware audio server. The daemon owns
the session; the other commands talk to it over its local API.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of rwclient",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rwclient version %s\n", controlplane.Version)
		fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("  Go version: %s\n", runtime.Version())
	},
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the client config file")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(heartbeatCmd, submitCmd, eventCmd, voteCmd, skipCmd, playCmd, stopCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
