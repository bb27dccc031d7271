// Package main implements waypointd, the process execution daemon and its
// operator CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides the default config file location.
	configPath string

	// Version information, set by ldflags.
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "waypointd",
	Short: "Tenant-scoped process execution daemon",
	Long: `waypointd runs registered processes on behalf of tenants, either
synchronously or through a polled background queue, and keeps their
execution history and results.

Examples:
  # Start the daemon (HTTP health, metrics and the queue worker)
  waypointd serve

  # List registered processes
  waypointd processes

  # Queue a process for the worker
  waypointd enqueue semantic-search --tenant acme --journey j-1 --inputs '{"query":"onboarding"}'`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/waypoint/config.yaml)")
	rootCmd.SetVersionTemplate(versionString() + "\n")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processesCmd)
	rootCmd.AddCommand(journeyCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func versionString() string {
	return fmt.Sprintf("waypointd %s (commit %s, built %s)", version, gitCommit, buildDate)
}
