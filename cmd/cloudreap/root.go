package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configPath string

	rootCmd = &cobra.Command{
		Use:   "cloudreap",
		Short: "OpenStack tenant garbage collector",
		Long: `Cloudreap - OpenStack tenant garbage collector

Cloudreap periodically deletes stale compute instances, disk images and
key-pairs across one or more OpenStack tenants, governed by per-resource-type
age and usage policies, name-exclusion rules and a global concurrency cap.
Everything it has seen and attempted is tracked durably, so runs are
idempotent across restarts.`,
		Version: version,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cloudreap.yaml", "Path to configuration file")
}
