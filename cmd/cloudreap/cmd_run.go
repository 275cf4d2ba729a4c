package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudreap/cloudreap/config"
	"github.com/cloudreap/cloudreap/gateway/openstack"
	"github.com/cloudreap/cloudreap/internal/daemon"
	"github.com/cloudreap/cloudreap/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a single cleanup cycle and exit",
	Long: `Execute one cleanup cycle over all configured tenants and exit.

Useful for cron-driven setups and for verifying a new configuration against
a live cloud without starting the daemon.`,
	RunE: runOnceCmd,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runOnceCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	sink, closer, err := telemetry.OpenSink(cfg.General.Log.Location)
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	logger := telemetry.NewLogger("cloudreap", sink, cfg.General.LogLevel())

	d, err := daemon.New(cfg, openstack.New(), logger, "")
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := d.RunOnce(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("tenants=%d listed=%d candidates=%d deleted=%d failed=%d in-use=%d incomplete=%v\n",
		report.Tenants, report.ResourcesListed, report.Candidates,
		report.Deleted, report.Failed, report.InUse, report.Incomplete)
	return nil
}
