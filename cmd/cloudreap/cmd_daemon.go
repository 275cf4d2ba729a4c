package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/cloudreap/cloudreap/config"
	"github.com/cloudreap/cloudreap/gateway/openstack"
	"github.com/cloudreap/cloudreap/internal/daemon"
	"github.com/cloudreap/cloudreap/telemetry"
)

var daemonMetricsAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the cleanup daemon",
	Long: `Run cloudreap in daemon mode.

On every interval the daemon authenticates each configured tenant, lists its
instances, images and key-pairs, evaluates them against the tenant's cleanup
policies, and deletes what is safe through a globally capped worker pool.
Outcomes are recorded in the tracking database; Prometheus metrics and health
checks are served over HTTP. Ticks that arrive while a run is still active
are skipped, never overlapped.`,
	Example: `  cloudreap daemon --config /etc/cloudreap.yaml
  cloudreap daemon --metrics :9090`,
	RunE: runDaemonCmd,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics", ":2112", "Metrics HTTP server address")
}

func runDaemonCmd(cmd *cobra.Command, args []string) error {
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

	// OTEL metrics surface through the Prometheus registry scraped by the
	// daemon's /metrics endpoint.
	promExporter, err := otelprom.New(otelprom.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter)))

	d, err := daemon.New(cfg, openstack.New(), logger, daemonMetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.Run(context.Background())
}
