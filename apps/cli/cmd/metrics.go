package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/export/metrics"
	"github.com/spf13/cobra"
)

var metricsAddrFlag string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Export a recorded run as Prometheus metrics",
}

var metricsTextfileCmd = &cobra.Command{
	Use:   "textfile <path> [run-id]",
	Short: "Write a recorded run in the node_exporter textfile format",
	Long: `Replay a recorded run (the latest by default) into the Prometheus
collector and write it for the node_exporter textfile collector.

Examples:
  hitrun metrics textfile /var/lib/node_exporter/hitrun.prom`,
	Args: cobra.RangeArgs(1, 2),
	RunE: metricsTextfileCommand,
}

var metricsServeCmd = &cobra.Command{
	Use:   "serve [run-id]",
	Short: "Serve a recorded run on /metrics until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE:  metricsServeCommand,
}

func init() {
	metricsServeCmd.Flags().StringVar(&metricsAddrFlag, "addr", getEnvString("HITRUN_METRICS", ":9464"), "Listen address (env: HITRUN_METRICS)")
	metricsCmd.AddCommand(metricsTextfileCmd)
	metricsCmd.AddCommand(metricsServeCmd)
}

// replay feeds a recorded run through a fresh collector.
func replay(ctx context.Context, runID string) (*metrics.Collector, error) {
	store, err := openHistory()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	files, err := store.LoadFiles(ctx, runID)
	if err != nil {
		return nil, withCode(ExitHistoryError, err)
	}
	c := metrics.NewCollector()
	if err := c.OnCollected(ctx, files); err != nil {
		return nil, err
	}
	if err := c.OnFinished(ctx, files); err != nil {
		return nil, err
	}
	return c, nil
}

func metricsTextfileCommand(cmd *cobra.Command, args []string) error {
	c, err := replay(cmd.Context(), runArg(args[1:]))
	if err != nil {
		return err
	}
	if err := c.WriteTextfile(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote: %s\n", args[0])
	return nil
}

func metricsServeCommand(cmd *cobra.Command, args []string) error {
	c, err := replay(cmd.Context(), runArg(args))
	if err != nil {
		return err
	}
	srv, err := c.Listen(metricsAddrFlag)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on http://%s/metrics\n", srv.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Close(shutdown)
}

