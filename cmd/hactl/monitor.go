package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ajpantuso/hactl/internal/driver"
	"github.com/Ajpantuso/hactl/internal/health"
	"github.com/Ajpantuso/hactl/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

func newMonitorCommand(v *viper.Viper) *cobra.Command {
	var (
		bindAddress string
		interval    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "monitor <scope>",
		Short: "Export the state of a cluster as Prometheus metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := args[0]
			ctx := cmd.Context()

			conn, err := dial(ctx, v, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer conn.Close()

			d, err := conn.driver(scope)
			if err != nil {
				return err
			}

			hc := health.NewHealthChecker(conn.session, logger)

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", hc.Liveness)
			mux.HandleFunc("/ready", hc.Readiness)
			server := &http.Server{Addr: bindAddress, Handler: mux}

			go func() {
				logger.Infow("Starting metrics server", "address", bindAddress)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorw("Metrics server error", "error", err)
				}
			}()

			logger.Infow("Monitoring cluster", "scope", scope)
			monitor(ctx, d, conn.metrics, hc, interval)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&bindAddress, "metrics-bind-address", ":8080", "Address for metrics and health endpoints")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Longest wait between cluster reloads")

	return cmd
}

// monitor reloads the snapshot whenever the store reports a change, or after
// interval at the latest, until ctx is done.
func monitor(ctx context.Context, d *driver.Driver, m *metrics.Metrics, hc *health.HealthChecker, interval time.Duration) {
	for ctx.Err() == nil {
		c, err := d.GetCluster(ctx)
		if err != nil {
			logger.Warnw("Failed to load cluster", "scope", d.Scope(), "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
			continue
		}
		m.ObserveCluster(d.Scope(), c)
		hc.SetReady(true)
		d.Watch(ctx, interval)
	}
}
