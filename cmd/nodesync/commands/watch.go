package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nodesync/nodesync/pkg/report"
	"github.com/nodesync/nodesync/pkg/spool"
)

func newWatchCommand() *cobra.Command {
	var spoolDir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the spool directory and process run records as they arrive",
		Long: `Run nodesync as a long-lived process: watch the spool directory the
report hook drops run records into, process each record as it
appears, and archive it afterwards.

When metrics are enabled in the configuration, a Prometheus endpoint
is served for the lifetime of the watch.`,
		Example: `  # Watch the configured spool directory
  nodesync watch

  # Watch an explicit directory
  nodesync watch --spool /var/spool/nodesync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, buildVersion)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			dir := spoolDir
			if dir == "" {
				dir = a.cfg.Spool.Dir
			}
			if dir == "" {
				return fmt.Errorf("no spool directory configured; set spool.dir or pass --spool")
			}

			if handler := a.metrics.Handler(); handler != nil {
				mux := http.NewServeMux()
				mux.Handle(a.metrics.Path(), handler)
				srv := &http.Server{
					Addr:              a.cfg.Telemetry.Metrics.ListenAddress,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error().Err(err).Msg("metrics endpoint failed")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.logger.Info().
					Str("addr", a.cfg.Telemetry.Metrics.ListenAddress).
					Str("path", a.metrics.Path()).
					Msg("metrics endpoint listening")
			}

			watcher := spool.NewWatcher(dir, a.cfg.Spool.ArchiveDir, a.cfg.Spool.Debounce,
				func(ctx context.Context, run *report.Run) error {
					_, err := processRun(ctx, a, run)
					return err
				}, a.logger)

			err = watcher.Watch(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&spoolDir, "spool", "", "spool directory to watch (overrides config)")

	return cmd
}
