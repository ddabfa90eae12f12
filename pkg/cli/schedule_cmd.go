package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured cron schedules until interrupted",
		Long: "Starts the cron scheduler for the schedules in the config file. " +
			"With --metrics-addr, Prometheus metrics and a health probe are served alongside.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.openDefault(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScheduler(ctx, s)
		},
	}
}

// runScheduler serves the schedules and the optional metrics endpoint until
// ctx is done.
func runScheduler(ctx context.Context, s *session) error {
	if len(s.cfg.Schedules) == 0 {
		s.logger.Warn("no schedules configured")
	}
	if err := s.app.Scheduler.Start(ctx); err != nil {
		return err
	}
	defer s.app.Scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, s.cfg.Metrics.Addr, s.registry, s.logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}
