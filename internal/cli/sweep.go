package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/capa/internal/wire"
)

const shutdownTimeout = 10 * time.Second

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one overdue reconciliation pass now",
	Long: `Re-derive every corrective action that is not aborted and refresh overdue
flags against the current time (or --at). Only items whose stored state
differs are written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now().UTC()
		if at, _ := cmd.Flags().GetString("at"); at != "" {
			t, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("invalid --at '%s': use RFC 3339, e.g. 2026-03-01T12:00:00Z", at)
			}
			now = t.UTC()
		}

		adapter, err := wire.SweepAdapter()
		if err != nil {
			return err
		}
		return adapter.Run(cmd.Context(), now)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the periodic sweep until interrupted",
	Long: `Run the reconciliation sweep on the configured interval (sweep.interval,
default 5m) until SIGINT or SIGTERM. A tick that arrives while a sweep is
still running is skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, err := wire.Scheduler()
		if err != nil {
			return err
		}
		cfg, err := wire.Config()
		if err != nil {
			return err
		}
		log := wire.Logger()
		if !cfg.Sweep.Enabled {
			log.Warn().Msg("sweep.enabled is false; serve will idle until interrupted")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return sched.Start(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info().Msg("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return sched.Stop(shutdownCtx)
		})

		return g.Wait()
	},
}

// SweepCmd returns the sweep command
func SweepCmd() *cobra.Command {
	sweepCmd.Flags().String("at", "", "Reference time for overdue evaluation (RFC 3339, default now)")
	return sweepCmd
}

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	return serveCmd
}
