package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/txn-audit/internal/ingest"
	"github.com/sells-group/txn-audit/internal/ledger"
	"github.com/sells-group/txn-audit/internal/monitoring"
	"github.com/sells-group/txn-audit/internal/normalize"
	"github.com/sells-group/txn-audit/internal/resilience"
	"github.com/sells-group/txn-audit/internal/schema"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor the watch directory and report each new file once",
	Long:  "Creates the watch and report directories, loads the processed-file ledger and polls until SIGINT or SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("watch"); err != nil {
			return err
		}

		lc := loopConfig(cfg)
		if err := ingest.EnsureDirs(lc); err != nil {
			return err
		}

		lock, err := ingest.AcquireLock(lc.WatchDir)
		if err != nil {
			return err
		}
		defer lock.Release() //nolint:errcheck

		sch, err := schema.Load(cfg.Schema.Path)
		if err != nil {
			return err
		}

		st, err := ledger.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		led, err := ledger.Load(ctx, st, resilience.DefaultRetryConfig())
		if err != nil {
			return eris.Wrap(err, "watch: load ledger")
		}

		metrics := monitoring.NewMetrics()
		loop := ingest.New(lc, led,
			ingest.WithNormalizer(normalize.New(sch)),
			ingest.WithObserver(metrics),
		)
		collector := monitoring.NewCollector(st, cfg.Monitoring.StuckAttempts)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return loop.Run(gctx)
		})

		if cfg.Metrics.Addr != "" {
			g.Go(func() error {
				return monitoring.Serve(gctx, cfg.Metrics.Addr, monitoring.NewRouter(metrics, collector))
			})
		}

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
		zap.L().Info("shutdown complete", zap.Int("ledger_entries", led.Len()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
