package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/txn-audit/internal/config"
	"github.com/sells-group/txn-audit/internal/ingest"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "txn-audit",
	Short: "Audit transaction exports dropped into a watched folder",
	Long:  "Polls a directory for transaction files, runs the audit rules over each new file once, and writes an XLSX exception report per file.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// loopConfig maps application config onto the ingestion session.
func loopConfig(c *config.Config) ingest.Config {
	return ingest.Config{
		WatchDir:     c.Watch.Dir,
		ReportDir:    c.Report.Dir,
		Pattern:      c.Watch.Pattern,
		PollInterval: c.Watch.PollInterval,
		SampleRows:   c.Report.SampleRows,
		ReportPrefix: c.Report.Prefix,
		Charset:      c.Watch.Encoding,
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
