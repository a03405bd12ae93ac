package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/txn-audit/internal/ledger"
	"github.com/sells-group/txn-audit/internal/model"
	"github.com/sells-group/txn-audit/internal/monitoring"
)

const timeLayout = "2006-01-02 15:04"

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show processed files and recent failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := ledger.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st, cfg.Monitoring.StuckAttempts).Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		entries, err := st.ListProcessed(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		formatStatus(os.Stdout, snap, entries)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the status snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}

// formatStatus writes the ledger contents and failures to out.
func formatStatus(out io.Writer, snap *monitoring.StatusSnapshot, entries []model.LedgerEntry) {
	_, _ = fmt.Fprintf(out, "Processed files: %d (%d rows, %d exceptions)\n",
		snap.ProcessedFiles, snap.TotalRows, snap.TotalExceptions)
	_, _ = fmt.Fprintf(out, "Failing files:   %d (%d stuck)\n\n", snap.FailingFiles, snap.StuckFiles)

	if len(entries) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "FILE\tCHECKSUM\tROWS\tEXCEPTIONS\tPROCESSED\tREPORT")
		_, _ = fmt.Fprintln(w, "----\t--------\t----\t----------\t---------\t------")
		for _, e := range entries {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				e.Name, shortSum(e.Checksum), e.Rows, e.Exceptions,
				e.ProcessedAt.Format(timeLayout), e.ReportPath)
		}
		_ = w.Flush()
	}

	if len(snap.Failures) > 0 {
		_, _ = fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "FAILED FILE\tCHECKSUM\tSTAGE\tATTEMPTS\tLAST FAILURE\tERROR")
		_, _ = fmt.Fprintln(w, "-----------\t--------\t-----\t--------\t------------\t-----")
		for _, f := range snap.Failures {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				f.Name, shortSum(f.Checksum), f.Stage, f.Attempts,
				f.FailedAt.Format(timeLayout), truncate(f.Error, 80))
		}
		_ = w.Flush()
	}
}

func shortSum(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
