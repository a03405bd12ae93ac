package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/txn-audit/internal/ingest"
	"github.com/sells-group/txn-audit/internal/ledger"
)

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Remove a file from the ledger so it is processed again",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("forget"); err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("file")

		held, err := ingest.Held(cfg.Watch.Dir)
		if err != nil {
			return err
		}
		if held {
			return eris.Errorf("forget: a watch process holds %s; stop it first", cfg.Watch.Dir)
		}

		st, err := ledger.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.Forget(ctx, name)
		if err != nil {
			return eris.Wrapf(err, "forget %s", name)
		}
		if n == 0 {
			fmt.Fprintf(os.Stderr, "No ledger entries for %s.\n", name)
			return nil
		}
		fmt.Printf("Forgot %d ledger entries for %s.\n", n, name)
		return nil
	},
}

func init() {
	forgetCmd.Flags().String("file", "", "file name relative to watch.dir (required)")
	_ = forgetCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(forgetCmd)
}
