package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import contacts from a CSV, XLSX, or FTP source",
	Long:  "Reads contact rows from a local CSV or XLSX file, or an ftp:// URL, creates pending contacts, and queues a bulk-mode processing job for each.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		summary, err := ingest.NewImporter(st).Import(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.String("source", args[0]),
			zap.Int("created", summary.Created),
			zap.Int("skipped", summary.Skipped),
			zap.Int("errors", len(summary.Errors)),
		)
		for _, e := range summary.Errors {
			zap.L().Warn("import row error", zap.String("error", e))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
