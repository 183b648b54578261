package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/internal/store"
)

var (
	batchKinds     []string
	batchLimit     int
	batchGroupSize int
)

var batchCmd = &cobra.Command{
	Use:   "batch [contact-id...]",
	Short: "Enrich a set of contacts in bounded concurrent groups",
	Long: `Enrich the given contacts, or every pending contact when no IDs are
passed. Per-contact dedupe and CRM sync are skipped; run a dedupe pass once
the batch is in.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("enrich"); err != nil {
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

		kinds, err := parseKinds(batchKinds)
		if err != nil {
			return err
		}

		ids := args
		if len(ids) == 0 {
			pending, err := st.ListContacts(ctx, store.ContactFilter{
				Status: model.StatusPending,
				Limit:  batchLimit,
			})
			if err != nil {
				return eris.Wrap(err, "list pending contacts")
			}
			for _, c := range pending {
				ids = append(ids, c.ID)
			}
		}
		if len(ids) == 0 {
			zap.L().Info("no contacts to process")
			return nil
		}

		breakers := initBreakers(st)
		processor, err := initProcessor(st, breakers)
		if err != nil {
			return err
		}

		results, err := processor.ProcessBatch(ctx, ids, kinds, batchGroupSize)
		if err != nil {
			return eris.Wrap(err, "process batch")
		}

		var completed, failed, skipped int
		for _, r := range results {
			switch {
			case !r.Acquired:
				skipped++
			case r.Status == model.StatusCompleted:
				completed++
			default:
				failed++
			}
		}
		zap.L().Info("batch complete",
			zap.Int("contacts", len(results)),
			zap.Int("completed", completed),
			zap.Int("failed", failed),
			zap.Int("skipped", skipped),
		)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringSliceVar(&batchKinds, "kinds", nil, "enrichment kinds to run (default per-contact)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 500, "maximum pending contacts to pull when no IDs are given")
	batchCmd.Flags().IntVar(&batchGroupSize, "group-size", 5, "contacts enriched concurrently per group")
	rootCmd.AddCommand(batchCmd)
}
