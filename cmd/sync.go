package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/crm"
	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/internal/store"
)

var syncLimit int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push completed contacts to Salesforce",
	Long:  "Creates Salesforce contacts for completed records that are not yet linked, and bulk-refreshes the fields of records that already are.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sfClient, err := initSalesforce()
		if err != nil {
			return err
		}
		syncer := crm.NewSyncer(sfClient, st, cfg.Salesforce.DefaultAccountID)

		contacts, err := st.ListContacts(ctx, store.ContactFilter{
			Status: model.StatusCompleted,
			Limit:  syncLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list completed contacts")
		}

		var created, failed int
		linked := make([]*model.ContactRecord, 0, len(contacts))
		for i := range contacts {
			c := &contacts[i]
			if c.IsDuplicate {
				continue
			}
			if c.SalesforceID != "" {
				linked = append(linked, c)
				continue
			}
			if err := syncer.SyncContact(ctx, c); err != nil {
				failed++
				zap.L().Warn("sync failed",
					zap.String("contact_id", c.ID),
					zap.Error(err),
				)
				continue
			}
			created++
		}

		var refreshed int
		if len(linked) > 0 {
			results, err := syncer.SyncBatch(ctx, linked)
			if err != nil {
				return eris.Wrap(err, "bulk refresh")
			}
			for _, r := range results {
				if r.Success {
					refreshed++
				} else {
					failed++
				}
			}
		}

		zap.L().Info("sync complete",
			zap.Int("created", created),
			zap.Int("refreshed", refreshed),
			zap.Int("failed", failed),
		)
		return nil
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncLimit, "limit", 500, "max contacts to sync")
	rootCmd.AddCommand(syncCmd)
}
