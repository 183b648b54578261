package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
)

var (
	enrichKinds []string
	enrichBulk  bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <contact-id>",
	Short: "Run the full processing lifecycle for one contact",
	Args:  cobra.ExactArgs(1),
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

		kinds, err := parseKinds(enrichKinds)
		if err != nil {
			return err
		}

		breakers := initBreakers(st)
		processor, err := initProcessor(st, breakers)
		if err != nil {
			return err
		}

		result, err := processor.Process(ctx, args[0], kinds, enrichBulk)
		if err != nil {
			return eris.Wrap(err, "process contact")
		}

		zap.L().Info("processing complete",
			zap.String("contact_id", result.ContactID),
			zap.Bool("acquired", result.Acquired),
			zap.String("status", string(result.Status)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// parseKinds validates --kinds values; empty means every kind.
func parseKinds(raw []string) ([]model.EnrichmentKind, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	kinds := make([]model.EnrichmentKind, 0, len(raw))
	for _, s := range raw {
		k := model.EnrichmentKind(s)
		if !model.ValidEnrichmentKind(k) {
			return nil, eris.Errorf("unknown enrichment kind %q", s)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func init() {
	enrichCmd.Flags().StringSliceVar(&enrichKinds, "kinds", nil, "enrichment kinds to run (default all)")
	enrichCmd.Flags().BoolVar(&enrichBulk, "bulk", false, "suppress the per-contact dedupe pass")
	rootCmd.AddCommand(enrichCmd)
}
