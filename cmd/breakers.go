package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/breaker"
	"github.com/sells-group/contact-enrichment/internal/provider"
)

var breakersCmd = &cobra.Command{
	Use:   "breakers",
	Short: "Inspect and administer circuit breakers",
}

var breakersStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the breaker state of every provider service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		breakers := initBreakers(st)

		states := make([]breaker.State, 0, len(provider.Services()))
		for _, svc := range provider.Services() {
			state, err := breakers.State(ctx, svc)
			if err != nil {
				return err
			}
			states = append(states, state)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	},
}

var breakersOpenCmd = &cobra.Command{
	Use:   "force-open <service>",
	Short: "Force a service's circuit open",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := initBreakers(st).ForceOpen(ctx, args[0]); err != nil {
			return err
		}
		zap.L().Info("circuit forced open", zap.String("service", args[0]))
		return nil
	},
}

var breakersCloseCmd = &cobra.Command{
	Use:   "force-close <service>",
	Short: "Force a service's circuit closed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := initBreakers(st).ForceClose(ctx, args[0]); err != nil {
			return err
		}
		zap.L().Info("circuit forced closed", zap.String("service", args[0]))
		return nil
	},
}

func init() {
	breakersCmd.AddCommand(breakersStatusCmd, breakersOpenCmd, breakersCloseCmd)
	rootCmd.AddCommand(breakersCmd)
}
