package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queue workers without the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		breakers := initBreakers(st)
		processor, err := initProcessor(st, breakers)
		if err != nil {
			return err
		}

		count := workerCount
		if count == 0 {
			count = cfg.Worker.Concurrency
		}

		zap.L().Info("starting workers", zap.Int("count", count))

		eg, egCtx := errgroup.WithContext(ctx)
		for i := 0; i < count; i++ {
			w := initWorker(st, processor)
			eg.Go(func() error { return w.Run(egCtx) })
		}
		return eg.Wait()
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "count", 0, "number of workers (default from config)")
	rootCmd.AddCommand(workerCmd)
}
