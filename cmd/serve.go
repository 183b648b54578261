package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contact-enrichment/internal/monitoring"
	"github.com/sells-group/contact-enrichment/internal/provider"
	"github.com/sells-group/contact-enrichment/internal/server"
	"github.com/sells-group/contact-enrichment/internal/webhook"
)

var (
	servePort    int
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook intake server and queue workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
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

		guard := webhook.NewGuard(st, st)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port()),
			Handler:           server.New(st, guard, breakers).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		workers := serveWorkers
		if workers == 0 {
			workers = cfg.Worker.Concurrency
		}

		eg, egCtx := errgroup.WithContext(ctx)
		for i := 0; i < workers; i++ {
			w := initWorker(st, processor)
			eg.Go(func() error { return w.Run(egCtx) })
		}

		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(st, breakers, provider.Services())
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			eg.Go(func() error {
				checker.Run(egCtx)
				return nil
			})
		}

		eg.Go(func() error {
			<-egCtx.Done()
			zap.L().Info("shutting down server")
			return srv.Shutdown(cmd.Context())
		})

		zap.L().Info("starting server",
			zap.Int("port", port()),
			zap.Int("workers", workers),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stop()
			_ = eg.Wait()
			return eris.Wrap(err, "server listen")
		}

		return eg.Wait()
	},
}

func port() int {
	if servePort != 0 {
		return servePort
	}
	return cfg.Server.Port
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "queue workers to run in-process (default from config)")
	rootCmd.AddCommand(serveCmd)
}
