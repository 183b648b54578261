package main

import (
	"context"
	"os"
	"time"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/breaker"
	"github.com/sells-group/contact-enrichment/internal/coverage"
	"github.com/sells-group/contact-enrichment/internal/crm"
	"github.com/sells-group/contact-enrichment/internal/dedupe"
	"github.com/sells-group/contact-enrichment/internal/enrich"
	"github.com/sells-group/contact-enrichment/internal/jobs"
	"github.com/sells-group/contact-enrichment/internal/lifecycle"
	"github.com/sells-group/contact-enrichment/internal/provider"
	"github.com/sells-group/contact-enrichment/internal/store"
	anthropicpkg "github.com/sells-group/contact-enrichment/pkg/anthropic"
	"github.com/sells-group/contact-enrichment/pkg/dnc"
	"github.com/sells-group/contact-enrichment/pkg/emailfind"
	"github.com/sells-group/contact-enrichment/pkg/geocode"
	"github.com/sells-group/contact-enrichment/pkg/google"
	"github.com/sells-group/contact-enrichment/pkg/notion"
	"github.com/sells-group/contact-enrichment/pkg/phoneintel"
	sfpkg "github.com/sells-group/contact-enrichment/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "enrich.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initBreakers builds the breaker manager. On Postgres the state is shared
// across workers; on SQLite it is process-local.
func initBreakers(st store.Store) *breaker.Manager {
	settings := make(map[string]breaker.Settings)
	def := breaker.DefaultSettings()
	if cfg.Breakers.Default.FailureThreshold > 0 {
		def.Threshold = cfg.Breakers.Default.FailureThreshold
	}
	if cfg.Breakers.Default.CooldownSecs > 0 {
		def.Cooldown = time.Duration(cfg.Breakers.Default.CooldownSecs) * time.Second
	}
	for _, svc := range provider.Services() {
		settings[svc] = def
	}
	// Paid intelligence APIs trip fast; the review model gets the tolerant
	// profile with a longer cooldown. Explicit config still overrides both.
	sensitive := breaker.SensitiveSettings()
	settings["phone_intel"] = sensitive
	settings["email_finder"] = sensitive
	settings[dedupe.ReviewService] = breaker.Settings{Threshold: 5, Cooldown: 90 * time.Second}
	for svc, bc := range cfg.Breakers.Services {
		s := def
		if bc.FailureThreshold > 0 {
			s.Threshold = bc.FailureThreshold
		}
		if bc.CooldownSecs > 0 {
			s.Cooldown = time.Duration(bc.CooldownSecs) * time.Second
		}
		settings[svc] = s
	}

	if pg, ok := st.(*store.PostgresStore); ok {
		return breaker.NewManager(breaker.NewPostgresStore(pg.Pool(), 10*time.Minute), settings)
	}
	return breaker.NewManager(breaker.NewMemoryStore(10*time.Minute), settings)
}

// initRegistry builds the provider registry from configured credentials.
// Providers without credentials register unconfigured and their tasks are
// skipped at the gateway.
func initRegistry(st store.Store) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	var phoneClient phoneintel.Client
	if pc := cfg.Providers.PhoneIntel; pc.Key != "" {
		opts := []phoneintel.Option{phoneintel.WithRateLimit(pc.RateLimit)}
		if pc.BaseURL != "" {
			opts = append(opts, phoneintel.WithBaseURL(pc.BaseURL))
		}
		phoneClient = phoneintel.NewClient(pc.Key, opts...)
	}

	var emailClient emailfind.Client
	if ec := cfg.Providers.EmailFinder; ec.Key != "" {
		opts := []emailfind.Option{emailfind.WithRateLimit(ec.RateLimit)}
		if ec.BaseURL != "" {
			opts = append(opts, emailfind.WithBaseURL(ec.BaseURL))
		}
		emailClient = emailfind.NewClient(ec.Key, opts...)
	}

	var dncClient dnc.Client
	if dc := cfg.Providers.DNC; dc.Key != "" {
		opts := []dnc.Option{dnc.WithRateLimit(dc.RateLimit)}
		if dc.BaseURL != "" {
			opts = append(opts, dnc.WithBaseURL(dc.BaseURL))
		}
		dncClient = dnc.NewClient(dc.Key, opts...)
	}

	var placesClient google.Client
	if gc := cfg.Providers.Places; gc.Key != "" {
		var opts []google.Option
		if gc.BaseURL != "" {
			opts = append(opts, google.WithBaseURL(gc.BaseURL))
		}
		placesClient = google.NewClient(gc.Key, opts...)
	}

	var idx *coverage.Index
	if cfg.Coverage.ShapefilePath != "" {
		idx = coverage.NewIndex()
		if err := idx.LoadShapefile(cfg.Coverage.ShapefilePath, cfg.Coverage.CodeField, cfg.Coverage.NameField); err != nil {
			return nil, eris.Wrap(err, "load coverage shapefile")
		}
		zap.L().Info("coverage index loaded",
			zap.String("path", cfg.Coverage.ShapefilePath),
			zap.Int("areas", idx.Len()),
		)
	}

	providers := []provider.Provider{
		provider.NewPhoneProvider(phoneClient),
		provider.NewEmailProvider(emailClient),
		provider.NewComplianceProvider(dncClient),
		provider.NewBusinessProvider(placesClient),
		provider.NewAddressProvider(initGeocoder(st)),
		provider.NewCoverageProvider(idx),
	}
	for _, p := range providers {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// initGeocoder returns the address geocoding client. With a Postgres store
// the TIGER geocoder runs first and the Census/Google HTTP geocoder is the
// fallback; without one the HTTP geocoder stands alone.
func initGeocoder(st store.Store) geocode.Client {
	var opts []geocode.Option
	if cfg.Providers.GeocodeKey != "" {
		opts = append(opts, geocode.WithGoogleAPIKey(cfg.Providers.GeocodeKey))
	}
	httpClient := geocode.NewClient(opts...)

	pg, ok := st.(*store.PostgresStore)
	if !ok {
		return httpClient
	}
	pool := pg.Pool()
	return geocode.NewCascadeClient(pool, []geocode.Provider{
		geocode.NewTigerProvider(pool, 22),
		geocode.NewClientProvider("composite", httpClient),
	})
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (ENRICH_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := gosf.Init(gosf.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RateLimit)), nil
}

// initProcessor wires the full contact processing chain: enrichment fan-out
// behind breakers, the dedupe pass, and optional CRM sync.
func initProcessor(st store.Store, breakers *breaker.Manager) (*lifecycle.Processor, error) {
	reg, err := initRegistry(st)
	if err != nil {
		return nil, err
	}
	gateway := provider.NewGateway(breakers, reg)
	coordinator := enrich.NewCoordinator(gateway, enrich.Options{})

	detector := dedupe.NewDetector(st, cfg.Dedupe.Threshold)
	merger := dedupe.NewMerger(st)
	var reviewer *dedupe.Reviewer
	var notifier *dedupe.Notifier
	if cfg.Dedupe.ReviewEnabled {
		reviewer = dedupe.NewReviewer(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model).
			WithBreakers(breakers)
		notifier = dedupe.NewNotifier(notion.NewClient(cfg.Notion.Token), cfg.Notion.ReviewDB)
	}
	deduper := dedupe.NewPipeline(st, detector, merger, reviewer, notifier).
		WithAutoMergeThreshold(cfg.Dedupe.AutoMergeThreshold)

	var syncer lifecycle.CRMSyncer
	if cfg.Salesforce.ClientID != "" {
		sfClient, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		syncer = crm.NewSyncer(sfClient, st, cfg.Salesforce.DefaultAccountID)
	}

	return lifecycle.NewProcessor(st, coordinator, deduper, syncer).
		WithBatchEnricher(coordinator), nil
}

// retryPolicy builds the job retry schedule from config.
func retryPolicy() lifecycle.RetryPolicy {
	p := lifecycle.DefaultRetryPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		p.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.OffsetSecs > 0 {
		p.Offset = time.Duration(cfg.Retry.OffsetSecs) * time.Second
	}
	if cfg.Retry.MaxJitterSecs > 0 {
		p.MaxJitter = time.Duration(cfg.Retry.MaxJitterSecs) * time.Second
	}
	return p
}

// initWorker builds one queue worker around a shared processor.
func initWorker(st store.Store, proc jobs.Processor) *jobs.Worker {
	return jobs.NewWorker(st, proc, retryPolicy(),
		jobs.WithPollInterval(cfg.Worker.PollInterval()))
}
