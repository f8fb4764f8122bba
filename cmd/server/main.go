package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arhyth/atmledger"
)

func main() {
	cfp := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := atmledger.LoadConfig(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading config file")
	}
	logger = cfg.Logger()
	zerolog.SetGlobalLevel(logger.GetLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		logger.Fatal().Err(err).Int64("node_id", cfg.NodeID).Msg("error creating id node")
	}
	store, err := atmledger.OpenStore(ctx, cfg, node, &logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("error starting database")
	}
	defer store.Close(context.Background())

	if cfg.Database.Driver == atmledger.DriverMemory {
		accts, err := atmledger.SeedAccounts(ctx, store.Accounts(), cfg.SeedAccounts)
		if err != nil {
			logger.Fatal().Err(err).Msg("error seeding in-memory accounts")
		}
		logger.Info().Int("accounts", len(accts)).Msg("seeded in-memory accounts")
	}

	strategies, err := atmledger.NewDefaultRegistry(cfg.Pricing)
	if err != nil {
		logger.Fatal().Err(err).Msg("error building pricing strategies")
	}
	core, err := atmledger.NewService(store.Accounts(), store.Transactions(), strategies, &logger, atmledger.ServiceOpts{
		ConflictRetries: cfg.Service.ConflictRetries,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting service")
	}

	metrics := atmledger.NewMetrics()
	svc := atmledger.Chain(core,
		atmledger.NewInstrumentingMiddleware(metrics),
		atmledger.NewValidationMiddleware(strategies),
		atmledger.NewCircuitBreakMiddleware(atmledger.NewServiceBreaker(cfg.Breaker, &logger)),
		atmledger.NewLimitMiddleware(atmledger.NewServiceLimits(cfg.Limits)),
	)

	mux := chi.NewMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Mount("/", atmledger.NewHTTPHandler(svc, &logger))

	servers := []*http.Server{{Addr: cfg.Server.Addr, Handler: mux}}
	if cfg.Server.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		servers = append(servers, &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	if err = g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}
