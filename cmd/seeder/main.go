package main

import (
	"context"
	"flag"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"

	"github.com/arhyth/atmledger"
)

func main() {
	cfp := flag.String("config", "config.yml", "path to configuration file")
	sqlDir := flag.String("sql", "testdata", "directory holding init_db.sql")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := atmledger.LoadConfig(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading config file")
	}
	if cfg.Database.Driver == atmledger.DriverMemory {
		logger.Fatal().Msg("nothing to seed for the memory driver")
	}

	ctx := context.Background()
	if cfg.Database.Driver == atmledger.DriverPostgres {
		lh, err := atmledger.NewLocalHelper(ctx, cfg.Database.ConnectionString, *sqlDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("error starting local helper")
		}
		if _, err = lh.InitDB(ctx); err != nil {
			logger.Fatal().Err(err).Msg("error initializing database")
		}
		if err = lh.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("error closing local helper")
		}
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		logger.Fatal().Err(err).Msg("error creating id node")
	}
	store, err := atmledger.OpenStore(ctx, cfg, node, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error opening store")
	}
	defer store.Close(ctx)

	accts, err := atmledger.SeedAccounts(ctx, store.Accounts(), cfg.SeedAccounts)
	if err != nil {
		logger.Fatal().Err(err).Msg("error seeding accounts")
	}
	for _, a := range accts {
		logger.Info().
			Str("account_id", a.ID).
			Str("account_number", a.Number).
			Stringer("balance", a.Balance).
			Msg("account seeded")
	}
}
